package yosegi

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// evalFunc adapts a closure to the RecipeEvaluator interface so tests can
// populate packages programmatically.
type evalFunc func(p *Package, path string) error

func (f evalFunc) Eval(p *Package, path string) error {
	return f(p, path)
}

func newTestWorld(t *testing.T, evaluator RecipeEvaluator) *World {
	t.Helper()
	cfg := &Config{
		Features:         make(map[string]string),
		DefaultNamespace: "native",
		QuietPackages:    true,
	}
	if evaluator == nil {
		evaluator = NewBasicEvaluator()
	}
	w, err := NewWorld(cfg, t.TempDir(), evaluator, NewExecutor(context.Background()))
	require.NoError(t, err)
	return w
}

// writeRecipe drops a recipe file where the overlay search finds it and
// returns its absolute path.
func writeRecipe(t *testing.T, w *World, name, content string) string {
	t.Helper()
	dir := filepath.Join(w.pwd, "package", name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	file := filepath.Join(dir, filepath.Base(name)+".lua")
	require.NoError(t, os.WriteFile(file, []byte(content), 0o644))
	return file
}

// writeBaseRecipe creates the entry recipe at the root of the work tree.
func writeBaseRecipe(t *testing.T, w *World, name, content string) string {
	t.Helper()
	file := filepath.Join(w.pwd, name+".lua")
	require.NoError(t, os.WriteFile(file, []byte(content), 0o644))
	return file
}

// findTestPackage registers (or returns) a package in the default
// namespace; the recipe file must already exist.
func findTestPackage(t *testing.T, w *World, name string) *Package {
	t.Helper()
	p, err := w.findNameSpace("native").findPackage(name)
	require.NoError(t, err)
	return p
}

func readFileString(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}
