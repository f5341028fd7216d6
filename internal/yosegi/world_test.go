package yosegi

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chainEval wires base -> mid -> leaf, each appending its name to a shared
// order file as its build command.
func chainEval(w *World) evalFunc {
	order := filepath.Join(w.pwd, "order.txt")
	return func(p *Package, path string) error {
		bd := p.Builddir(false)
		switch p.PackageName() {
		case "base":
			if err := p.Depend("mid", "", false); err != nil {
				return err
			}
		case "mid":
			if err := p.Depend("leaf", "", false); err != nil {
				return err
			}
		}
		shellCmd(bd, "echo "+p.PackageName()+" >> "+order)
		return nil
	}
}

func TestBasePackageBuildsInDependencyOrder(t *testing.T) {
	w := newTestWorld(t, nil)
	w.evaluator = chainEval(w)
	writeBaseRecipe(t, w, "base", "package base\n")
	writeRecipe(t, w, "mid", "package mid\n")
	writeRecipe(t, w, "leaf", "package leaf\n")

	require.NoError(t, w.BasePackage(filepath.Join(w.pwd, "base.lua")))

	assert.Equal(t, "leaf\nmid\nbase\n", readFileString(t, filepath.Join(w.pwd, "order.txt")))
	assert.FileExists(t, filepath.Join(w.pwd, "dependencies.dot"))
	assert.FileExists(t, filepath.Join(w.pwd, "output", "native", "install", "base.tar"))
}

func TestBasePackageCycleFailsBeforeBuilding(t *testing.T) {
	w := newTestWorld(t, nil)
	w.evaluator = evalFunc(func(p *Package, path string) error {
		switch p.PackageName() {
		case "base":
			return p.Depend("other", "", false)
		case "other":
			return p.Depend("base", "", false)
		}
		return nil
	})
	writeBaseRecipe(t, w, "base", "package base\n")
	writeRecipe(t, w, "other", "package other\n")

	err := w.BasePackage(filepath.Join(w.pwd, "base.lua"))
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(w.pwd, "output", "native", "staging", "base.tar"))
	assert.NoFileExists(t, filepath.Join(w.pwd, "output", "native", "staging", "other.tar"))
}

func TestKeepGoingBuildsUnaffectedPackages(t *testing.T) {
	w := newTestWorld(t, nil)
	w.evaluator = evalFunc(func(p *Package, path string) error {
		bd := p.Builddir(false)
		switch p.PackageName() {
		case "base":
			if err := p.Depend("bad", "", false); err != nil {
				return err
			}
			if err := p.Depend("good", "", false); err != nil {
				return err
			}
			shellCmd(bd, "true")
		case "bad":
			shellCmd(bd, "exit 1")
		case "good":
			shellCmd(bd, "echo ok > "+bd.NewInstall()+"/ok")
		}
		return nil
	})
	writeBaseRecipe(t, w, "base", "package base\n")
	writeRecipe(t, w, "bad", "package bad\n")
	writeRecipe(t, w, "good", "package good\n")
	w.SetKeepGoing()

	err := w.BasePackage(filepath.Join(w.pwd, "base.lua"))
	require.Error(t, err)

	assert.Equal(t, []string{"bad"}, w.FailedPackages())
	assert.FileExists(t, filepath.Join(w.pwd, "output", "native", "install", "good.tar"))
	// base is blocked behind the failure.
	assert.NoFileExists(t, filepath.Join(w.pwd, "output", "native", "install", "base.tar"))
}

func TestParseOnlySkipsBuilding(t *testing.T) {
	w := newTestWorld(t, nil)
	w.evaluator = chainEval(w)
	writeBaseRecipe(t, w, "base", "package base\n")
	writeRecipe(t, w, "mid", "package mid\n")
	writeRecipe(t, w, "leaf", "package leaf\n")
	w.SetParseOnly()

	require.NoError(t, w.BasePackage(filepath.Join(w.pwd, "base.lua")))
	assert.NoFileExists(t, filepath.Join(w.pwd, "order.txt"))
	assert.NoFileExists(t, filepath.Join(w.pwd, "output", "native", "install", "base.tar"))
}

func TestFetchOnlySkipsCommands(t *testing.T) {
	w := newTestWorld(t, nil)
	w.evaluator = chainEval(w)
	writeBaseRecipe(t, w, "base", "package base\n")
	writeRecipe(t, w, "mid", "package mid\n")
	writeRecipe(t, w, "leaf", "package leaf\n")
	w.SetFetchOnly()

	require.NoError(t, w.BasePackage(filepath.Join(w.pwd, "base.lua")))
	assert.NoFileExists(t, filepath.Join(w.pwd, "order.txt"))
	assert.NoFileExists(t, filepath.Join(w.pwd, "output", "native", "install", "base.tar"))
}

func TestThreadLimitIsRespected(t *testing.T) {
	w := newTestWorld(t, nil)
	w.SetThreadsLimit(1)
	w.evaluator = chainEval(w)
	writeBaseRecipe(t, w, "base", "package base\n")
	writeRecipe(t, w, "mid", "package mid\n")
	writeRecipe(t, w, "leaf", "package leaf\n")

	require.NoError(t, w.BasePackage(filepath.Join(w.pwd, "base.lua")))
	assert.Equal(t, "leaf\nmid\nbase\n", readFileString(t, filepath.Join(w.pwd, "order.txt")))
}

func TestFindRecipeFileSearchesOverlays(t *testing.T) {
	w := newTestWorld(t, nil)
	extra := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(extra, "package", "x"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(extra, "package", "x", "x.lua"), []byte("package x\n"), 0o644))

	_, err := w.findRecipeFile("x")
	require.Error(t, err)

	w.AddOverlayPath(extra, true)
	path, err := w.findRecipeFile("x")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(extra, "package", "x", "x.lua"), path)
}
