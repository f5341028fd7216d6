package yosegi

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitRecipeFields(t *testing.T) {
	fields, err := splitRecipeFields(`cmd . sh -c 'echo "hi" > out'`)
	require.NoError(t, err)
	assert.Equal(t, []string{"cmd", ".", "sh", "-c", `echo "hi" > out`}, fields)

	fields, err = splitRecipeFields(`feature name "two words"`)
	require.NoError(t, err)
	assert.Equal(t, []string{"feature", "name", "two words"}, fields)

	_, err = splitRecipeFields(`cmd . sh 'unterminated`)
	assert.Error(t, err)
}

func TestBasicEvaluatorPopulatesPackage(t *testing.T) {
	w := newTestWorld(t, nil)
	writeRecipe(t, w, "dep", "# empty\n")
	recipe := writeBaseRecipe(t, w, "a", strings.Join([]string{
		"# a sample recipe",
		"depend dep",
		"feature toolchain gcc",
		"feature toolchain",
		"cmd . sh -c 'true' env:FOO=bar",
		"installfile artifact.bin",
		"keepstaging",
		"hashoutput",
		"intercept staging",
		"",
	}, "\n"))

	p := loadBasePackage(t, w, "a")
	require.NoError(t, NewBasicEvaluator().Eval(p, recipe))

	require.Len(t, p.getDepends(), 1)
	assert.Equal(t, "dep", p.getDepends()[0].getPackage().getName())

	v, ok := p.Feature("toolchain")
	assert.True(t, ok)
	assert.Equal(t, "gcc", v)

	require.Len(t, p.commands, 1)
	assert.Equal(t, []string{"sh", "-c", "true"}, p.commands[0].args)
	assert.Contains(t, p.commands[0].envp, "FOO=bar")
	assert.Contains(t, p.commands[0].envp, "BS_PACKAGE_NAME=a")

	assert.Equal(t, []string{"artifact.bin"}, p.installFiles)
	assert.True(t, p.getSuppressRemoveStaging())
	assert.True(t, p.isHashingOutput())
	assert.True(t, p.interceptStaging)
	assert.False(t, p.interceptInstall)
}

func TestBasicEvaluatorUnknownDirective(t *testing.T) {
	w := newTestWorld(t, nil)
	recipe := writeBaseRecipe(t, w, "a", "frobnicate now\n")
	p := loadBasePackage(t, w, "a")

	err := NewBasicEvaluator().Eval(p, recipe)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown directive")
}

func TestBasicEvaluatorFetchAndExtract(t *testing.T) {
	w := newTestWorld(t, nil)
	recipe := writeBaseRecipe(t, w, "a", strings.Join([]string{
		"fetch method=dl uri=https://example.com/src-1.0.tar.gz",
		"extract",
		"",
	}, "\n"))
	p := loadBasePackage(t, w, "a")

	require.NoError(t, NewBasicEvaluator().Eval(p, recipe))
	assert.Len(t, p.fetch().units, 1)
	assert.Len(t, p.extraction().units, 1)
}

func TestBasicEvaluatorRequire(t *testing.T) {
	w := newTestWorld(t, nil)
	// The required fragment lives at the overlay root and contributes a
	// command plus a fingerprint line.
	writeBaseRecipe(t, w, "common", "cmd . sh -c 'true'\n")
	recipe := writeBaseRecipe(t, w, "a", "require common\n")
	p := loadBasePackage(t, w, "a")

	require.NoError(t, NewBasicEvaluator().Eval(p, recipe))
	assert.Len(t, p.commands, 1)

	found := false
	for _, u := range p.bdesc.units {
		if _, ok := u.(*RequireFileUnit); ok {
			found = true
		}
	}
	assert.True(t, found, "require should record a RequireFile line")

	// A missing optional fragment is silently skipped.
	recipe2 := writeBaseRecipe(t, w, "b", "optionally_require not-there\n")
	p2 := loadBasePackage(t, w, "b")
	require.NoError(t, NewBasicEvaluator().Eval(p2, recipe2))
}
