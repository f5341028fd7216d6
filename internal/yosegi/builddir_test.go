package yosegi

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDirLayout(t *testing.T) {
	w := newTestWorld(t, nil)
	p := barePackage(w, "zlib")
	bd := p.builddir()

	base := filepath.Join(w.pwd, "output", "native", "zlib")
	assert.Equal(t, filepath.Join(base, "work"), bd.getPath())
	assert.Equal(t, filepath.Join("output", "native", "zlib", "work"), bd.getShortPath())
	assert.Equal(t, filepath.Join(base, "staging"), bd.getStaging())
	assert.Equal(t, filepath.Join(base, "new"), bd.getNewPath())
	assert.Equal(t, filepath.Join(base, "new", "staging"), bd.getNewStaging())
	assert.Equal(t, filepath.Join(base, "new", "install"), bd.getNewInstall())

	// builddir() creates the tree.
	for _, d := range []string{bd.getPath(), bd.getStaging(), bd.getNewStaging(), bd.getNewInstall()} {
		info, err := os.Stat(d)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestBuildDirClean(t *testing.T) {
	w := newTestWorld(t, nil)
	p := barePackage(w, "zlib")
	bd := p.builddir()

	for _, d := range []string{bd.getNewStaging(), bd.getNewInstall(), bd.getStaging()} {
		require.NoError(t, os.WriteFile(filepath.Join(d, "junk"), []byte("x"), 0o644))
	}
	require.NoError(t, bd.clean())
	for _, d := range []string{bd.getNewStaging(), bd.getNewInstall(), bd.getStaging()} {
		assert.NoFileExists(t, filepath.Join(d, "junk"))
		assert.DirExists(t, d)
	}
}

func TestCleanStagingHonoursSuppressFlag(t *testing.T) {
	w := newTestWorld(t, nil)
	p := barePackage(w, "zlib")
	bd := p.builddir()
	junk := filepath.Join(bd.getStaging(), "junk")
	require.NoError(t, os.WriteFile(junk, []byte("x"), 0o644))

	p.setSuppressRemoveStaging(true)
	require.NoError(t, bd.cleanStaging())
	assert.FileExists(t, junk)

	p.setSuppressRemoveStaging(false)
	require.NoError(t, bd.cleanStaging())
	assert.NoDirExists(t, bd.getStaging())
}
