package yosegi

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cacheServer(t *testing.T, missing string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		name := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		if name == missing {
			http.NotFound(rw, r)
			return
		}
		switch name {
		case "usable":
			rw.Write([]byte("usable\n"))
		case "staging.tar":
			rw.Write([]byte("STAGING-TARBALL"))
		case "install.tar":
			rw.Write([]byte("INSTALL-TARBALL"))
		default:
			http.NotFound(rw, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func markerEval(marker string) evalFunc {
	return func(p *Package, path string) error {
		shellCmd(p.Builddir(false), "touch "+marker)
		return nil
	}
}

func TestFetchFromCacheSkipsLocalBuild(t *testing.T) {
	srv, hits := cacheServer(t, "")

	w := newTestWorld(t, nil)
	marker := filepath.Join(w.pwd, "built-locally")
	w.evaluator = markerEval(marker)
	w.buildCache = srv.URL

	writeBaseRecipe(t, w, "a", "package a\n")
	p := loadBasePackage(t, w, "a")
	require.NoError(t, p.process())
	require.NoError(t, p.build(false))

	// The cache supplied everything: no local execution, artifacts in
	// place, fingerprint committed.
	assert.NoFileExists(t, marker)
	assert.False(t, p.wasBuilt.Load())
	assert.True(t, p.isBuilt())
	assert.GreaterOrEqual(t, hits.Load(), int32(3))

	assert.Equal(t, "STAGING-TARBALL",
		readFileString(t, filepath.Join(w.pwd, "output", "native", "staging", "a.tar")))
	assert.Equal(t, "INSTALL-TARBALL",
		readFileString(t, filepath.Join(w.pwd, "output", "native", "install", "a.tar")))
	assert.FileExists(t, filepath.Join(w.pwd, "output", "native", "a", "work", buildInfoFile))
}

func TestCacheMissFallsThroughToLocalBuild(t *testing.T) {
	srv, _ := cacheServer(t, "install.tar")

	w := newTestWorld(t, nil)
	marker := filepath.Join(w.pwd, "built-locally")
	w.evaluator = markerEval(marker)
	w.buildCache = srv.URL

	writeBaseRecipe(t, w, "a", "package a\n")
	p := loadBasePackage(t, w, "a")
	require.NoError(t, p.process())
	require.NoError(t, p.build(false))

	assert.FileExists(t, marker)
	assert.True(t, p.wasBuilt.Load())
}

func TestCacheURLLayout(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		rw.Write([]byte("x"))
	}))
	t.Cleanup(srv.Close)

	w := newTestWorld(t, nil)
	w.evaluator = markerEval(filepath.Join(w.pwd, "m"))
	w.buildCache = srv.URL

	writeBaseRecipe(t, w, "a", "package a\n")
	p := loadBasePackage(t, w, "a")
	require.NoError(t, p.process())
	require.NoError(t, p.build(false))

	require.NotEmpty(t, paths)
	prefix := "/native/a/" + p.buildinfoHash + "/"
	for _, got := range paths {
		assert.True(t, strings.HasPrefix(got, prefix), "unexpected cache path %s", got)
	}
}
