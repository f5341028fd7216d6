package yosegi

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// fetchFrom tries to satisfy this package from the remote build cache. The
// cache is keyed by the build-info hash; a hit must deliver the usable
// sentinel, both tarballs and (for hash_output packages) the output-info
// file, or the package falls through to a local build.
func (p *Package) fetchFrom() error {
	w := p.world
	bd := p.builddir()
	base := fmt.Sprintf("%s/%s/%s/%s", w.buildCache, p.ns.getName(), p.name, p.buildinfoHash)

	type artifact struct {
		fname string
		dest  string
	}
	artifacts := []artifact{
		{"usable", ""},
		{"staging.tar", p.stagingTarball()},
		{"install.tar", p.installTarball()},
	}
	if p.hashOutput {
		artifacts = append(artifacts, artifact{"output.info", filepath.Join(bd.getPath(), outputInfoFile)})
	}

	for _, a := range artifacts {
		if err := w.cacheGet(base+"/"+a.fname, a.dest); err != nil {
			return fmt.Errorf("cache miss for %s: %w", a.fname, err)
		}
	}

	// The cache delivered everything; commit the fingerprint without
	// regenerating the output info we just downloaded.
	return p.updateBuildInfo(false)
}

// cacheGet fetches one cache artifact. An empty destination only probes for
// existence (the usable sentinel). Downloads land in a temp file and are
// renamed into place so a failed transfer never clobbers an output.
func (w *World) cacheGet(url, dest string) error {
	resp, err := w.httpClient.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	if dest == "" {
		_, err := io.Copy(io.Discard, resp.Body)
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".part-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
