package yosegi

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// FetchUnit describes a single way of retrieving a file or directory.
// Hashes are computed lazily and cached; fetch is idempotent.
type FetchUnit interface {
	fetch(bd *BuildDir) error
	HASH() (string, error)
	relativePath() string
	// forceUpdated is true when the unit's contents cannot be trusted to be
	// unchanged between runs (links and copies); the owning package is then
	// rebuilt unconditionally.
	forceUpdated() bool
}

// Fetch is the ordered collection of a package's fetch units.
type Fetch struct {
	units []FetchUnit
}

func (f *Fetch) add(fu FetchUnit) {
	f.units = append(f.units, fu)
}

func (f *Fetch) fetch(bd *BuildDir) error {
	for _, unit := range f.units {
		if err := unit.fetch(bd); err != nil {
			return err
		}
	}
	return nil
}

// localSourceHash fabricates a hash for a linked/copied-in source: the git
// HEAD commit (plus a dirty marker when the working tree differs from HEAD)
// when the target is a git tree, a content hash otherwise.
func localSourceHash(target string) (string, error) {
	if isDir(filepath.Join(target, ".git")) {
		sum, err := gitHash(target)
		if err != nil {
			return "", err
		}
		if gitIsDirty(target) {
			dirty, err := gitDiffHash(target)
			if err != nil {
				return "", err
			}
			sum = sum + "-dirty-" + dirty
		}
		return sum, nil
	}
	if isDir(target) {
		return hashTree(target)
	}
	return hashFile(target)
}

// LinkFetch links a local file or directory into the work tree instead of
// copying it. Always considered updated.
type LinkFetch struct {
	uri  string
	hash string
	pkg  *Package
}

func newLinkFetch(uri string, p *Package) *LinkFetch {
	return &LinkFetch{uri: uri, pkg: p}
}

func (lf *LinkFetch) fetch(bd *BuildDir) error {
	target, err := lf.pkg.absoluteFetchPath(lf.uri)
	if err != nil {
		return err
	}
	cmd := exec.Command("ln", "-sf", target, ".")
	cmd.Dir = bd.getPath()
	if err := lf.pkg.world.exec.Run(cmd); err != nil {
		return fmt.Errorf("%w: failed to link %s: %v", errFetchFailed, lf.uri, err)
	}
	return nil
}

func (lf *LinkFetch) HASH() (string, error) {
	if lf.hash != "" {
		return lf.hash, nil
	}
	target, err := lf.pkg.absoluteFetchPath(lf.uri)
	if err != nil {
		return "", err
	}
	sum, err := localSourceHash(target)
	if err != nil {
		return "", err
	}
	lf.hash = sum
	return sum, nil
}

func (lf *LinkFetch) relativePath() string {
	return filepath.Base(strings.TrimRight(lf.uri, "/"))
}

func (lf *LinkFetch) forceUpdated() bool {
	return true
}

// CopyFetch copies a local file or directory into the work tree, preserving
// links, modes and times and only overwriting older targets.
type CopyFetch struct {
	uri  string
	hash string
	pkg  *Package
}

func newCopyFetch(uri string, p *Package) *CopyFetch {
	return &CopyFetch{uri: uri, pkg: p}
}

func (cf *CopyFetch) fetch(bd *BuildDir) error {
	target, err := cf.pkg.absoluteFetchPath(cf.uri)
	if err != nil {
		return err
	}
	cmd := exec.Command("cp", "-dpRuf", target, ".")
	cmd.Dir = bd.getPath()
	if err := cf.pkg.world.exec.Run(cmd); err != nil {
		return fmt.Errorf("%w: failed to copy %s: %v", errFetchFailed, cf.uri, err)
	}
	return nil
}

func (cf *CopyFetch) HASH() (string, error) {
	if cf.hash != "" {
		return cf.hash, nil
	}
	target, err := cf.pkg.absoluteFetchPath(cf.uri)
	if err != nil {
		return "", err
	}
	sum, err := localSourceHash(target)
	if err != nil {
		return "", err
	}
	cf.hash = sum
	return sum, nil
}

func (cf *CopyFetch) relativePath() string {
	return filepath.Base(strings.TrimRight(cf.uri, "/"))
}

func (cf *CopyFetch) forceUpdated() bool {
	return true
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
