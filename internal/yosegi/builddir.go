package yosegi

import (
	"fmt"
	"os"
	"path/filepath"
)

// BuildDir owns the on-disk layout of one package's work area:
//
//	<pwd>/output/<ns>/<name>/work         the build tree
//	<pwd>/output/<ns>/<name>/new/staging  pre-package staging output
//	<pwd>/output/<ns>/<name>/new/install  pre-package install output
//	<pwd>/output/<ns>/<name>/staging      composed staging for this build
//
// The directories are created when the owning package first hands out its
// BuildDir (Package.builddir); the path accessors themselves create nothing.
type BuildDir struct {
	pkg *Package

	pwd        string
	path       string // the working directory
	rpath      string // the working directory, relative to pwd
	staging    string // the staging directory
	newPath    string // the new directory
	newStaging string // the new staging directory
	newInstall string // the new install directory
}

func newBuildDir(p *Package) *BuildDir {
	pwd := p.getPwd()
	base := filepath.Join(pwd, "output", p.getNS().getName(), p.name)
	return &BuildDir{
		pkg:        p,
		pwd:        pwd,
		path:       filepath.Join(base, "work"),
		rpath:      filepath.Join("output", p.getNS().getName(), p.name, "work"),
		staging:    filepath.Join(base, "staging"),
		newPath:    filepath.Join(base, "new"),
		newStaging: filepath.Join(base, "new", "staging"),
		newInstall: filepath.Join(base, "new", "install"),
	}
}

// ensure creates the directory tree. Filesystem errors here are fatal for
// the run, so they propagate.
func (bd *BuildDir) ensure() error {
	for _, d := range []string{bd.path, bd.staging, bd.newStaging, bd.newInstall} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("failed to create build directory %s: %w", d, err)
		}
	}
	return nil
}

func (bd *BuildDir) getPath() string {
	return bd.path
}

// getShortPath is the work directory relative to pwd, so that recorded
// build-info paths stay portable across checkouts.
func (bd *BuildDir) getShortPath() string {
	return bd.rpath
}

func (bd *BuildDir) getStaging() string {
	return bd.staging
}

func (bd *BuildDir) getNewPath() string {
	return bd.newPath
}

func (bd *BuildDir) getNewStaging() string {
	return bd.newStaging
}

func (bd *BuildDir) getNewInstall() string {
	return bd.newInstall
}

// cleanStaging removes the composed staging tree. No-op when the owning
// package suppresses staging removal.
func (bd *BuildDir) cleanStaging() error {
	if bd.pkg.getSuppressRemoveStaging() {
		return nil
	}
	return os.RemoveAll(bd.staging)
}

// clean wipes the new staging/install trees and the composed staging tree.
func (bd *BuildDir) clean() error {
	for _, d := range []string{bd.newStaging, bd.newInstall, bd.staging} {
		if err := os.RemoveAll(d); err != nil {
			return fmt.Errorf("failed to remove %s: %w", d, err)
		}
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("failed to recreate %s: %w", d, err)
		}
	}
	return nil
}

// cleanWorkTree wipes the work directory itself (clean-before-build).
func (bd *BuildDir) cleanWorkTree() error {
	if err := os.RemoveAll(bd.path); err != nil {
		return fmt.Errorf("failed to remove %s: %w", bd.path, err)
	}
	return os.MkdirAll(bd.path, 0o755)
}
