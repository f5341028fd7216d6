package yosegi

import (
	"fmt"
	"path/filepath"
	"strings"
)

// RecipeEvaluator is the engine's only view of the embedded scripting
// language: given a package handle and its recipe file, it populates the
// package through the exported methods below.
type RecipeEvaluator interface {
	Eval(p *Package, path string) error
}

// FetchSpec carries the arguments of a recipe fetch declaration. Method is
// one of: dl, git, linkgit, link, copyfile, copygit, copy, deps.
type FetchSpec struct {
	Method     string
	URI        string
	Filename   string
	Decompress bool
	Branch     string
	Reponame   string
	To         string
	ListedOnly bool
	CopyTo     string
}

// Name returns the namespace name, as recipes see it.
func (p *Package) Name() string {
	return p.ns.getName()
}

// PackageName returns the package name.
func (p *Package) PackageName() string {
	return p.name
}

// Depend declares a dependency on another package, by name, optionally in
// another namespace. locally forces a fresh build of the dependency
// whenever this package builds.
func (p *Package) Depend(name, namespace string, locally bool) error {
	ns := p.ns
	if namespace != "" {
		ns = p.world.findNameSpace(namespace)
	}
	dep, err := ns.findPackage(name)
	if err != nil {
		return err
	}
	p.depend(dep, locally)
	return nil
}

// Feature queries a feature value, trying "<pkg>:<key>" and the parent
// directory prefixes before the bare key. The query is recorded in the
// build description (a nil line when absent) unless the key is ignored.
func (p *Package) Feature(key string) (string, bool) {
	value, err := p.world.features.getPackageFeature(p.name, key)
	if err != nil {
		if !p.world.featureIgnored(key) {
			p.bdesc.addNilFeatureValue(key)
		}
		return "", false
	}
	if !p.world.featureIgnored(key) {
		p.bdesc.addFeatureValue(key, value)
	}
	return value, true
}

// SetFeature stores a feature value in the process-wide map.
func (p *Package) SetFeature(key, value string, override bool) {
	p.world.features.Set(key, value, override)
}

// Builddir returns the package build directory handle; clean requests a
// work-tree wipe before the build runs.
func (p *Package) Builddir(clean bool) *BuildDir {
	if clean {
		p.setCleanBeforeBuild()
	}
	return p.builddir()
}

// Intercept truncates transitive traversal at this package during install
// and/or staging composition.
func (p *Package) Intercept(install, staging bool) {
	p.setIntercept(install, staging)
}

// KeepStaging prevents the composed staging tree from being removed after
// the build.
func (p *Package) KeepStaging() {
	p.setSuppressRemoveStaging(true)
}

// HashOutput makes dependents fingerprint this package's output contents
// instead of its build-info.
func (p *Package) HashOutput() {
	p.setHashOutput(true)
}

// Require resolves a recipe fragment, records it in the build description,
// and returns the path for the evaluator to process. Missing files are
// fatal.
func (p *Package) Require(name string) (string, error) {
	fname := name + ".lua"
	path, err := p.relativeFetchPath(fname, true)
	if err != nil {
		return "", err
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(p.getPwd(), abs)
	}
	sum, err := hashFile(abs)
	if err != nil {
		return "", err
	}
	p.bdesc.addRequireFile(fname, sum)
	return abs, nil
}

// OptionallyRequire is Require for files that may not exist; absence is not
// an error and records nothing.
func (p *Package) OptionallyRequire(name string) (string, error) {
	path, err := p.Require(name)
	if err != nil {
		return "", nil
	}
	return path, nil
}

// OverlayAdd prepends an overlay root to the search path.
func (p *Package) OverlayAdd(path string) {
	p.world.AddOverlayPath(path, true)
}

// Path accessors recipes read from the build directory table.
func (bd *BuildDir) Path() string { return bd.path }
func (bd *BuildDir) ShortPath() string { return bd.rpath }
func (bd *BuildDir) Staging() string { return bd.staging }
func (bd *BuildDir) NewStaging() string { return bd.newStaging }
func (bd *BuildDir) NewInstall() string { return bd.newInstall }

// cmdDir resolves a recipe-given directory for a command: absolute paths
// pass through, dl/ paths are taken relative to pwd, everything else is
// relative to the work tree.
func (bd *BuildDir) cmdDir(dir string) string {
	if strings.HasPrefix(dir, "/") {
		return dir
	}
	if strings.HasPrefix(dir, "dl/") {
		return filepath.Join(bd.pwd, dir)
	}
	return filepath.Join(bd.path, dir)
}

// shortDir is the same resolution kept relative to pwd, for fingerprint
// lines that must stay portable across checkouts.
func (bd *BuildDir) shortDir(dir string) string {
	if strings.HasPrefix(dir, "/") || strings.HasPrefix(dir, "dl/") {
		return dir
	}
	return filepath.Join(bd.rpath, dir)
}

// Fetch declares a source acquisition step. Depending on the method this
// adds a fetch unit, an extraction unit, or both; the returned handle can
// be passed to Extract for archive methods.
func (bd *BuildDir) Fetch(spec FetchSpec) (FetchUnit, error) {
	p := bd.pkg
	var fu FetchUnit

	switch spec.Method {
	case "dl":
		if spec.URI == "" {
			return nil, fmt.Errorf("fetch method = dl requires uri to be set")
		}
		df := newDownloadFetch(spec.URI, spec.Decompress, spec.Filename, p)
		if spec.CopyTo != "" {
			p.extract.add(newFetchedFileCopyExtractionUnit(df, spec.CopyTo))
		}
		fu = df

	case "git":
		if spec.URI == "" {
			return nil, fmt.Errorf("fetch method = git requires uri to be set")
		}
		reponame := spec.Reponame
		if reponame == "" {
			trimmed := strings.TrimRight(spec.URI, "/")
			reponame = trimmed[strings.LastIndex(trimmed, "/")+1:]
			reponame = strings.TrimSuffix(reponame, ".git")
			if reponame == "" {
				return nil, fmt.Errorf("fetch method = git failure parsing uri")
			}
		}
		branch := spec.Branch
		if branch == "" {
			// Default to master
			branch = "origin/master"
		}
		p.extract.add(newGitExtractionUnit(spec.URI, reponame, branch, p))

	case "linkgit":
		if spec.URI == "" {
			return nil, fmt.Errorf("fetch method = linkgit requires uri to be set")
		}
		l, err := p.relativeFetchPath(spec.URI, false)
		if err != nil {
			return nil, err
		}
		l = strings.TrimRight(l, "/")
		l = l[strings.LastIndex(l, "/")+1:]
		eu, err := newLinkGitDirExtractionUnit(spec.URI, l, p)
		if err != nil {
			return nil, err
		}
		p.extract.add(eu)

	case "link":
		if spec.URI == "" {
			return nil, fmt.Errorf("fetch method = link requires uri to be set")
		}
		fu = newLinkFetch(spec.URI, p)

	case "copyfile":
		if spec.URI == "" {
			return nil, fmt.Errorf("fetch method = copyfile requires uri to be set")
		}
		path, err := p.absoluteFetchPath(spec.URI)
		if err != nil {
			return nil, err
		}
		eu, err := newFileCopyExtractionUnit(path, spec.URI)
		if err != nil {
			return nil, err
		}
		p.extract.add(eu)

	case "copygit":
		if spec.URI == "" {
			return nil, fmt.Errorf("fetch method = copygit requires uri to be set")
		}
		src, err := p.relativeFetchPath(spec.URI, false)
		if err != nil {
			return nil, err
		}
		eu, err := newCopyGitDirExtractionUnit(src, ".", p)
		if err != nil {
			return nil, err
		}
		p.extract.add(eu)

	case "copy":
		if spec.URI == "" {
			return nil, fmt.Errorf("fetch method = copy requires uri to be set")
		}
		fu = newCopyFetch(spec.URI, p)

	case "deps":
		path := spec.To
		if !strings.HasPrefix(path, "/") {
			path = filepath.Join(bd.path, path)
		}
		p.setDepsExtract(path, spec.ListedOnly)
		p.log("Will add installed files, considering code updated")
		p.setCodeUpdated()

	default:
		return nil, fmt.Errorf("unsupported fetch method: %q", spec.Method)
	}

	if fu != nil {
		if fu.forceUpdated() {
			p.setCodeUpdated()
		}
		p.f.add(fu)
	}
	return fu, nil
}

// Extract queues the unpacking of a fetched archive into the work tree.
func (bd *BuildDir) Extract(f FetchUnit) {
	if strings.Contains(f.relativePath(), ".zip") {
		bd.pkg.extract.add(newZipExtractionUnitFromFetch(f))
		return
	}
	// The catch all for tar compressed files
	bd.pkg.extract.add(newTarExtractionUnitFromFetch(f))
}

// Cmd declares a build command: a directory (work-tree relative unless
// absolute or under dl/), a program, its arguments, extra environment, and
// whether output is logged. BS_PACKAGE_NAME is always appended.
func (bd *BuildDir) Cmd(dir, prog string, args, env []string, logOutput bool) {
	pc := newPackageCmd(bd.cmdDir(dir), prog, args...)
	for _, e := range env {
		pc.addEnv(e)
	}
	if !logOutput {
		pc.disableLogging()
	}
	pc.addEnv("BS_PACKAGE_NAME=" + bd.pkg.name)
	bd.pkg.addCommand(pc)
}

// Patch queues patches at the given strip level, applied in dir.
func (bd *BuildDir) Patch(dir string, level int, files []string) error {
	for _, fname := range files {
		path, err := bd.pkg.absoluteFetchPath(fname)
		if err != nil {
			return err
		}
		eu, err := newPatchExtractionUnit(level, bd.shortDir(dir), path, fname)
		if err != nil {
			return err
		}
		bd.pkg.extract.add(eu)
	}
	return nil
}

// InstallFile overrides the install tarball with individually copied files.
func (bd *BuildDir) InstallFile(path string) {
	bd.pkg.setInstallFile(path)
}

// Ls lists the files at a recipe-relative location.
func (bd *BuildDir) Ls(path string) ([]string, error) {
	return bd.pkg.listFiles(path)
}

// Restore copies a previously built file from the work tree back out to its
// overlay location, as a build command.
func (bd *BuildDir) Restore(location, method string) error {
	if method != "copyfile" {
		return fmt.Errorf("unsupported restore method: %q", method)
	}
	dest, err := bd.pkg.absoluteFetchPath(location)
	if err != nil {
		return err
	}
	src := location
	if idx := strings.LastIndex(location, "/"); idx >= 0 {
		src = location[idx+1:]
	}
	pc := newPackageCmd(bd.path, "cp", "-pRLuf", src, dest)
	bd.pkg.addCommand(pc)
	return nil
}
