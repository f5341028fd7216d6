package yosegi

import (
	"path/filepath"
	"sort"
	"sync"
)

// NameSpace groups packages and gives each group its own output tree under
// <pwd>/output/<ns>/. Packages are unique by name within a namespace; the
// namespace owns them for the life of the process.
type NameSpace struct {
	name  string
	world *World

	mu       sync.Mutex
	packages map[string]*Package
}

func (ns *NameSpace) getName() string {
	return ns.name
}

// findPackage returns the named package, creating it on first reference.
// The recipe file is resolved through the overlay search path.
func (ns *NameSpace) findPackage(name string) (*Package, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	if p, ok := ns.packages[name]; ok {
		return p, nil
	}

	fileShort := filepath.Join("package", name, filepath.Base(name)+".lua")
	file, err := ns.world.findRecipeFile(name)
	if err != nil {
		return nil, err
	}

	p := newPackage(ns, name, fileShort, file)
	ns.packages[name] = p
	return p, nil
}

// addPackage registers an externally constructed package (used by tests and
// by World.BasePackage, whose recipe path is given rather than searched).
func (ns *NameSpace) addPackage(p *Package) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.packages[p.name] = p
}

func (ns *NameSpace) allPackages() []*Package {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	names := make([]string, 0, len(ns.packages))
	for n := range ns.packages {
		names = append(names, n)
	}
	sort.Strings(names)
	pkgs := make([]*Package, 0, len(names))
	for _, n := range names {
		pkgs = append(pkgs, ns.packages[n])
	}
	return pkgs
}

// getStagingDir is where the archived staging outputs of this namespace live.
func (ns *NameSpace) getStagingDir() string {
	return filepath.Join(ns.world.pwd, "output", ns.name, "staging")
}

// getInstallDir is where the archived install outputs of this namespace live.
func (ns *NameSpace) getInstallDir() string {
	return filepath.Join(ns.world.pwd, "output", ns.name, "install")
}
