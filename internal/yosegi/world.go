package yosegi

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// World is the process-wide orchestrator: it owns the namespaces (and so
// every package), the feature map, the run modes, and the scheduler loop
// that walks the dependency DAG.
type World struct {
	pwd       string
	cfg       *Config
	exec      *Executor
	evaluator RecipeEvaluator

	features        *FeatureMap
	overlays        []string
	ignoredFeatures map[string]bool
	forced          []string
	gitRefPairs     []gitRefIfAblePair

	buildCache   string
	tarballCache string
	httpClient   *http.Client
	uploader     *S3Client

	quietPackages bool
	keepStaging   bool
	cleanPackages bool

	parseOnly bool
	keepGoing bool
	fetchOnly bool

	threadsLimit int

	nsMu       sync.Mutex
	namespaces map[string]*NameSpace

	graph *internalGraph

	condLock       sync.Mutex
	cond           *sync.Cond
	threadsRunning int
	failed         bool
	failedPackages []*Package
	fatalErr       error
}

// NewWorld wires a world from its configuration. The evaluator is the only
// external collaborator; everything else comes from the config.
func NewWorld(cfg *Config, pwd string, evaluator RecipeEvaluator, exec *Executor) (*World, error) {
	pairs, err := parseGitRefIfAblePatterns(cfg.GitReferenceDirs)
	if err != nil {
		return nil, err
	}

	w := &World{
		pwd:             pwd,
		cfg:             cfg,
		exec:            exec,
		evaluator:       evaluator,
		features:        newFeatureMap(),
		overlays:        append([]string{}, cfg.Overlays...),
		ignoredFeatures: make(map[string]bool),
		gitRefPairs:     pairs,
		buildCache:      strings.TrimRight(cfg.BuildCache, "/"),
		tarballCache:    cfg.TarballCache,
		httpClient:      &http.Client{Timeout: 300 * time.Second},
		quietPackages:   cfg.QuietPackages,
		keepStaging:     cfg.KeepStaging,
		cleanPackages:   cfg.CleanPackages,
		threadsLimit:    cfg.Threads,
		namespaces:      make(map[string]*NameSpace),
	}
	w.cond = sync.NewCond(&w.condLock)

	if len(w.overlays) == 0 {
		w.overlays = []string{"."}
	}
	for k, v := range cfg.Features {
		w.features.Set(k, v, false)
	}
	for _, k := range cfg.IgnoredFeatures {
		w.ignoredFeatures[k] = true
	}

	if cfg.Upload.Bucket != "" {
		uploader, err := NewS3Client(&cfg.Upload)
		if err != nil {
			return nil, err
		}
		w.uploader = uploader
	}

	return w, nil
}

func (w *World) Features() *FeatureMap { return w.features }

func (w *World) SetParseOnly() { w.parseOnly = true }
func (w *World) SetKeepGoing() { w.keepGoing = true }
func (w *World) SetFetchOnly() { w.fetchOnly = true }

func (w *World) AreParseOnly() bool { return w.parseOnly }
func (w *World) AreKeepGoing() bool { return w.keepGoing }
func (w *World) IsFetchOnly() bool { return w.fetchOnly }

func (w *World) SetThreadsLimit(tl int) { w.threadsLimit = tl }

// AddForcedPackage restricts the run to the named packages; everything else
// is suppressed.
func (w *World) AddForcedPackage(name string) {
	w.forced = append(w.forced, name)
}

func (w *World) isForcedMode() bool {
	return len(w.forced) > 0
}

func (w *World) isForced(name string) bool {
	for _, f := range w.forced {
		if f == name {
			return true
		}
	}
	return false
}

// AddOverlayPath prepends (top) or appends a root to the overlay search
// path.
func (w *World) AddOverlayPath(path string, top bool) {
	if top {
		w.overlays = append([]string{path}, w.overlays...)
		return
	}
	w.overlays = append(w.overlays, path)
}

// IgnoreFeature drops the key from every build-info file.
func (w *World) IgnoreFeature(key string) {
	w.ignoredFeatures[key] = true
}

func (w *World) featureIgnored(key string) bool {
	return w.ignoredFeatures[key]
}

// findNameSpace returns the namespace, creating it on first reference.
func (w *World) findNameSpace(name string) *NameSpace {
	w.nsMu.Lock()
	defer w.nsMu.Unlock()
	if ns, ok := w.namespaces[name]; ok {
		return ns
	}
	ns := &NameSpace{name: name, world: w, packages: make(map[string]*Package)}
	w.namespaces[name] = ns
	return ns
}

// findRecipeFile searches the overlays for package/<name>/<base>.lua.
func (w *World) findRecipeFile(name string) (string, error) {
	base := filepath.Base(name)
	for _, overlay := range w.overlays {
		candidate := filepath.Join(overlay, "package", name, base+".lua")
		if !filepath.IsAbs(candidate) {
			candidate = filepath.Join(w.pwd, candidate)
		}
		if fileExists(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: no recipe for package %s", errFileNotFound, name)
}

// setFailed records a failed package. Unless the world keeps going, this
// also stops new workers from being dispatched.
func (w *World) setFailed(p *Package) {
	w.condLock.Lock()
	defer w.condLock.Unlock()
	w.failedPackages = append(w.failedPackages, p)
	w.failed = true
	w.cond.Broadcast()
}

func (w *World) setFatal(err error) {
	w.condLock.Lock()
	defer w.condLock.Unlock()
	w.fatalErr = err
	w.failed = true
	w.cond.Broadcast()
}

// IsFailed reports whether any package failed this run.
func (w *World) IsFailed() bool {
	w.condLock.Lock()
	defer w.condLock.Unlock()
	return w.failed
}

// FailedPackages returns the names of the packages that failed.
func (w *World) FailedPackages() []string {
	w.condLock.Lock()
	defer w.condLock.Unlock()
	var names []string
	for _, p := range w.failedPackages {
		names = append(names, p.getName())
	}
	return names
}

// packageFinished removes a finished package from the DAG and retriggers
// scheduling.
func (w *World) packageFinished(p *Package) {
	w.condLock.Lock()
	defer w.condLock.Unlock()
	if w.graph != nil {
		w.graph.deleteNode(p)
	}
	w.cond.Broadcast()
}

func (w *World) threadEnded() {
	w.condLock.Lock()
	defer w.condLock.Unlock()
	w.threadsRunning--
	w.cond.Broadcast()
}

// BasePackage loads the entry recipe, evaluates the package universe it
// reaches, checks the DAG, and drives the parallel build to completion.
func (w *World) BasePackage(filename string) error {
	abs, err := filepath.Abs(filename)
	if err != nil {
		return err
	}
	if !fileExists(abs) {
		return fmt.Errorf("%w: %s", errFileNotFound, filename)
	}

	name := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	ns := w.findNameSpace(w.cfg.DefaultNamespace)
	p := newPackage(ns, name, relPathOrSelf(w.pwd, abs), abs)
	ns.addPackage(p)

	if err := p.process(); err != nil {
		return err
	}
	if w.parseOnly {
		colArrow.Print("-> ")
		colSuccess.Printf("Parsed %s and its dependencies\n", name)
		return nil
	}

	w.graph = newInternalGraph()
	w.graph.fill(p)
	if err := w.graph.checkForDependencyLoops(); err != nil {
		return err
	}
	if _, err := w.graph.topological(); err != nil {
		return err
	}
	if err := w.graph.output(w.pwd); err != nil {
		debugf("failed to write dependencies.dot: %v\n", err)
	}

	w.schedule()

	w.condLock.Lock()
	fatal := w.fatalErr
	nfailed := len(w.failedPackages)
	w.condLock.Unlock()

	if fatal != nil {
		return fatal
	}
	if nfailed > 0 {
		colArrow.Print("-> ")
		colError.Println("Failed Packages:")
		for _, name := range w.FailedPackages() {
			fmt.Printf("  - %s\n", name)
		}
		return fmt.Errorf("%d package(s) failed", nfailed)
	}
	return nil
}

// schedule is the world loop: dispatch buildable packages to workers while
// the DAG drains, then join the stragglers.
func (w *World) schedule() {
	w.condLock.Lock()
	total := len(w.graph.order)
	for !w.graph.empty() {
		if w.failed && !w.keepGoing {
			break
		}

		var toBuild *Package
		if w.threadsLimit == 0 || w.threadsRunning < w.threadsLimit {
			toBuild = w.graph.topoNext()
		}

		if toBuild == nil {
			if w.threadsRunning == 0 {
				if w.failed {
					// Remaining packages are blocked behind failures.
					break
				}
				// No progress possible with nothing running: the DFS
				// pre-pass should have caught this, but report whatever
				// is stuck.
				cycled := w.graph.getCycledPackages()
				var names []string
				for _, p := range cycled {
					names = append(names, p.getName())
				}
				w.fatalErr = fmt.Errorf("%w: %v", errCycle, names)
				w.failed = true
				break
			}
			w.printStatus(total)
			w.cond.Wait()
			continue
		}

		toBuild.setBuilding()
		w.threadsRunning++
		go w.worker(toBuild)
		w.printStatus(total)
	}

	for w.threadsRunning > 0 {
		w.printStatus(total)
		w.cond.Wait()
	}
	w.condLock.Unlock()

	// Clear the final status line.
	if !w.quietPackages && termWidth() > 0 {
		fmt.Print("\r\033[K")
	}
}

func (w *World) worker(p *Package) {
	defer w.threadEnded()
	if err := p.build(false); err != nil {
		p.log(err.Error())
		colArrow.Print("-> ")
		colError.Printf("%s: %v\n", p.getName(), err)
		w.setFailed(p)
	}
}

// printStatus redraws the one-line progress summary on the terminal. The
// caller holds condLock.
func (w *World) printStatus(total int) {
	if w.quietPackages {
		return
	}
	width := termWidth()
	if width == 0 {
		return
	}

	var building []string
	for _, p := range w.graph.order {
		if p.isBuilding() && !p.isBuilt() {
			building = append(building, p.getName())
		}
	}
	listStr := strings.Join(building, ", ")
	if len(listStr) > 60 {
		listStr = listStr[:57] + "..."
	}

	remaining := len(w.graph.order)
	line := fmt.Sprintf("%s %s %s | %s",
		colArrow.Sprint("->"),
		colSuccess.Sprintf("Building [%d]:", len(building)),
		colNote.Sprint(listStr),
		colSuccess.Sprintf("Done: %d Left: %d", total-remaining, remaining))
	fmt.Print("\r\033[K" + line)
}

// Pwd returns the working directory the output tree is rooted at.
func (w *World) Pwd() string { return w.pwd }

func ensurePwd() (string, error) {
	pwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to determine working directory: %w", err)
	}
	return pwd, nil
}
