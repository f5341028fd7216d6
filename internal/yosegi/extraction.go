package yosegi

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// ExtractionUnit is a single materialisation step into the work tree. Its
// canonical single-line serialisation goes into the extraction-info file;
// the concatenation of those lines is the extraction fingerprint.
type ExtractionUnit interface {
	printLine() (string, error)
	extract(p *Package) error
}

const (
	extractionInfoFile    = ".extraction.info"
	extractionInfoNewFile = ".extraction.info.new"
)

// compressedFileUnit backs the tar and zip extraction units: the archive is
// either a fetched object or a plain file path.
type compressedFileUnit struct {
	fetch FetchUnit
	uri   string
	hash  string
}

func (cu *compressedFileUnit) HASH() (string, error) {
	if cu.hash != "" {
		return cu.hash, nil
	}
	if cu.fetch != nil {
		sum, err := cu.fetch.HASH()
		if err != nil {
			return "", err
		}
		cu.hash = sum
		return sum, nil
	}
	sum, err := hashFile(cu.uri)
	if err != nil {
		return "", err
	}
	cu.hash = sum
	return sum, nil
}

// archivePath resolves the archive location for extraction: paths recorded
// relative to pwd (dl/...) are made absolute.
func (cu *compressedFileUnit) archivePath(p *Package) string {
	if filepath.IsAbs(cu.uri) {
		return cu.uri
	}
	return filepath.Join(p.getPwd(), cu.uri)
}

// TarExtractionUnit unpacks a tar archive into the work tree.
type TarExtractionUnit struct {
	compressedFileUnit
}

func newTarExtractionUnit(fname string) *TarExtractionUnit {
	return &TarExtractionUnit{compressedFileUnit{uri: fname}}
}

func newTarExtractionUnitFromFetch(f FetchUnit) *TarExtractionUnit {
	return &TarExtractionUnit{compressedFileUnit{fetch: f, uri: f.relativePath()}}
}

func (eu *TarExtractionUnit) printLine() (string, error) {
	sum, err := eu.HASH()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("TarFile %s %s\n", eu.uri, sum), nil
}

func (eu *TarExtractionUnit) extract(p *Package) error {
	if err := extractTar(eu.archivePath(p), p.builddir().getPath(), p.world.exec); err != nil {
		return fmt.Errorf("%w: %v", errExtractFailed, err)
	}
	return nil
}

// ZipExtractionUnit unpacks a zip archive into the work tree.
type ZipExtractionUnit struct {
	compressedFileUnit
}

func newZipExtractionUnit(fname string) *ZipExtractionUnit {
	return &ZipExtractionUnit{compressedFileUnit{uri: fname}}
}

func newZipExtractionUnitFromFetch(f FetchUnit) *ZipExtractionUnit {
	return &ZipExtractionUnit{compressedFileUnit{fetch: f, uri: f.relativePath()}}
}

func (eu *ZipExtractionUnit) printLine() (string, error) {
	sum, err := eu.HASH()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ZipFile %s %s\n", eu.uri, sum), nil
}

func (eu *ZipExtractionUnit) extract(p *Package) error {
	if err := extractZip(eu.archivePath(p), p.builddir().getPath(), p.world.exec); err != nil {
		return fmt.Errorf("%w: %v", errExtractFailed, err)
	}
	return nil
}

// PatchExtractionUnit applies a patch at the declared strip level. The patch
// is dry-run first: a recipe carrying a patch that no longer applies is a
// hard error, not a silent partial application.
type PatchExtractionUnit struct {
	level      int
	patchDir   string // directory the patch is applied in, relative to pwd
	patchFile  string // absolute path to the patch file
	fnameShort string
	hash       string
}

func newPatchExtractionUnit(level int, patchDir, patchFile, fnameShort string) (*PatchExtractionUnit, error) {
	hash, err := hashFile(patchFile)
	if err != nil {
		return nil, err
	}
	return &PatchExtractionUnit{
		level:      level,
		patchDir:   patchDir,
		patchFile:  patchFile,
		fnameShort: fnameShort,
		hash:       hash,
	}, nil
}

func (eu *PatchExtractionUnit) printLine() (string, error) {
	return fmt.Sprintf("PatchFile %d %s %s %s\n", eu.level, eu.patchDir, eu.fnameShort, eu.hash), nil
}

func (eu *PatchExtractionUnit) extract(p *Package) error {
	dir := eu.patchDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(p.getPwd(), dir)
	}

	run := func(dryRun bool) error {
		args := []string{fmt.Sprintf("-p%d", eu.level), "-stN", "-i", eu.patchFile}
		if dryRun {
			args = append(args, "--dry-run")
		}
		cmd := exec.Command("patch", args...)
		cmd.Dir = dir
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out
		if err := p.world.exec.Run(cmd); err != nil {
			p.log(out.String())
			return err
		}
		return nil
	}

	if err := run(true); err != nil {
		p.log(fmt.Sprintf("Patch file: %s", eu.patchFile))
		return fmt.Errorf("%w: will fail to patch: %s", errExtractFailed, eu.fnameShort)
	}
	if err := run(false); err != nil {
		return fmt.Errorf("%w: truly failed to patch: %s", errExtractFailed, eu.fnameShort)
	}
	return nil
}

// FileCopyExtractionUnit copies a file (or tree) into the work tree.
type FileCopyExtractionUnit struct {
	fname      string // absolute path
	fnameShort string
	hash       string
}

func newFileCopyExtractionUnit(fname, fnameShort string) (*FileCopyExtractionUnit, error) {
	hash, err := hashFile(fname)
	if err != nil {
		return nil, err
	}
	return &FileCopyExtractionUnit{fname: fname, fnameShort: fnameShort, hash: hash}, nil
}

func (eu *FileCopyExtractionUnit) printLine() (string, error) {
	return fmt.Sprintf("FileCopy %s %s\n", eu.fnameShort, eu.hash), nil
}

func (eu *FileCopyExtractionUnit) extract(p *Package) error {
	cmd := exec.Command("cp", "-pRLuf", eu.fname, ".")
	cmd.Dir = p.builddir().getPath()
	if err := p.world.exec.Run(cmd); err != nil {
		return fmt.Errorf("%w: failed to copy %s: %v", errExtractFailed, eu.fname, err)
	}
	return nil
}

// FetchedFileCopyExtractionUnit copies a fetched object into the work tree
// under a recipe-chosen name.
type FetchedFileCopyExtractionUnit struct {
	fetched    FetchUnit
	fnameShort string
	hash       string
}

func newFetchedFileCopyExtractionUnit(f FetchUnit, fnameShort string) *FetchedFileCopyExtractionUnit {
	return &FetchedFileCopyExtractionUnit{fetched: f, fnameShort: fnameShort}
}

func (eu *FetchedFileCopyExtractionUnit) HASH() (string, error) {
	if eu.hash != "" {
		return eu.hash, nil
	}
	sum, err := eu.fetched.HASH()
	if err != nil {
		return "", err
	}
	eu.hash = sum
	return sum, nil
}

func (eu *FetchedFileCopyExtractionUnit) printLine() (string, error) {
	sum, err := eu.HASH()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("FetchedFileCopy %s %s\n", eu.fnameShort, sum), nil
}

func (eu *FetchedFileCopyExtractionUnit) extract(p *Package) error {
	src := eu.fetched.relativePath()
	if !filepath.IsAbs(src) {
		src = filepath.Join(p.getPwd(), src)
	}
	if dir := filepath.Dir(eu.fnameShort); dir != "." {
		if err := os.MkdirAll(filepath.Join(p.builddir().getPath(), dir), 0o755); err != nil {
			return fmt.Errorf("%w: %v", errExtractFailed, err)
		}
	}
	cmd := exec.Command("cp", "-pRLuf", src, eu.fnameShort)
	cmd.Dir = p.builddir().getPath()
	if err := p.world.exec.Run(cmd); err != nil {
		return fmt.Errorf("%w: failed to copy fetched file %s: %v", errExtractFailed, src, err)
	}
	return nil
}

// Extraction is the ordered collection of a package's extraction units and
// the owner of the extraction-info file.
type Extraction struct {
	units     []ExtractionUnit
	extracted bool
}

func (e *Extraction) add(eu ExtractionUnit) {
	e.units = append(e.units, eu)
}

func (e *Extraction) empty() bool {
	return len(e.units) == 0
}

func (e *Extraction) print(out *bytes.Buffer) error {
	for _, unit := range e.units {
		line, err := unit.printLine()
		if err != nil {
			return err
		}
		out.WriteString(line)
	}
	return nil
}

func (e *Extraction) extract(p *Package) error {
	for _, unit := range e.units {
		if err := unit.extract(p); err != nil {
			return err
		}
	}
	e.extracted = true
	return nil
}

// prepareNewExtractInfo runs every fetch unit, then records the would-be
// extraction fingerprint as .extraction.info.new.
func (e *Extraction) prepareNewExtractInfo(p *Package, bd *BuildDir) error {
	if err := p.fetch().fetch(bd); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := e.print(&buf); err != nil {
		return err
	}
	path := filepath.Join(bd.getPath(), extractionInfoNewFile)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// extractionRequired reports whether the work tree must be re-materialised:
// the new fingerprint differs from the committed one, or the code is known
// to have changed.
func (e *Extraction) extractionRequired(p *Package, bd *BuildDir) bool {
	if p.isCodeUpdated() {
		return true
	}
	oldData, err := os.ReadFile(filepath.Join(bd.getPath(), extractionInfoFile))
	if err != nil {
		return true
	}
	newData, err := os.ReadFile(filepath.Join(bd.getPath(), extractionInfoNewFile))
	if err != nil {
		return true
	}
	return !bytes.Equal(oldData, newData)
}

// commitExtractInfo renames .extraction.info.new over the committed file.
func (e *Extraction) commitExtractInfo(bd *BuildDir) error {
	from := filepath.Join(bd.getPath(), extractionInfoNewFile)
	to := filepath.Join(bd.getPath(), extractionInfoFile)
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("failed to commit extraction info: %w", err)
	}
	return nil
}

// extractionInfoNew returns the committed extraction-info path together
// with the hash of the freshly prepared fingerprint, so a change in
// extraction inputs shows up in .build.info.new before extraction runs.
func (e *Extraction) extractionInfoNew(bd *BuildDir) (string, string, error) {
	path := filepath.Join(bd.getShortPath(), extractionInfoFile)
	full := filepath.Join(bd.getPath(), extractionInfoNewFile)
	if !fileExists(full) {
		full = filepath.Join(bd.getPath(), extractionInfoFile)
	}
	hash, err := hashFile(full)
	if err != nil {
		return "", "", err
	}
	return path, hash, nil
}

// extractionInfo returns the committed extraction-info path and its hash,
// for the build-info fingerprint.
func (e *Extraction) extractionInfo(bd *BuildDir) (string, string, error) {
	path := filepath.Join(bd.getShortPath(), extractionInfoFile)
	full := filepath.Join(bd.getPath(), extractionInfoFile)
	hash, err := hashFile(full)
	if err != nil {
		return "", "", err
	}
	return path, hash, nil
}
