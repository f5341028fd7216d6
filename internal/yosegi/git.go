package yosegi

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// reference-if-able acceleration: a clone whose remote starts with a
// configured prefix borrows objects from a local mirror directory.
type gitRefIfAblePair struct {
	prefix  string
	replace string
}

func parseGitRefIfAblePatterns(patterns []string) ([]gitRefIfAblePair, error) {
	var pairs []gitRefIfAblePair
	for _, pat := range patterns {
		parts := strings.SplitN(pat, ",", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("git reference pattern must be prefix,replacement: %q", pat)
		}
		pairs = append(pairs, gitRefIfAblePair{prefix: parts[0], replace: parts[1]})
	}
	return pairs, nil
}

func gitRefDir(pairs []gitRefIfAblePair, remote string) string {
	for _, pair := range pairs {
		if strings.HasPrefix(remote, pair.prefix) {
			return strings.Replace(remote, pair.prefix, pair.replace, 1)
		}
	}
	return ""
}

func refspecIsCommitID(refspec string) bool {
	if len(refspec) != 40 {
		return false
	}
	for _, c := range refspec {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

func gitHashRef(gdir, refspec string) (string, error) {
	cmd := exec.Command("git", "rev-parse", refspec)
	cmd.Dir = gdir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse %s failed in %s: %v", refspec, gdir, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func gitHash(gdir string) (string, error) {
	return gitHashRef(gdir, "HEAD")
}

// gitDiffHash identifies the uncommitted delta of a working tree: the SHA-1
// of `git diff HEAD`.
func gitDiffHash(gdir string) (string, error) {
	cmd := exec.Command("git", "diff", "HEAD")
	cmd.Dir = gdir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git diff failed in %s: %v", gdir, err)
	}
	sum := sha1.Sum(out)
	return hex.EncodeToString(sum[:]), nil
}

func gitIsDirty(gdir string) bool {
	if !isDir(gdir) {
		// If the source directory doesn't exist, then it can't be dirty
		return false
	}
	cmd := exec.Command("git", "diff", "--quiet", "HEAD")
	cmd.Dir = gdir
	return cmd.Run() != nil
}

func gitRemoteURL(gdir, remote string) string {
	cmd := exec.Command("git", "config", "--local", "--get", "remote."+remote+".url")
	cmd.Dir = gdir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func gitHasCommit(gdir, refspec string) bool {
	cmd := exec.Command("git", "cat-file", "-e", refspec)
	cmd.Dir = gdir
	return cmd.Run() == nil
}

func gitHasLocalBranch(gdir, refspec string) bool {
	cmd := exec.Command("git", "show-ref", "--quiet", "--verify", "--", "refs/heads/"+refspec)
	cmd.Dir = gdir
	return cmd.Run() == nil
}

// gitDirUnit carries the state shared by the three GitDir extraction modes.
type gitDirUnit struct {
	uri   string
	toDir string
	hash  string
	local string // resolved on-disk location of the git tree
}

func (g *gitDirUnit) typeTag() string {
	return "GitDir"
}

func (g *gitDirUnit) HASH() string {
	return g.hash
}

// printGitDirLine serialises a GitDir unit; the dirty-hash token is empty
// for a clean working tree, so a dirty tree changes the fingerprint.
func printGitDirLine(mode, uri, toDir, hash, localPath string) string {
	dirty := ""
	if gitIsDirty(localPath) {
		if d, err := gitDiffHash(localPath); err == nil {
			dirty = d
		}
	}
	return fmt.Sprintf("GitDir %s %s %s %s %s\n", mode, uri, toDir, hash, dirty)
}

// LinkGitDirExtractionUnit symlinks a local git tree into the work tree.
type LinkGitDirExtractionUnit struct {
	gitDirUnit
	pkg *Package
}

func newLinkGitDirExtractionUnit(gitDir, toDir string, p *Package) (*LinkGitDirExtractionUnit, error) {
	local := resolveGitDir(gitDir, p)
	hash, err := gitHash(local)
	if err != nil {
		return nil, err
	}
	return &LinkGitDirExtractionUnit{gitDirUnit: gitDirUnit{uri: gitDir, toDir: toDir, hash: hash, local: local}, pkg: p}, nil
}

// resolveGitDir anchors a work-tree-relative git dir at pwd.
func resolveGitDir(gitDir string, p *Package) string {
	if strings.HasPrefix(gitDir, ".") {
		return filepath.Join(p.getPwd(), gitDir)
	}
	return gitDir
}

func (eu *LinkGitDirExtractionUnit) printLine() (string, error) {
	return printGitDirLine("link", eu.uri, eu.toDir, eu.hash, eu.local), nil
}

func (eu *LinkGitDirExtractionUnit) isDirty() bool {
	return gitIsDirty(eu.local)
}

func (eu *LinkGitDirExtractionUnit) dirtyHash() (string, error) {
	return gitDiffHash(eu.local)
}

func (eu *LinkGitDirExtractionUnit) extract(p *Package) error {
	cmd := exec.Command("ln", "-sfT", eu.local, eu.toDir)
	cmd.Dir = p.builddir().getPath()
	if err := p.world.exec.Run(cmd); err != nil {
		return fmt.Errorf("%w: failed to link git dir %s: %v", errExtractFailed, eu.uri, err)
	}
	return nil
}

// CopyGitDirExtractionUnit copies a local git tree into the work tree.
type CopyGitDirExtractionUnit struct {
	gitDirUnit
	pkg *Package
}

func newCopyGitDirExtractionUnit(gitDir, toDir string, p *Package) (*CopyGitDirExtractionUnit, error) {
	local := resolveGitDir(gitDir, p)
	hash, err := gitHash(local)
	if err != nil {
		return nil, err
	}
	return &CopyGitDirExtractionUnit{gitDirUnit: gitDirUnit{uri: gitDir, toDir: toDir, hash: hash, local: local}, pkg: p}, nil
}

func (eu *CopyGitDirExtractionUnit) printLine() (string, error) {
	return printGitDirLine("copy", eu.uri, eu.toDir, eu.hash, eu.local), nil
}

func (eu *CopyGitDirExtractionUnit) isDirty() bool {
	return gitIsDirty(eu.local)
}

func (eu *CopyGitDirExtractionUnit) dirtyHash() (string, error) {
	return gitDiffHash(eu.local)
}

func (eu *CopyGitDirExtractionUnit) extract(p *Package) error {
	cmd := exec.Command("cp", "-dpRuf", eu.local, eu.toDir)
	cmd.Dir = p.builddir().getPath()
	if err := p.world.exec.Run(cmd); err != nil {
		return fmt.Errorf("%w: failed to copy git dir %s: %v", errExtractFailed, eu.uri, err)
	}
	return nil
}

// GitExtractionUnit clones/fetches a remote repository into <pwd>/source and
// copies the checkout into the work tree. It is an extraction unit that
// carries its own fetch step, run from HASH (when neither the refspec nor
// the Digest sidecar yields a commit) or from extract; it does not implement
// FetchUnit and is not part of the package's Fetch collection.
type GitExtractionUnit struct {
	gitDirUnit
	refspec string
	fetched bool
	pkg     *Package
}

func newGitExtractionUnit(remote, local, refspec string, p *Package) *GitExtractionUnit {
	return &GitExtractionUnit{
		gitDirUnit: gitDirUnit{
			uri:   remote,
			toDir: local,
			local: filepath.Join(p.getPwd(), "source", local),
		},
		refspec: refspec,
		pkg:     p,
	}
}

func (eu *GitExtractionUnit) printLine() (string, error) {
	return printGitDirLine("fetch", eu.uri, eu.toDir, eu.HASH(), eu.local), nil
}

func (eu *GitExtractionUnit) localPath() string {
	return eu.local
}

func (eu *GitExtractionUnit) relativePath() string {
	return eu.local
}

func (eu *GitExtractionUnit) forceUpdated() bool {
	return false
}

func (eu *GitExtractionUnit) isDirty() bool {
	return gitIsDirty(eu.local)
}

func (eu *GitExtractionUnit) dirtyHash() (string, error) {
	return gitDiffHash(eu.local)
}

// updateOrigin points the origin remote of an existing clone at the
// configured location, fetching tags when it had to change.
func (eu *GitExtractionUnit) updateOrigin() error {
	remoteURL := gitRemoteURL(eu.local, "origin")
	if remoteURL == eu.uri {
		return nil
	}

	action := "set-url"
	if remoteURL == "" {
		// If the remote doesn't exist, add it
		action = "add"
	}
	cmd := exec.Command("git", "remote", action, "origin", eu.uri)
	cmd.Dir = eu.local
	if err := eu.pkg.world.exec.Run(cmd); err != nil {
		return fmt.Errorf("%w: git remote %s origin: %v", errFetchFailed, action, err)
	}

	cmd = exec.Command("git", "fetch", "origin", "--tags")
	cmd.Dir = eu.local
	if err := eu.pkg.world.exec.Run(cmd); err != nil {
		return fmt.Errorf("%w: git fetch origin --tags: %v", errFetchFailed, err)
	}
	return nil
}

func (eu *GitExtractionUnit) fetch(bd *BuildDir) error {
	// Serialise all work on the same local clone.
	o := findDLObject(eu.local)
	o.lock.Lock()
	defer o.lock.Unlock()

	w := eu.pkg.world
	exists := isDir(eu.local)

	if exists {
		if err := eu.updateOrigin(); err != nil {
			return err
		}
		if !gitHasCommit(eu.local, eu.refspec) {
			cmd := exec.Command("git", "fetch", "origin", "--tags")
			cmd.Dir = eu.local
			if err := w.exec.Run(cmd); err != nil {
				return fmt.Errorf("%w: git fetch origin --tags: %v", errFetchFailed, err)
			}
		}
	} else {
		args := []string{"clone", "-n"}
		if refDir := gitRefDir(w.gitRefPairs, eu.uri); refDir != "" {
			args = append(args, "--reference-if-able", refDir)
		}
		args = append(args, eu.uri, eu.local)
		cmd := exec.Command("git", args...)
		cmd.Dir = eu.pkg.getPwd()
		if err := w.exec.Run(cmd); err != nil {
			return fmt.Errorf("%w: failed to git clone %s: %v", errFetchFailed, eu.uri, err)
		}
	}

	if eu.refspec == "HEAD" {
		// Don't touch it
	} else if gitHasLocalBranch(eu.local, eu.refspec) {
		headHash, err := gitHash(eu.local)
		if err != nil {
			return fmt.Errorf("%w: %v", errFetchFailed, err)
		}
		branchHash, err := gitHashRef(eu.local, eu.refspec)
		if err != nil {
			return fmt.Errorf("%w: %v", errFetchFailed, err)
		}
		if headHash != branchHash {
			return fmt.Errorf("%w: asked to use branch %s, but %s is off somewhere else",
				errFetchFailed, eu.refspec, eu.local)
		}
	} else {
		cmd := exec.Command("git", "checkout", "-q", "--detach", eu.refspec)
		cmd.Dir = eu.local
		if err := w.exec.Run(cmd); err != nil {
			return fmt.Errorf("%w: failed to checkout %s: %v", errFetchFailed, eu.refspec, err)
		}
	}

	head, err := gitHash(eu.local)
	if err != nil {
		return fmt.Errorf("%w: %v", errFetchFailed, err)
	}

	if eu.hash != "" && eu.hash != head {
		eu.pkg.log(fmt.Sprintf("Hash mismatch for %s\n(committed to %s, providing %s)",
			eu.uri, eu.hash, head))
		return fmt.Errorf("%w: hash mismatch for %s", errFetchFailed, eu.uri)
	}
	eu.hash = head
	eu.fetched = true
	return nil
}

// HASH resolves the unit's commit identifier: a 40-hex refspec is taken
// verbatim, then the recipe's Digest sidecar is consulted, and only when
// both miss is the repository actually fetched.
func (eu *GitExtractionUnit) HASH() string {
	if eu.hash != "" {
		return eu.hash
	}
	if refspecIsCommitID(eu.refspec) {
		eu.hash = eu.refspec
		return eu.hash
	}

	digestName := eu.uri + "#" + eu.refspec
	if sum, err := eu.pkg.getFileHash(digestName); err == nil && sum != "" {
		eu.hash = sum
		return eu.hash
	}
	eu.pkg.log("Digest not found, will fetch code from git.")

	if err := eu.fetch(eu.pkg.builddir()); err != nil {
		eu.pkg.log(err.Error())
	}
	return eu.hash
}

func (eu *GitExtractionUnit) extract(p *Package) error {
	// make sure it has been fetched
	if !eu.fetched {
		if err := eu.fetch(p.builddir()); err != nil {
			return err
		}
	}
	cmd := exec.Command("cp", "-dpRuf", eu.local, ".")
	cmd.Dir = p.builddir().getPath()
	if err := p.world.exec.Run(cmd); err != nil {
		return fmt.Errorf("%w: failed to copy %s into work tree: %v", errExtractFailed, eu.local, err)
	}
	return nil
}
