package yosegi

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sys/unix"
)

// dlObject serialises downloads of the same final filename: at most one
// worker fetches a given file at a time, the others wait and find it done.
type dlObject struct {
	filename string
	hash     string
	lock     sync.Mutex
}

var (
	dlObjects     []*dlObject
	dlObjectsLock sync.Mutex
)

func findDLObject(fname string) *dlObject {
	dlObjectsLock.Lock()
	defer dlObjectsLock.Unlock()
	for _, o := range dlObjects {
		if o.filename == fname {
			return o
		}
	}
	o := &dlObject{filename: fname}
	dlObjects = append(dlObjects, o)
	return o
}

// DownloadFetch retrieves a file over HTTP(S)/FTP into <pwd>/dl. When
// decompress is set the fetched object is the compressed form of a later
// tar/zip input and is expanded next to the original; the recorded hash is
// always that of the compressed file.
type DownloadFetch struct {
	uri        string
	decompress bool
	filename   string
	hash       string
	pkg        *Package
}

func newDownloadFetch(uri string, decompress bool, filename string, p *Package) *DownloadFetch {
	return &DownloadFetch{uri: uri, decompress: decompress, filename: filename, pkg: p}
}

// finalName is the explicit filename argument, or the last URI path component.
func (df *DownloadFetch) finalName() string {
	if df.filename != "" {
		return df.filename
	}
	return df.uri[strings.LastIndex(df.uri, "/")+1:]
}

// fullName is where the file lands on disk.
func (df *DownloadFetch) fullName() string {
	return filepath.Join(df.pkg.getPwd(), "dl", df.finalName())
}

// decompressedName strips the final (compression) extension.
func (df *DownloadFetch) decompressedName() string {
	name := df.finalName()
	if idx := strings.LastIndex(name, "."); idx > 0 {
		return name[:idx]
	}
	return name
}

// cacheName keys the tarball cache by URI hash so different URIs sharing a
// basename cannot collide.
func (df *DownloadFetch) cacheName() string {
	return hashString(df.uri) + "-" + df.finalName()
}

func (df *DownloadFetch) relativePath() string {
	if df.decompress {
		return "dl/" + df.decompressedName()
	}
	return "dl/" + df.finalName()
}

func (df *DownloadFetch) forceUpdated() bool {
	return false
}

// fetch downloads the file unless it already exists. Idempotent.
func (df *DownloadFetch) fetch(bd *BuildDir) error {
	fullname := df.fullName()

	o := findDLObject(df.finalName())
	o.lock.Lock()
	defer o.lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(fullname), 0o755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	if _, err := os.Stat(fullname); os.IsNotExist(err) {
		// The tarball cache may already hold this file.
		if cache := df.pkg.world.tarballCache; cache != "" {
			cached := filepath.Join(cache, df.cacheName())
			if _, err := os.Stat(cached); err == nil {
				debugf("Using tarball cache copy of %s\n", df.finalName())
				if err := copyFilePreserve(cached, fullname); err != nil {
					return fmt.Errorf("%w: failed to copy %s from tarball cache: %v", errFetchFailed, df.finalName(), err)
				}
			}
		}
	}

	if _, err := os.Stat(fullname); os.IsNotExist(err) {
		if err := downloadFile(df.uri, fullname); err != nil {
			os.Remove(fullname)
			return fmt.Errorf("%w: %s: %v", errFetchFailed, df.uri, err)
		}
		if cache := df.pkg.world.tarballCache; cache != "" {
			if err := os.MkdirAll(cache, 0o755); err == nil {
				if err := copyFilePreserve(fullname, filepath.Join(cache, df.cacheName())); err != nil {
					debugf("failed to populate tarball cache for %s: %v\n", df.finalName(), err)
				}
			}
		}
	} else {
		debugf("Already downloaded: %s\n", fullname)
	}

	if df.decompress {
		dest := filepath.Join(filepath.Dir(fullname), df.decompressedName())
		if _, err := os.Stat(dest); os.IsNotExist(err) {
			if err := decompressFile(fullname, dest); err != nil {
				return fmt.Errorf("%w: failed to decompress %s: %v", errFetchFailed, fullname, err)
			}
		}
	}

	// Cache the content hash on the shared object so other packages
	// downloading the same file skip the re-hash.
	if o.hash == "" {
		sum, err := hashFile(fullname)
		if err != nil {
			return fmt.Errorf("%w: %v", errFetchFailed, err)
		}
		o.hash = sum
	}
	df.hash = o.hash

	return nil
}

// HASH hashes the downloaded file, fetching it first if needed.
func (df *DownloadFetch) HASH() (string, error) {
	if df.hash != "" {
		return df.hash, nil
	}
	if err := df.fetch(df.pkg.builddir()); err != nil {
		return "", err
	}
	return df.hash, nil
}

// downloadFile fetches url into destFile, guarded by a file lock so that a
// concurrent orchestrator process on the same tree does not race us. Tries
// curl, then wget, then the native HTTP client.
func downloadFile(url, destFile string) error {
	lockPath := destFile + ".lock"
	lFile, err := os.Create(lockPath)
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer lFile.Close()

	if err := unix.Flock(int(lFile.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire download lock: %w", err)
	}
	defer unix.Flock(int(lFile.Fd()), unix.LOCK_UN)

	// The file may have appeared while we waited on the lock.
	if _, err := os.Stat(destFile); err == nil {
		debugf("File %s appeared after acquiring lock, skipping download.\n", destFile)
		os.Remove(lockPath)
		return nil
	}
	defer func() {
		if _, err := os.Stat(destFile); err == nil {
			os.Remove(lockPath)
		}
	}()

	debugf("Downloading %s -> %s\n", url, destFile)

	// --- Primary choice: curl ---
	if _, err := exec.LookPath("curl"); err == nil {
		cmd := exec.Command("curl", "-L", "--fail", "-sS", "-o", destFile, url)
		cmd.Stdout = io.Discard
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err == nil {
			return nil
		}
		debugf("curl failed, falling back to wget\n")
	}

	// --- Fallback 1: wget ---
	if _, err := exec.LookPath("wget"); err == nil {
		cmd := exec.Command("wget", "-q", "-O", destFile, url)
		cmd.Stdout = io.Discard
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err == nil {
			return nil
		}
		debugf("wget failed, falling back to native Go HTTP client\n")
	}

	// --- Fallback 2: native HTTP client ---
	client := &http.Client{Timeout: 300 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("native http get failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %s", resp.Status)
	}

	out, err := os.Create(destFile)
	if err != nil {
		return fmt.Errorf("failed to create destination file %s: %w", destFile, err)
	}
	defer out.Close()

	bar := progressbar.DefaultBytes(resp.ContentLength, filepath.Base(destFile))
	if _, err := io.Copy(io.MultiWriter(out, bar), resp.Body); err != nil {
		return fmt.Errorf("failed to write to destination file: %w", err)
	}
	return nil
}
