package yosegi

import (
	"archive/tar"
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
	"golang.org/x/sys/unix"
)

// extractTar unpacks an archive into dest. System tar is tried first; when
// it is unavailable the pure-Go readers take over, selected by extension.
func extractTar(archive, dest string, e *Executor) error {
	if _, err := exec.LookPath("tar"); err == nil {
		cmd := exec.Command("tar", "xf", archive)
		cmd.Dir = dest
		cmd.Stdout = io.Discard
		if err := e.Run(cmd); err == nil {
			debugf("Extracted %s with system tar\n", archive)
			return nil
		}
		debugf("system tar failed for %s, falling back to native extraction\n", archive)
	}
	return extractTarNative(archive, dest)
}

func extractTarNative(archive, dest string) error {
	f, err := os.Open(archive)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", archive, err)
	}
	defer f.Close()

	var r io.Reader = f
	switch {
	case strings.HasSuffix(archive, ".tar.gz") || strings.HasSuffix(archive, ".tgz"):
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to create gzip reader for %s: %w", archive, err)
		}
		defer gz.Close()
		r = gz
	case strings.HasSuffix(archive, ".tar.bz2"):
		r = bzip2.NewReader(f)
	case strings.HasSuffix(archive, ".tar.xz"):
		xzr, err := xz.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to create xz reader for %s: %w", archive, err)
		}
		r = xzr
	case strings.HasSuffix(archive, ".tar.zst"):
		zst, err := zstd.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to create zstd reader for %s: %w", archive, err)
		}
		defer zst.Close()
		r = zst
	case strings.HasSuffix(archive, ".tar"):
		// No compression
	default:
		return fmt.Errorf("unsupported archive format: %s", archive)
	}

	return untarStream(r, dest)
}

func untarStream(r io.Reader, dest string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("error reading tar header: %w", err)
		}

		if hdr.Typeflag == tar.TypeXHeader || hdr.Typeflag == tar.TypeXGlobalHeader {
			if _, err := io.Copy(io.Discard, tr); err != nil {
				return fmt.Errorf("error skipping extended header data: %w", err)
			}
			continue
		}

		target := filepath.Join(dest, hdr.Name)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("failed to create parent dir for %s: %w", target, err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return fmt.Errorf("failed to create dir %s: %w", target, err)
			}
			_ = os.Chtimes(target, hdr.AccessTime, hdr.ModTime)
		case tar.TypeReg:
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return fmt.Errorf("failed to create file %s: %w", target, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("failed to write file %s: %w", target, err)
			}
			out.Close()
			_ = os.Chtimes(target, hdr.AccessTime, hdr.ModTime)
		case tar.TypeSymlink:
			_ = os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil && !os.IsExist(err) {
				return fmt.Errorf("failed to create symlink %s -> %s: %w", target, hdr.Linkname, err)
			}
			atime := unix.Timeval{Sec: hdr.AccessTime.Unix(), Usec: int64(hdr.AccessTime.Nanosecond() / 1000)}
			mtime := unix.Timeval{Sec: hdr.ModTime.Unix(), Usec: int64(hdr.ModTime.Nanosecond() / 1000)}
			if err := unix.Lutimes(target, []unix.Timeval{atime, mtime}); err != nil {
				debugf("Warning: failed to set times for symlink %s: %v (continuing)\n", target, err)
			}
		case tar.TypeLink:
			_ = os.Remove(target)
			if err := os.Link(filepath.Join(dest, hdr.Linkname), target); err != nil {
				return fmt.Errorf("failed to create hard link %s: %w", target, err)
			}
		default:
			debugf("Skipping unsupported tar entry type %c: %s\n", hdr.Typeflag, hdr.Name)
		}
	}
	return nil
}

// extractZip unpacks a zip archive into dest, preferring system unzip.
func extractZip(archive, dest string, e *Executor) error {
	if _, err := exec.LookPath("unzip"); err == nil {
		cmd := exec.Command("unzip", "-q", "-o", archive, "-d", dest)
		if err := e.Run(cmd); err == nil {
			return nil
		}
		debugf("system unzip failed for %s, falling back to native extraction\n", archive)
	}
	return unzipNative(archive, dest)
}

func unzipNative(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer r.Close()

	dest, err = filepath.Abs(dest)
	if err != nil {
		return err
	}

	for _, f := range r.File {
		fpath := filepath.Join(dest, f.Name)

		// Reject entries that escape the destination directory.
		if !strings.HasPrefix(fpath, dest+string(os.PathSeparator)) {
			return fmt.Errorf("illegal file path in archive: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(fpath, os.ModePerm); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(fpath), os.ModePerm); err != nil {
			return err
		}

		outFile, err := os.OpenFile(fpath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
		if err != nil {
			return err
		}

		rc, err := f.Open()
		if err != nil {
			outFile.Close()
			return err
		}

		_, err = io.Copy(outFile, rc)
		outFile.Close()
		rc.Close()

		if err != nil {
			return err
		}
	}
	return nil
}

// createTarball archives the contents of dir into tarball: POSIX format,
// numeric root ownership, 256-block records. Falls back to a native tar
// writer when system tar is unavailable.
func createTarball(tarball, dir string, e *Executor) error {
	if err := os.MkdirAll(filepath.Dir(tarball), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if _, err := exec.LookPath("tar"); err == nil {
		args := []string{"--format=posix", "--numeric-owner", "--owner=0", "--group=0",
			"-b", "256", "-cf", tarball, "-C", dir, "."}
		cmd := exec.Command("tar", args...)
		if err := e.Run(cmd); err == nil {
			return nil
		}
		debugf("system tar failed creating %s, falling back to native writer\n", tarball)
	}

	out, err := os.Create(tarball)
	if err != nil {
		return fmt.Errorf("failed to create tarball file: %w", err)
	}
	defer out.Close()

	tw := tar.NewWriter(out)
	defer tw.Close()

	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		var linkTarget string
		if info.Mode()&os.ModeSymlink != 0 {
			linkTarget, err = os.Readlink(path)
			if err != nil {
				return fmt.Errorf("readlink %s: %w", path, err)
			}
		}

		hdr, err := tar.FileInfoHeader(info, linkTarget)
		if err != nil {
			return err
		}
		hdr.Name = "./" + rel
		hdr.Format = tar.FormatPAX
		hdr.Uid, hdr.Gid = 0, 0
		hdr.Uname, hdr.Gname = "root", "root"

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		if info.Mode().IsRegular() {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			if _, err := io.Copy(tw, f); err != nil {
				f.Close()
				return err
			}
			f.Close()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to add files to tarball: %w", err)
	}
	return nil
}

// extractTarballInto unpacks a plain tar archive (a staging/install output)
// into dest.
func extractTarballInto(tarball, dest string, e *Executor) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	if _, err := exec.LookPath("tar"); err == nil {
		cmd := exec.Command("tar", "-xf", tarball, "-C", dest)
		if err := e.Run(cmd); err == nil {
			return nil
		}
		debugf("system tar failed extracting %s, falling back to native reader\n", tarball)
	}

	f, err := os.Open(tarball)
	if err != nil {
		return fmt.Errorf("failed to open tarball %s: %w", tarball, err)
	}
	defer f.Close()
	return untarStream(f, dest)
}

// decompressFile expands a compressed download next to the original, the
// format chosen by extension.
func decompressFile(src, dest string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader
	switch {
	case strings.HasSuffix(src, ".gz"):
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return err
		}
		defer gz.Close()
		r = gz
	case strings.HasSuffix(src, ".bz2"):
		r = bzip2.NewReader(f)
	case strings.HasSuffix(src, ".xz"):
		xzr, err := xz.NewReader(f)
		if err != nil {
			return err
		}
		r = xzr
	case strings.HasSuffix(src, ".zst"):
		zst, err := zstd.NewReader(f)
		if err != nil {
			return err
		}
		defer zst.Close()
		r = zst
	default:
		return fmt.Errorf("unsupported compression format: %s", src)
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, r); err != nil {
		os.Remove(dest)
		return err
	}
	return nil
}
