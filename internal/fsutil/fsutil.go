// Package fsutil provides file system helpers shared by the local tracking
// backends.
package fsutil

import (
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"model-registrar/internal/core/domain"
)

// LocalPath returns the filesystem path named by a file: URI or a bare path.
func LocalPath(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", uri, err)
	}

	switch u.Scheme {
	case "":
		return uri, nil
	case "file":
		if u.Opaque != "" {
			return filepath.FromSlash(u.Opaque), nil
		}
		if u.Host != "" && u.Host != "localhost" {
			return "", fmt.Errorf("%w: remote file host in %q", domain.ErrUnsupportedArtifactURI, uri)
		}
		return filepath.FromSlash(u.Path), nil
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedArtifactURI, uri)
	}
}

// FileURI renders an absolute path as a file:// URI.
func FileURI(absPath string) string {
	p := filepath.ToSlash(absPath)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return "file://" + p
}

// ListFiles returns the slash-separated paths of every regular file under
// root, relative to root.
func ListFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// CopyDir copies every file under src into dst, creating directories as needed.
func CopyDir(src, dst string) error {
	files, err := ListFiles(src)
	if err != nil {
		return fmt.Errorf("list %s: %w", src, err)
	}
	for _, rel := range files {
		from := filepath.Join(src, filepath.FromSlash(rel))
		to := filepath.Join(dst, filepath.FromSlash(rel))
		if err := CopyFile(from, to); err != nil {
			return err
		}
	}
	return nil
}

// CopyFile copies src to dst, creating dst's parent directory.
func CopyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(dst), err)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
