// Package scanner discovers ingestable files under a source directory.
// It feeds bulk ingestion (directory adds) and the storage audit.
package scanner

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/kbvault/kbvault/internal/errors"
)

// DefaultMaxFileSize bounds a single file read (2 MB).
const DefaultMaxFileSize = 2 * 1024 * 1024

// binarySniffLen is how many leading bytes are checked for NUL.
const binarySniffLen = 8000

// skipDirs are directory names never descended into.
var skipDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	".venv":        true,
	"dist":         true,
	"build":        true,
	"target":       true,
}

// Options configures a walk.
type Options struct {
	// Root is the directory to walk.
	Root string
	// Recursive descends into subdirectories.
	Recursive bool
	// Extensions restricts results to these extensions (with or without
	// the leading dot). Empty means every text file.
	Extensions []string
	// MaxFileSize bounds a single file; larger files are skipped.
	MaxFileSize int64
}

// File is one discovered file.
type File struct {
	// Path is the absolute path.
	Path string
	// RelPath is the path relative to the walk root, slash-separated.
	RelPath string
	// Size in bytes.
	Size int64
}

// Walk discovers files under the root, applying the extension filter
// and skipping binaries, oversized files, and well-known junk
// directories. Results come back in deterministic lexical order.
func Walk(ctx context.Context, opts Options) ([]File, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, errors.Wrap(errors.KindInvalidInput, "invalid source directory", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrap(errors.KindInvalidInput, "source directory not accessible", err)
	}
	if !info.IsDir() {
		return nil, errors.InvalidInputf("%s is not a directory", root)
	}

	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	extFilter := normalizeExtensions(opts.Extensions)

	var files []File
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			// Unreadable entries are skipped, not fatal.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if d.IsDir() {
			if path == root {
				return nil
			}
			if !opts.Recursive || skipDirs[d.Name()] || strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		if len(extFilter) > 0 && !extFilter[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		fi, err := d.Info()
		if err != nil || fi.Size() > maxSize {
			return nil
		}
		if isBinaryFile(path) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		files = append(files, File{
			Path:    path,
			RelPath: filepath.ToSlash(rel),
			Size:    fi.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// normalizeExtensions lowercases and dot-prefixes the filter.
func normalizeExtensions(exts []string) map[string]bool {
	out := make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out[ext] = true
	}
	return out
}

// isBinaryFile sniffs the leading bytes for a NUL, the same heuristic
// git uses.
func isBinaryFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return true
	}
	defer f.Close()

	buf := make([]byte, binarySniffLen)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return true
	}
	return bytes.IndexByte(buf[:n], 0) >= 0
}
