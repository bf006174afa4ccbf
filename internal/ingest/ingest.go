// Package ingest resolves ingestion inputs to files and reads them as text.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"

	"github.com/fyrsmithlabs/ragpipe/internal/logging"
	"github.com/fyrsmithlabs/ragpipe/internal/rag"
)

// DefaultExtension is the file filter for directory scans.
const DefaultExtension = ".txt"

// MaxFileSize caps a single input file.
const MaxFileSize = 32 << 20

var (
	// ErrDirectoryNotFound is wrapped when a directory does not exist.
	ErrDirectoryNotFound = errors.New("directory not found")

	// ErrNotDirectory is wrapped when a directory path names a file.
	ErrNotDirectory = errors.New("not a directory")

	// ErrEmptyPath is wrapped when a required path is empty.
	ErrEmptyPath = errors.New("path cannot be empty")
)

// Document is the decoded text of one input file.
type Document struct {
	// Source is the file's base name, used for attribution.
	Source string
	Path   string
	Text   string
}

// ResolvePath returns path as a clean absolute path. Relative paths are
// taken from the working directory.
func ResolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", &rag.Error{Kind: rag.KindInput, Stage: rag.StageIngest, Err: ErrEmptyPath}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", rag.Inputf(rag.StageIngest, "resolving %s: %v", path, err)
	}
	return abs, nil
}

// ResolveDirectory resolves path and checks that it is an existing
// directory.
func ResolveDirectory(path string) (string, error) {
	abs, err := ResolvePath(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "", &rag.Error{Kind: rag.KindInput, Stage: rag.StageIngest, Err: fmt.Errorf("%w: %s", ErrDirectoryNotFound, abs)}
	case err != nil:
		return "", rag.Inputf(rag.StageIngest, "checking %s: %v", abs, err)
	case !info.IsDir():
		return "", &rag.Error{Kind: rag.KindInput, Stage: rag.StageIngest, Err: fmt.Errorf("%w: %s", ErrNotDirectory, abs)}
	}
	return abs, nil
}

// Resolve returns the explicit files followed by the directory's files
// whose extension matches ext, non-recursively and sorted by name. An
// empty ext means DefaultExtension.
func Resolve(req rag.IngestRequest, ext string) ([]string, error) {
	if ext == "" {
		ext = DefaultExtension
	}

	var files []string
	for _, f := range req.Files {
		abs, err := ResolvePath(f)
		if err != nil {
			return nil, err
		}
		files = append(files, abs)
	}

	if req.Directory != "" {
		dir, err := ResolveDirectory(req.Directory)
		if err != nil {
			return nil, err
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, rag.Inputf(rag.StageIngest, "reading directory %s: %v", dir, err)
		}
		var found []string
		for _, e := range entries {
			if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ext) {
				found = append(found, filepath.Join(dir, e.Name()))
			}
		}
		slices.Sort(found)
		files = append(files, found...)
	}
	return files, nil
}

// ReadText reads path as UTF-8, falling back to ISO-8859-1 when the bytes
// are not valid UTF-8.
func ReadText(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%s is not a regular file", path)
	}
	if info.Size() > MaxFileSize {
		return "", fmt.Errorf("%s is larger than %d bytes", path, MaxFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if utf8.Valid(data) {
		return string(data), nil
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decoding %s: %w", path, err)
	}
	return string(decoded), nil
}

// Load resolves req and reads every file. Files that cannot be read are
// logged and skipped; only resolution failures are returned.
func Load(ctx context.Context, req rag.IngestRequest, ext string, logger *logging.Logger) ([]Document, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	paths, err := Resolve(req, ext)
	if err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := ReadText(p)
		if err != nil {
			logger.Warn(ctx, "skipping unreadable file", zap.String("path", p), zap.Error(err))
			continue
		}
		docs = append(docs, Document{Source: filepath.Base(p), Path: p, Text: text})
	}
	logger.Debug(ctx, "loaded documents", zap.Int("files", len(paths)), zap.Int("read", len(docs)))
	return docs, nil
}
