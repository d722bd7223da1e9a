// Package discovery walks the raw data directory and records the column
// headers of every tabular source it finds.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/clinicalops/trialrisk/internal/domain"
)

// maxConcurrentReads bounds the number of files open at once.
const maxConcurrentReads = 8

// Kind is the reader used for a source file.
type Kind int

const (
	KindCSV Kind = iota
	KindExcel
	KindLegacyExcel
)

// KindOf classifies a file name by extension, case-insensitively. ok is false
// for files discovery ignores.
func KindOf(name string) (kind Kind, ok bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return KindCSV, true
	case ".xlsx", ".xlsm":
		return KindExcel, true
	case ".xls":
		return KindLegacyExcel, true
	}
	return 0, false
}

// File is the discovery result for one source.
type File struct {
	RelPath string   `json:"path"`
	Columns []string `json:"columns"`
	Err     error    `json:"-"`
}

// Schema is the set of files discovered under a data directory, in walk order.
type Schema struct {
	Files []File
}

// Scanner discovers source files and reads their headers.
type Scanner struct {
	out io.Writer
}

// NewScanner creates a scanner that reports per-file progress to out.
func NewScanner(out io.Writer) *Scanner {
	if out == nil {
		out = io.Discard
	}
	return &Scanner{out: out}
}

// Scan walks dataDir recursively. A missing directory is a missing
// prerequisite; unreadable files and directories are reported and skipped.
func (s *Scanner) Scan(ctx context.Context, dataDir string) (*Schema, error) {
	info, err := os.Stat(dataDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: directory %q not found", domain.ErrMissingPrerequisite, dataDir)
	}

	type source struct {
		path, rel string
		kind      Kind
	}
	var sources []source

	err = filepath.WalkDir(dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			rel, relErr := filepath.Rel(dataDir, path)
			if relErr != nil {
				rel = path
			}
			return s.skipUnreadable(rel, d, err)
		}
		if d.IsDir() {
			return nil
		}
		kind, ok := KindOf(d.Name())
		if !ok {
			return nil
		}
		rel, err := filepath.Rel(dataDir, path)
		if err != nil {
			return err
		}
		sources = append(sources, source{path: path, rel: rel, kind: kind})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dataDir, err)
	}

	files := make([]File, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentReads)
	for i, src := range sources {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			cols, err := ReadHeader(src.path, src.kind)
			files[i] = File{RelPath: src.rel, Columns: cols, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	schema := &Schema{}
	for _, f := range files {
		switch {
		case f.Err != nil:
			fmt.Fprintf(s.out, "⚠ %s: Could not read (%s)\n", f.RelPath, Category(f.Err))
		case len(f.Columns) == 0:
			fmt.Fprintf(s.out, "⚠ %s: No columns detected (empty or unreadable)\n", f.RelPath)
		default:
			fmt.Fprintf(s.out, "✓ %s: %d columns found\n", f.RelPath, len(f.Columns))
			schema.Files = append(schema.Files, f)
		}
	}
	return schema, nil
}

// skipUnreadable reports an entry the walk could not read and skips it.
func (s *Scanner) skipUnreadable(rel string, d fs.DirEntry, err error) error {
	fmt.Fprintf(s.out, "⚠ %s: Could not read (%s)\n", rel, Category(err))
	if d != nil && d.IsDir() {
		return fs.SkipDir
	}
	return nil
}

// ReadHeader returns the column names of a source file.
func ReadHeader(path string, kind Kind) ([]string, error) {
	switch kind {
	case KindCSV:
		return readCSVHeader(path)
	case KindExcel:
		return readExcelHeader(path)
	default:
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrUnreadableSource, filepath.Base(path), errUnsupportedFormat)
	}
}

var (
	errUnsupportedFormat = errors.New("unsupported format")
	errParse             = errors.New("parse error")
)

// Category names the class of a read failure for the progress line.
func Category(err error) string {
	switch {
	case errors.Is(err, errUnsupportedFormat):
		return "UnsupportedFormat"
	case errors.Is(err, fs.ErrPermission):
		return "PermissionError"
	case errors.Is(err, fs.ErrNotExist):
		return "FileNotFoundError"
	case errors.Is(err, errParse):
		return "ParserError"
	default:
		return "ReadError"
	}
}

// dedupe renames blank and repeated header cells the way spreadsheet tools
// do: "Unnamed: <i>" and "<name>.<n>".
func dedupe(cols []string) []string {
	used := make(map[string]bool, len(cols))
	out := make([]string, len(cols))
	for i, c := range cols {
		c = strings.TrimSpace(c)
		if c == "" {
			c = fmt.Sprintf("Unnamed: %d", i)
		}
		name := c
		for n := 1; used[name]; n++ {
			name = fmt.Sprintf("%s.%d", c, n)
		}
		used[name] = true
		out[i] = name
	}
	return out
}
