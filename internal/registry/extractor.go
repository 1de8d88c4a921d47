package registry

import (
	"compress/gzip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/msklv/inn-smsp-registry/internal/errs"
	"github.com/msklv/inn-smsp-registry/internal/logging"
)

// errStop signals that the consumer stopped ranging over the records.
var errStop = errors.New("registry: consumer stopped")

// FileResult summarises one processed input file.
type FileResult struct {
	Path           string
	Records        int
	SkippedRecords int
	Err            error // non-nil when the file was skipped
}

// Stats accumulates over every file handled by an Extractor.
type Stats struct {
	Files          int
	SkippedFiles   int
	Records        int
	SkippedRecords int
}

// Options configures an Extractor.
type Options struct {
	// Preflight checks that a file is well-formed before any record is taken
	// from it, so a corrupted file contributes nothing. Without it, records
	// before the first syntax error are still yielded.
	Preflight bool
	Logger    *slog.Logger
	// OnFile, when set, is called after each file is done or skipped.
	OnFile func(FileResult)
}

// Extractor walks a directory of registry dumps one file and one record at a
// time. It is not safe for concurrent use.
type Extractor struct {
	opts   Options
	logger *slog.Logger
	stats  Stats
}

// NewExtractor returns an Extractor with the given options.
func NewExtractor(opts Options) *Extractor {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Extractor{opts: opts, logger: logger}
}

// Stats returns the counters collected so far.
func (e *Extractor) Stats() Stats { return e.stats }

// ListFiles returns the *.xml and *.xml.gz files of dir in lexicographic
// order, following symlinks. A missing directory is a configuration error.
func ListFiles(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errs.Config("XML_DIR", errs.ErrMissingInput, "%s does not exist", dir)
		}
		return nil, errs.Config("XML_DIR", errs.ErrMissingInput, "%v", err)
	}
	if !info.IsDir() {
		return nil, errs.Config("XML_DIR", errs.ErrMissingInput, "%s is not a directory", dir)
	}

	entries, err := os.ReadDir(dir) // sorted by name
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		name := strings.ToLower(entry.Name())
		if !strings.HasSuffix(name, ".xml") && !strings.HasSuffix(name, ".xml.gz") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if isRegularFile(entry, path) {
			files = append(files, path)
		}
	}
	return files, nil
}

// isRegularFile reports whether entry is a regular file or a symlink to one.
func isRegularFile(entry os.DirEntry, path string) bool {
	if entry.Type().IsRegular() {
		return true
	}
	if entry.Type()&os.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Records lists dir and returns a lazy sequence over every valid record of
// every file. Listing errors are returned immediately; per-file failures are
// logged as warnings and the file is skipped. The sequence ends early when
// ctx is cancelled.
func (e *Extractor) Records(ctx context.Context, dir string) (iter.Seq[Record], error) {
	files, err := ListFiles(dir)
	if err != nil {
		return nil, err
	}
	e.logger.Info("registry files found", "dir", dir, "files", len(files))

	return func(yield func(Record) bool) {
		for _, path := range files {
			if ctx.Err() != nil {
				return
			}
			if !e.extractFile(ctx, path, yield) {
				return
			}
		}
	}, nil
}

// extractFile yields the records of one file and reports whether iteration
// should continue with the next file.
func (e *Extractor) extractFile(ctx context.Context, path string, yield func(Record) bool) bool {
	result := FileResult{Path: path}
	e.stats.Files++

	if e.opts.Preflight {
		if err := verifyFile(ctx, path); err != nil {
			if ctx.Err() != nil {
				return false
			}
			e.skipFile(&result, err)
			return true
		}
	}

	sourceFile := filepath.Base(path)
	err := scanFile(ctx, path, func(doc *document) bool {
		rec, ok := doc.record(sourceFile)
		if !ok {
			result.SkippedRecords++
			e.stats.SkippedRecords++
			return true
		}
		result.Records++
		e.stats.Records++
		return yield(rec)
	})

	switch {
	case errors.Is(err, errStop):
		return false
	case ctx.Err() != nil:
		return false
	case err != nil:
		e.skipFile(&result, err)
		return true
	}

	e.logger.Debug("registry file done", "file", sourceFile,
		"records", result.Records, "skipped_records", result.SkippedRecords)
	e.notify(result)
	return true
}

func (e *Extractor) skipFile(result *FileResult, err error) {
	result.Err = &errs.FileError{Path: result.Path, Err: err}
	e.stats.SkippedFiles++
	e.logger.Warn("skipping registry file", "file", result.Path,
		"records_before_error", result.Records, "error", err)
	e.notify(*result)
}

func (e *Extractor) notify(result FileResult) {
	if e.opts.OnFile != nil {
		e.opts.OnFile(result)
	}
}

// openFile returns a reader over the file contents, decompressing *.gz.
func openFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(strings.ToLower(path), ".gz") {
		return f, nil
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return &gzipFile{Reader: zr, file: f}, nil
}

type gzipFile struct {
	*gzip.Reader
	file *os.File
}

func (g *gzipFile) Close() error {
	zerr := g.Reader.Close()
	if err := g.file.Close(); err != nil {
		return err
	}
	return zerr
}

func newDecoder(r io.Reader) *xml.Decoder {
	dec := xml.NewDecoder(r)
	// registry dumps are declared windows-1251
	dec.CharsetReader = charset.NewReaderLabel
	return dec
}

// scanFile decodes one <Документ> element at a time and hands it to fn. Only
// the current element is held in memory; it is dropped before the decoder
// advances. fn returning false stops the scan with errStop.
func scanFile(ctx context.Context, path string, fn func(*document) bool) error {
	rc, err := openFile(path)
	if err != nil {
		return err
	}
	defer rc.Close()

	dec := newDecoder(rc)
	var doc document
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != RecordElement {
			continue
		}

		doc = document{}
		if err := dec.DecodeElement(&doc, &start); err != nil {
			return err
		}
		if !fn(&doc) {
			return errStop
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// verifyFile reads the whole file as tokens without keeping any of them,
// returning the first syntax or read error.
func verifyFile(ctx context.Context, path string) error {
	rc, err := openFile(path)
	if err != nil {
		return err
	}
	defer rc.Close()

	dec := newDecoder(rc)
	sawRoot := false
	for n := 0; ; n++ {
		tok, err := dec.Token()
		if err == io.EOF {
			if !sawRoot {
				return errors.New("no root element")
			}
			return nil
		}
		if err != nil {
			return err
		}
		if _, ok := tok.(xml.StartElement); ok {
			sawRoot = true
		}
		if n%65536 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
}
