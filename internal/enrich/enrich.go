// Package enrich fills the region column of a delimited file from the
// registry store, leaving every other byte of meaning untouched.
package enrich

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/msklv/inn-smsp-registry/internal/batch"
	"github.com/msklv/inn-smsp-registry/internal/errs"
	"github.com/msklv/inn-smsp-registry/internal/logging"
	"github.com/msklv/inn-smsp-registry/internal/metrics"
	"github.com/msklv/inn-smsp-registry/internal/normalize"
)

const bom = "\ufeff"

// Lookuper resolves identifiers to regions. Identifiers not present in the
// store are absent from the returned map.
type Lookuper interface {
	Lookup(ctx context.Context, ids []string) (map[string]string, error)
}

// Options selects the columns and batching of an enrichment pass.
type Options struct {
	Delimiter     rune
	IDColumns     []string
	RegionColumn  string
	BatchSize     int
	ProgressEvery int
}

// Summary counts the rows written by one pass. Every row lands in exactly
// one of Filled, AlreadyFilled, NotFound or NoIdentifier.
type Summary struct {
	Rows          int
	Filled        int
	AlreadyFilled int
	NotFound      int
	NoIdentifier  int
	Elapsed       time.Duration
}

// Enricher streams a file through the store lookup in batches.
type Enricher struct {
	lookup  Lookuper
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithLogger sets the progress logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Enricher) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics records row outcomes and lookup durations in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Enricher) { e.metrics = m }
}

// New returns an Enricher resolving identifiers through lookup.
func New(lookup Lookuper, opts Options, options ...Option) (*Enricher, error) {
	if lookup == nil {
		return nil, errors.New("enrich: nil lookup")
	}
	if opts.Delimiter == 0 {
		opts.Delimiter = ';'
	}
	if opts.BatchSize < 1 {
		return nil, fmt.Errorf("enrich: batch size must be positive, got %d", opts.BatchSize)
	}
	if len(opts.IDColumns) == 0 || opts.RegionColumn == "" {
		return nil, errors.New("enrich: identifier and region columns are required")
	}
	e := &Enricher{
		lookup: lookup,
		opts:   opts,
		logger: logging.Discard(),
	}
	for _, o := range options {
		o(e)
	}
	return e, nil
}

// EnrichFile enriches input into output. The result is written next to
// output and renamed over it only once the whole input has been processed.
func (e *Enricher) EnrichFile(ctx context.Context, input, output string) (*Summary, error) {
	info, err := os.Stat(input)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errs.Config("INPUT_FILE", errs.ErrMissingInput, "%s does not exist", input)
		}
		return nil, errs.Config("INPUT_FILE", errs.ErrMissingInput, "%v", err)
	}
	if info.IsDir() {
		return nil, errs.Config("INPUT_FILE", errs.ErrMissingInput, "%s is a directory", input)
	}

	in, err := os.Open(input)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer in.Close()

	tmp := output + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}

	summary, err := e.Enrich(ctx, in, out)
	if cerr := out.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close output: %w", cerr)
	}
	if err != nil {
		os.Remove(tmp)
		return nil, err
	}
	if err := os.Rename(tmp, output); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("replace output: %w", err)
	}
	return summary, nil
}

type pendingRow struct {
	raw    string // input bytes of the record, line ending included
	fields []string
	id     string // canonical identifier, empty when absent or not needed
}

// pass is the state of one Enrich call.
type pass struct {
	*Enricher
	out       *bufio.Writer
	line      bytes.Buffer
	enc       *csv.Writer // encodes filled rows into line
	crlf      bool        // header line ended in CRLF
	idCol     int
	regionCol int
	width     int
	summary   Summary
}

// Enrich copies r to w, filling empty region cells of rows whose identifier
// is in the store. The header line and every row left unchanged are copied
// byte for byte; filled rows are re-encoded and padded to the header width.
// Rows keep their input order.
func (e *Enricher) Enrich(ctx context.Context, r io.Reader, w io.Writer) (*Summary, error) {
	start := time.Now()
	br := bufio.NewReaderSize(r, 64*1024)

	rawHeader, err := br.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read header: %w", err)
	}
	header, err := e.parseHeader(rawHeader)
	if err != nil {
		return nil, err
	}

	p := &pass{Enricher: e, width: len(header)}
	if p.idCol, p.regionCol, err = e.columns(header); err != nil {
		return nil, err
	}

	bw := bufio.NewWriterSize(w, 64*1024)
	if _, err := bw.WriteString(rawHeader); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	p.out = bw
	p.crlf = strings.HasSuffix(rawHeader, "\r\n")
	p.enc = csv.NewWriter(&p.line)
	p.enc.Comma = e.opts.Delimiter

	// raw holds what the csv reader has pulled from br but not yet handed
	// out as a record.
	var raw bytes.Buffer
	var offset int64
	in := csv.NewReader(io.TeeReader(br, &raw))
	in.Comma = e.opts.Delimiter
	in.FieldsPerRecord = -1
	in.LazyQuotes = true

	acc, err := batch.New[pendingRow](e.opts.BatchSize, batch.SinkFunc[pendingRow](p.flush))
	if err != nil {
		return nil, err
	}

	for {
		fields, err := in.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
		next := in.InputOffset()
		record := string(raw.Next(int(next - offset)))
		offset = next

		if !acc.Add(p.pending(record, fields)) {
			continue
		}
		if _, err := acc.Flush(ctx); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	if _, err := acc.Flush(ctx); err != nil {
		return nil, err
	}
	// blank lines after the last record
	if _, err := bw.Write(raw.Bytes()); err != nil {
		return nil, fmt.Errorf("write output: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return nil, fmt.Errorf("write output: %w", err)
	}

	p.summary.Elapsed = time.Since(start)
	e.logger.Info("enrichment done",
		"rows", p.summary.Rows,
		"filled", p.summary.Filled,
		"already_filled", p.summary.AlreadyFilled,
		"not_found", p.summary.NotFound,
		"no_identifier", p.summary.NoIdentifier,
		"took", p.summary.Elapsed.Round(time.Millisecond))
	return &p.summary, nil
}

// parseHeader splits the raw header line. The byte order mark only matters
// for the copy written to the output.
func (e *Enricher) parseHeader(raw string) ([]string, error) {
	raw = strings.TrimPrefix(raw, bom)
	if strings.TrimSpace(raw) == "" {
		return nil, errs.Config("INPUT_FILE", errs.ErrMissingColumn, "input has no header line")
	}
	hr := csv.NewReader(strings.NewReader(raw))
	hr.Comma = e.opts.Delimiter
	hr.LazyQuotes = true
	header, err := hr.Read()
	if err != nil {
		return nil, errs.Config("INPUT_FILE", errs.ErrMissingColumn, "unreadable header: %v", err)
	}
	return header, nil
}

// columns locates the identifier and region columns. Surrounding spaces are
// ignored when matching.
func (e *Enricher) columns(header []string) (idCol, regionCol int, err error) {
	idCol, regionCol = -1, -1
	for i, cell := range header {
		name := strings.TrimSpace(cell)
		if idCol < 0 && slices.Contains(e.opts.IDColumns, name) {
			idCol = i
		}
		if regionCol < 0 && name == e.opts.RegionColumn {
			regionCol = i
		}
	}
	if idCol < 0 {
		return 0, 0, errs.Config("ENRICH_ID_COLUMNS", errs.ErrMissingColumn,
			"none of %s found in header", strings.Join(e.opts.IDColumns, ", "))
	}
	if regionCol < 0 {
		return 0, 0, errs.Config("ENRICH_REGION_COLUMN", errs.ErrMissingColumn,
			"%s not found in header", e.opts.RegionColumn)
	}
	return idCol, regionCol, nil
}

// pending resolves the identifier of rows whose region is still empty.
func (p *pass) pending(raw string, fields []string) pendingRow {
	row := pendingRow{raw: raw, fields: fields}
	if cell(fields, p.regionCol) == "" {
		row.id = normalize.Identifier(cell(fields, p.idCol))
	}
	return row
}

func cell(fields []string, i int) string {
	if i < len(fields) {
		return fields[i]
	}
	return ""
}

// flush looks up the batch's identifiers in one query and writes its rows.
func (p *pass) flush(ctx context.Context, rows []pendingRow) (int, error) {
	var ids []string
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if row.id == "" {
			continue
		}
		if _, ok := seen[row.id]; ok {
			continue
		}
		seen[row.id] = struct{}{}
		ids = append(ids, row.id)
	}

	var regions map[string]string
	if len(ids) > 0 {
		start := time.Now()
		var err error
		regions, err = p.lookup.Lookup(ctx, ids)
		if err != nil {
			return 0, fmt.Errorf("enrich batch ending at row %d: %w", p.summary.Rows+len(rows), err)
		}
		p.metrics.ObserveLookup(time.Since(start))
	}

	for _, row := range rows {
		var err error
		if region, ok := p.fill(row, regions); ok {
			err = p.writeFilled(row, region)
		} else {
			_, err = p.out.WriteString(row.raw)
		}
		if err != nil {
			return 0, fmt.Errorf("write output: %w", err)
		}
		p.summary.Rows++
		if p.summary.Rows%p.opts.progressEvery() == 0 {
			p.logger.Info("enrichment progress", "rows", p.summary.Rows, "filled", p.summary.Filled)
		}
	}
	return len(rows), nil
}

// fill counts the row's outcome and returns the region to write into it, if
// any. Only an empty cell is filled; whitespace counts as a value.
func (p *pass) fill(row pendingRow, regions map[string]string) (string, bool) {
	var result, region string
	switch {
	case cell(row.fields, p.regionCol) != "":
		result = metrics.RowAlreadyFilled
		p.summary.AlreadyFilled++
	case row.id == "":
		result = metrics.RowNoIdentifier
		p.summary.NoIdentifier++
	default:
		if r, ok := regions[row.id]; ok && r != "" {
			region = r
			result = metrics.RowFilled
			p.summary.Filled++
		} else {
			result = metrics.RowNotFound
			p.summary.NotFound++
		}
	}
	p.metrics.ObserveRow(result)
	return region, region != ""
}

// writeFilled re-encodes a row with its region set. Blank lines skipped by
// the reader before the record and the record's own line ending are kept.
func (p *pass) writeFilled(row pendingRow, region string) error {
	fields := row.fields
	for len(fields) < p.width {
		fields = append(fields, "")
	}
	fields[p.regionCol] = region

	record := strings.TrimLeft(row.raw, "\r\n")
	blank := row.raw[:len(row.raw)-len(record)]

	p.line.Reset()
	switch {
	case strings.HasSuffix(record, "\r\n"):
		p.enc.UseCRLF = true
	case strings.HasSuffix(record, "\n"):
		p.enc.UseCRLF = false
	default:
		// last record without a line ending
		p.enc.UseCRLF = p.crlf
	}
	if err := p.enc.Write(fields); err != nil {
		return err
	}
	p.enc.Flush()
	if err := p.enc.Error(); err != nil {
		return err
	}

	if _, err := p.out.WriteString(blank); err != nil {
		return err
	}
	_, err := p.out.Write(p.line.Bytes())
	return err
}

func (o Options) progressEvery() int {
	if o.ProgressEvery < 1 {
		return 10000
	}
	return o.ProgressEvery
}
