package enrich

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msklv/inn-smsp-registry/internal/errs"
)

// fakeStore answers lookups from a fixed map and records every query.
type fakeStore struct {
	regions map[string]string
	queries [][]string
	err     error
}

func (f *fakeStore) Lookup(_ context.Context, ids []string) (map[string]string, error) {
	f.queries = append(f.queries, append([]string(nil), ids...))
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]string)
	for _, id := range ids {
		if r, ok := f.regions[id]; ok {
			out[id] = r
		}
	}
	return out, nil
}

func defaultOptions(batchSize int) Options {
	return Options{
		Delimiter:     ';',
		IDColumns:     []string{"ИНН"},
		RegionColumn:  "Регион",
		BatchSize:     batchSize,
		ProgressEvery: 10000,
	}
}

func run(t *testing.T, store *fakeStore, opts Options, input string) (string, *Summary) {
	t.Helper()
	e, err := New(store, opts)
	require.NoError(t, err)

	var out bytes.Buffer
	summary, err := e.Enrich(context.Background(), strings.NewReader(input), &out)
	require.NoError(t, err)
	return out.String(), summary
}

func TestEnrichFillsEmptyRegion(t *testing.T) {
	store := &fakeStore{regions: map[string]string{"123456789012": "77"}}

	got, summary := run(t, store, defaultOptions(10000),
		"ИНН;Регион\n123456789012;\n000000000000;55\n")

	assert.Equal(t, "ИНН;Регион\n123456789012;77\n000000000000;55\n", got)
	assert.Equal(t, 2, summary.Rows)
	assert.Equal(t, 1, summary.Filled)
	assert.Equal(t, 1, summary.AlreadyFilled)
	// rows that already have a region are not looked up
	assert.Equal(t, [][]string{{"123456789012"}}, store.queries)
}

func TestEnrichNeverOverwritesRegion(t *testing.T) {
	store := &fakeStore{regions: map[string]string{"123456789012": "77"}}

	got, summary := run(t, store, defaultOptions(10),
		"ИНН;Регион\n123456789012;50\n123456789012;01 \n")

	assert.Equal(t, "ИНН;Регион\n123456789012;50\n123456789012;01 \n", got)
	assert.Equal(t, 2, summary.AlreadyFilled)
	assert.Empty(t, store.queries)
}

func TestEnrichOutcomes(t *testing.T) {
	store := &fakeStore{regions: map[string]string{
		"123456789012": "77",
		"7707083893":   "78",
	}}

	input := "Имя;ИНН;Регион;Примечание\n" +
		"Петров;1234-5678-9012;;a\n" + // normalized before lookup
		"Ромашка;7707083893;;b\n" +
		"Неизвестный;999999999999;;c\n" +
		"Без ИНН;;;d\n" +
		"Мусор;n/a;;e\n" +
		"Заполнен;7707083893;50;f\n"

	got, summary := run(t, store, defaultOptions(100), input)

	assert.Equal(t, "Имя;ИНН;Регион;Примечание\n"+
		"Петров;1234-5678-9012;77;a\n"+
		"Ромашка;7707083893;78;b\n"+
		"Неизвестный;999999999999;;c\n"+
		"Без ИНН;;;d\n"+
		"Мусор;n/a;;e\n"+
		"Заполнен;7707083893;50;f\n", got)
	assert.Equal(t, Summary{
		Rows: 6, Filled: 2, AlreadyFilled: 1, NotFound: 1, NoIdentifier: 2,
		Elapsed: summary.Elapsed,
	}, *summary)
}

func TestEnrichPreservesOrderAcrossBatchSizes(t *testing.T) {
	store := &fakeStore{regions: map[string]string{}}
	var in, want strings.Builder
	in.WriteString("ИНН;Регион\n")
	want.WriteString("ИНН;Регион\n")
	for i := 1; i <= 25; i++ {
		id := fmt.Sprintf("%012d", i)
		switch i % 3 {
		case 0: // known, empty region
			store.regions[id] = fmt.Sprintf("%02d", i)
			fmt.Fprintf(&in, "%s;\n", id)
			fmt.Fprintf(&want, "%s;%02d\n", id, i)
		case 1: // already filled
			fmt.Fprintf(&in, "%s;99\n", id)
			fmt.Fprintf(&want, "%s;99\n", id)
		default: // unknown
			fmt.Fprintf(&in, "%s;\n", id)
			fmt.Fprintf(&want, "%s;\n", id)
		}
	}

	for _, size := range []int{1, 7, 25, 26} {
		t.Run(fmt.Sprintf("batch=%d", size), func(t *testing.T) {
			s := &fakeStore{regions: store.regions}
			got, summary := run(t, s, defaultOptions(size), in.String())

			assert.Equal(t, want.String(), got)
			assert.Equal(t, 25, summary.Rows)
			assert.Equal(t, 8, summary.Filled)
			for _, q := range s.queries {
				assert.LessOrEqual(t, len(q), size)
			}
		})
	}
}

func TestEnrichCompleteness(t *testing.T) {
	// every row with an empty region and a known identifier gets filled
	store := &fakeStore{regions: map[string]string{"111111111111": "01", "222222222222": "02"}}

	got, summary := run(t, store, defaultOptions(2),
		"ИНН;Регион\n111111111111;\n222222222222;\n111111111111;\n")

	assert.Equal(t, "ИНН;Регион\n111111111111;01\n222222222222;02\n111111111111;01\n", got)
	assert.Equal(t, 3, summary.Filled)
	// duplicates within a batch are queried once
	assert.Equal(t, [][]string{{"111111111111", "222222222222"}, {"111111111111"}}, store.queries)
}

func TestEnrichHeaderKeptVerbatim(t *testing.T) {
	store := &fakeStore{regions: map[string]string{"123456789012": "77"}}

	got, _ := run(t, store, defaultOptions(10),
		"\ufeff\"ИНН\";Регион;Сумма\r\n123456789012;;10\r\n")

	assert.Equal(t, "\ufeff\"ИНН\";Регион;Сумма\r\n123456789012;77;10\r\n", got)
}

func TestEnrichPadsShortRows(t *testing.T) {
	store := &fakeStore{regions: map[string]string{"123456789012": "77"}}

	got, _ := run(t, store, defaultOptions(10),
		"ИНН;Примечание;Регион\n123456789012\n")

	assert.Equal(t, "ИНН;Примечание;Регион\n123456789012;;77\n", got)
}

func TestEnrichHeaderOnly(t *testing.T) {
	store := &fakeStore{}

	got, summary := run(t, store, defaultOptions(10), "ИНН;Регион")

	assert.Equal(t, "ИНН;Регион", got)
	assert.Zero(t, summary.Rows)
	assert.Empty(t, store.queries)
}

func TestEnrichWhitespaceRegionIsKept(t *testing.T) {
	store := &fakeStore{regions: map[string]string{"123456789012": "77"}}

	got, summary := run(t, store, defaultOptions(10), "ИНН;Регион\n123456789012; \n")

	assert.Equal(t, "ИНН;Регион\n123456789012; \n", got)
	assert.Equal(t, 1, summary.AlreadyFilled)
	assert.Zero(t, summary.Filled)
	assert.Empty(t, store.queries)
}

func TestEnrichUnchangedRowsCopiedVerbatim(t *testing.T) {
	store := &fakeStore{regions: map[string]string{"123456789012": "77"}}

	input := "ИНН;Регион;Имя\n" +
		"999999999999;; Петров\n" + // not found
		"\"000000000000\";\"55\";\"Ромашка\"\n" + // already filled, redundant quotes
		";;Без ИНН\r\n" + // no identifier
		"\n" +
		"123456789012;; Сидоров\n" +
		"\n"

	got, summary := run(t, store, defaultOptions(2), input)

	assert.Equal(t, "ИНН;Регион;Имя\n"+
		"999999999999;; Петров\n"+
		"\"000000000000\";\"55\";\"Ромашка\"\n"+
		";;Без ИНН\r\n"+
		"\n"+
		"123456789012;77;\" Сидоров\"\n"+
		"\n", got)
	assert.Equal(t, 4, summary.Rows)
	assert.Equal(t, 1, summary.Filled)
	assert.Equal(t, 1, summary.NotFound)
	assert.Equal(t, 1, summary.AlreadyFilled)
	assert.Equal(t, 1, summary.NoIdentifier)
}

func TestEnrichLastRowWithoutNewline(t *testing.T) {
	store := &fakeStore{regions: map[string]string{"123456789012": "77"}}

	got, _ := run(t, store, defaultOptions(10), "ИНН;Регион\n123456789012;")

	assert.Equal(t, "ИНН;Регион\n123456789012;77\n", got)
}

func TestEnrichAlternateIdentifierColumn(t *testing.T) {
	store := &fakeStore{regions: map[string]string{"123456789012": "77"}}
	opts := defaultOptions(10)
	opts.Delimiter = ','
	opts.IDColumns = []string{"ИНН", "ИННФЛ"}

	got, _ := run(t, store, opts, "ИННФЛ,Регион\n123456789012,\n")

	assert.Equal(t, "ИННФЛ,Регион\n123456789012,77\n", got)
}

func TestEnrichMissingColumns(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		setting string
	}{
		{name: "no identifier column", input: "Имя;Регион\nx;\n", setting: "ENRICH_ID_COLUMNS"},
		{name: "no region column", input: "ИНН;Имя\n1;x\n", setting: "ENRICH_REGION_COLUMN"},
		{name: "empty input", input: "", setting: "INPUT_FILE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{}
			e, err := New(store, defaultOptions(10))
			require.NoError(t, err)

			var out bytes.Buffer
			_, err = e.Enrich(context.Background(), strings.NewReader(tt.input), &out)

			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrMissingColumn)
			var ce *errs.ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.setting, ce.Setting)
			assert.Zero(t, out.Len(), "nothing written before the header is validated")
			assert.Empty(t, store.queries)
		})
	}
}

func TestEnrichLookupFailureIsFatal(t *testing.T) {
	store := &fakeStore{err: errors.New("relation \"msp_inn_region\" does not exist")}
	e, err := New(store, defaultOptions(10))
	require.NoError(t, err)

	_, err = e.Enrich(context.Background(), strings.NewReader("ИНН;Регион\n123456789012;\n"), &bytes.Buffer{})

	require.ErrorIs(t, err, store.err)
	assert.False(t, errs.IsConfig(err))
}

func TestEnrichFile(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.csv")
	output := filepath.Join(dir, "output.csv")
	require.NoError(t, os.WriteFile(input, []byte("ИНН;Регион\n123456789012;\n"), 0o600))

	e, err := New(&fakeStore{regions: map[string]string{"123456789012": "77"}}, defaultOptions(10))
	require.NoError(t, err)

	summary, err := e.EnrichFile(context.Background(), input, output)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Filled)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "ИНН;Регион\n123456789012;77\n", string(data))

	_, err = os.Stat(output + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestEnrichFileMissingInput(t *testing.T) {
	dir := t.TempDir()
	e, err := New(&fakeStore{}, defaultOptions(10))
	require.NoError(t, err)

	_, err = e.EnrichFile(context.Background(), filepath.Join(dir, "missing.csv"), filepath.Join(dir, "out.csv"))

	require.Error(t, err)
	assert.True(t, errs.IsConfig(err))
	assert.ErrorIs(t, err, errs.ErrMissingInput)
}

func TestEnrichFileKeepsPreviousOutputOnFailure(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.csv")
	output := filepath.Join(dir, "output.csv")
	require.NoError(t, os.WriteFile(input, []byte("ИНН;Регион\n123456789012;\n"), 0o600))
	require.NoError(t, os.WriteFile(output, []byte("previous"), 0o600))

	e, err := New(&fakeStore{err: errors.New("connection refused")}, defaultOptions(10))
	require.NoError(t, err)

	_, err = e.EnrichFile(context.Background(), input, output)
	require.Error(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "previous", string(data))
	_, err = os.Stat(output + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, defaultOptions(10))
	assert.Error(t, err)

	_, err = New(&fakeStore{}, defaultOptions(0))
	assert.Error(t, err)

	opts := defaultOptions(10)
	opts.IDColumns = nil
	_, err = New(&fakeStore{}, opts)
	assert.Error(t, err)
}
