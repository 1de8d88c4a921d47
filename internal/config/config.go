// Package config builds the single configuration value used by every command.
//
// Values come from the environment (optionally seeded from a .env file by
// LoadEnv) and are then overridden by command line flags in cmd/registry.
package config

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/msklv/inn-smsp-registry/internal/errs"
)

// Defaults mirror the values the registry tooling has always used.
const (
	DefaultTable              = "msp_inn_region"
	DefaultIndexName          = "idx_msp_inn"
	DefaultLoadBatchSize      = 20000
	DefaultEnrichBatchSize    = 10000
	DefaultEnrichProgressRows = 10000
)

// DatabaseConfig holds PostgreSQL connection settings and the target table.
type DatabaseConfig struct {
	URL          string // DATABASE_URL, takes precedence over the discrete fields
	Host         string
	Port         string
	User         string
	Password     string
	Name         string
	SSLMode      string
	Table        string
	IndexName    string
	MaxOpenConns int
}

// LoadConfig drives the registry load pass.
type LoadConfig struct {
	Dir       string
	BatchSize int
	Preflight bool // verify each file is well-formed before extracting from it
	SkipIndex bool
}

// EnrichConfig drives the enrichment pass.
type EnrichConfig struct {
	Input         string
	Output        string
	Delimiter     rune
	IDColumns     []string // first header cell matching any of these is the identifier column
	RegionColumn  string
	BatchSize     int
	ProgressEvery int
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text or json
}

// Config is built once at startup and passed to each component.
type Config struct {
	Database    DatabaseConfig
	Load        LoadConfig
	Enrich      EnrichConfig
	Log         LogConfig
	MetricsAddr string
}

// FromEnv builds a Config from environment variables.
func FromEnv() (*Config, error) {
	delimiter, err := ParseDelimiter(GetEnv("CSV_DELIMITER", ";"))
	if err != nil {
		return nil, err
	}

	return &Config{
		Database: DatabaseConfig{
			URL:          GetEnv("DATABASE_URL", ""),
			Host:         GetEnv("POSTGRES_HOST", "localhost"),
			Port:         GetEnv("POSTGRES_PORT", "5432"),
			User:         GetEnv("POSTGRES_USER", "user"),
			Password:     GetEnv("POSTGRES_PASSWORD", "password"),
			Name:         GetEnv("POSTGRES_DB", "mydb"),
			SSLMode:      GetEnv("POSTGRES_SSLMODE", "disable"),
			Table:        GetEnv("PG_TABLE", DefaultTable),
			IndexName:    GetEnv("PG_INDEX", DefaultIndexName),
			MaxOpenConns: GetEnvInt("POSTGRES_MAX_CONNS", 4),
		},
		Load: LoadConfig{
			Dir:       GetEnv("XML_DIR", "./xml"),
			BatchSize: GetEnvInt("BATCH_SIZE", DefaultLoadBatchSize),
			Preflight: GetEnvBool("LOAD_PREFLIGHT", true),
			SkipIndex: GetEnvBool("LOAD_SKIP_INDEX", false),
		},
		Enrich: EnrichConfig{
			Input:         GetEnv("INPUT_FILE", "input.csv"),
			Output:        GetEnv("OUTPUT_FILE", "output_enriched.csv"),
			Delimiter:     delimiter,
			IDColumns:     GetEnvList("ENRICH_ID_COLUMNS", []string{"ИНН"}),
			RegionColumn:  GetEnv("ENRICH_REGION_COLUMN", "Регион"),
			BatchSize:     GetEnvInt("ENRICH_BATCH_SIZE", DefaultEnrichBatchSize),
			ProgressEvery: GetEnvInt("ENRICH_PROGRESS_EVERY", DefaultEnrichProgressRows),
		},
		Log: LogConfig{
			Level:  GetEnv("LOG_LEVEL", "info"),
			Format: GetEnv("LOG_FORMAT", "text"),
		},
		MetricsAddr: GetEnv("METRICS_ADDR", ""),
	}, nil
}

// ParseDelimiter accepts a single character or the names "tab", "comma" and
// "semicolon".
func ParseDelimiter(s string) (rune, error) {
	switch strings.ToLower(s) {
	case "tab", `\t`:
		return '\t', nil
	case "comma":
		return ',', nil
	case "semicolon":
		return ';', nil
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, errs.Config("CSV_DELIMITER", errs.ErrInvalidSetting, "want a single character, got %q", s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	if r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
		return 0, errs.Config("CSV_DELIMITER", errs.ErrInvalidSetting, "%q cannot be used as a delimiter", s)
	}
	return r, nil
}

// SlogLevel maps the configured level to an slog.Level.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var reSQLName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// DSN returns a lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		dsnValue(d.Host), dsnValue(d.Port), dsnValue(d.User),
		dsnValue(d.Password), dsnValue(d.Name), dsnValue(d.SSLMode))
}

// Redacted is the DSN with the password hidden, for logs.
func (d DatabaseConfig) Redacted() string {
	if d.URL != "" {
		return "DATABASE_URL"
	}
	return fmt.Sprintf("host=%s port=%s user=%s dbname=%s", d.Host, d.Port, d.User, d.Name)
}

// dsnValue quotes a keyword/value connection parameter when needed.
func dsnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// Validate checks the settings every command needs.
func (d DatabaseConfig) Validate() error {
	if d.URL == "" {
		if d.Host == "" {
			return errs.Config("POSTGRES_HOST", errs.ErrInvalidSetting, "must not be empty")
		}
		if d.Name == "" {
			return errs.Config("POSTGRES_DB", errs.ErrInvalidSetting, "must not be empty")
		}
	}
	if !reSQLName.MatchString(d.Table) {
		return errs.Config("PG_TABLE", errs.ErrInvalidSetting, "%q is not a plain or schema-qualified table name", d.Table)
	}
	if !reSQLName.MatchString(d.IndexName) || strings.Contains(d.IndexName, ".") {
		return errs.Config("PG_INDEX", errs.ErrInvalidSetting, "%q is not a plain index name", d.IndexName)
	}
	if d.MaxOpenConns < 2 {
		// the index build needs a dedicated connection next to the pool's
		return errs.Config("POSTGRES_MAX_CONNS", errs.ErrInvalidSetting, "need at least 2, got %d", d.MaxOpenConns)
	}
	return nil
}

// Validate checks the load pass settings.
func (l LoadConfig) Validate() error {
	if l.Dir == "" {
		return errs.Config("XML_DIR", errs.ErrInvalidSetting, "must not be empty")
	}
	if l.BatchSize < 1 {
		return errs.Config("BATCH_SIZE", errs.ErrInvalidSetting, "must be positive, got %d", l.BatchSize)
	}
	return nil
}

// Validate checks the enrichment pass settings.
func (e EnrichConfig) Validate() error {
	if e.Input == "" {
		return errs.Config("INPUT_FILE", errs.ErrInvalidSetting, "must not be empty")
	}
	if e.Output == "" {
		return errs.Config("OUTPUT_FILE", errs.ErrInvalidSetting, "must not be empty")
	}
	if e.Input == e.Output {
		return errs.Config("OUTPUT_FILE", errs.ErrInvalidSetting, "must differ from INPUT_FILE")
	}
	if len(e.IDColumns) == 0 {
		return errs.Config("ENRICH_ID_COLUMNS", errs.ErrInvalidSetting, "must name at least one column")
	}
	if e.RegionColumn == "" {
		return errs.Config("ENRICH_REGION_COLUMN", errs.ErrInvalidSetting, "must not be empty")
	}
	if e.BatchSize < 1 {
		return errs.Config("ENRICH_BATCH_SIZE", errs.ErrInvalidSetting, "must be positive, got %d", e.BatchSize)
	}
	if e.ProgressEvery < 1 {
		return errs.Config("ENRICH_PROGRESS_EVERY", errs.ErrInvalidSetting, "must be positive, got %d", e.ProgressEvery)
	}
	return nil
}
