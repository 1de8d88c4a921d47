// Package errs separates run-aborting failures from failures that only cost
// one input file.
//
// A ConfigError is fatal: it is reported before any record or row is
// processed. A FileError is recoverable: the extractor logs it and moves on to
// the next file. Everything else (store and I/O failures) is returned wrapped
// and treated as fatal by the caller.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingInput marks a required input file or directory that does not exist.
	ErrMissingInput = errors.New("missing input")
	// ErrMissingColumn marks a tabular header without a required column.
	ErrMissingColumn = errors.New("missing column")
	// ErrInvalidSetting marks a configuration value that cannot be used.
	ErrInvalidSetting = errors.New("invalid setting")
)

// ConfigError is a fatal configuration problem detected before processing.
type ConfigError struct {
	Setting string
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration: %s: %v", e.Setting, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Config builds a ConfigError for setting, wrapping kind with a detail message.
func Config(setting string, kind error, format string, args ...any) error {
	return &ConfigError{
		Setting: setting,
		Err:     fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...)),
	}
}

// FileError reports an input file that could not be processed.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("file %s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// IsConfig reports whether err is, or wraps, a ConfigError.
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsRecoverable reports whether err only affects a single input file.
func IsRecoverable(err error) bool {
	var fe *FileError
	return errors.As(err, &fe)
}
