package bptree

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ───────────────────────────────────────────────────────────────────────────
// Configuration
// ───────────────────────────────────────────────────────────────────────────
//
// Options configures a tree at creation time. page_size/order/key_size/
// value_size are persisted in the metadata page; reopening with a different
// order/key_size/value_size fails with ErrInvalidArgument, and reopening
// with a different page_size fails with ErrIoError because the metadata
// page cannot be read at that size. cache_size and Serializer are
// runtime-only and not persisted.

// Options configures an Engine.
type Options struct {
	PageSize  int `yaml:"page_size"`
	Order     int `yaml:"order"`
	KeySize   int `yaml:"key_size"`
	ValueSize int `yaml:"value_size"`
	CacheSize int `yaml:"cache_size"`

	// Serializer is a runtime-only capability; callers typically set it in
	// code rather than in a YAML file. The Engine stores it but never calls
	// it: Insert/Get/Range always take already-encoded fixed-width keys, so
	// callers encode their keys before passing them in.
	Serializer KeySerializer `yaml:"-"`
}

// DefaultOptions returns the spec's recommended defaults.
func DefaultOptions() Options {
	return Options{
		PageSize:  4096,
		Order:     100,
		KeySize:   8,
		ValueSize: 64,
		CacheSize: 512,
	}
}

func (o Options) validate() error {
	if o.KeySize <= 0 {
		return fmt.Errorf("%w: key_size must be positive", ErrInvalidArgument)
	}
	if o.ValueSize <= 0 {
		return fmt.Errorf("%w: value_size must be positive", ErrInvalidArgument)
	}
	if o.Order < 3 {
		return fmt.Errorf("%w: order must be at least 3", ErrInvalidArgument)
	}
	return nil
}

// LoadOptions reads Options from a YAML file, filling in spec defaults for
// any field left at its zero value.
func LoadOptions(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("bptree: read options file: %w", err)
	}
	opts := DefaultOptions()
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return Options{}, fmt.Errorf("bptree: parse options file: %w", err)
	}
	return opts, nil
}
