package bptree

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultOptions_Valid(t *testing.T) {
	if err := DefaultOptions().validate(); err != nil {
		t.Fatalf("DefaultOptions should validate: %v", err)
	}
}

func TestOptions_ValidateRejectsZeroKeySize(t *testing.T) {
	opts := DefaultOptions()
	opts.KeySize = 0
	if err := opts.validate(); err == nil {
		t.Fatal("expected error for zero key_size")
	}
}

func TestLoadOptions_FillsDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "options.yaml")
	yamlContent := "page_size: 8192\norder: 50\n"
	if err := os.WriteFile(path, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	opts, err := LoadOptions(path)
	if err != nil {
		t.Fatalf("LoadOptions: %v", err)
	}
	if opts.PageSize != 8192 {
		t.Fatalf("PageSize = %d, want 8192", opts.PageSize)
	}
	if opts.Order != 50 {
		t.Fatalf("Order = %d, want 50", opts.Order)
	}
	if opts.KeySize != DefaultOptions().KeySize {
		t.Fatalf("KeySize = %d, want default %d", opts.KeySize, DefaultOptions().KeySize)
	}
}

func TestLoadOptions_MissingFile(t *testing.T) {
	if _, err := LoadOptions(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing options file")
	}
}
