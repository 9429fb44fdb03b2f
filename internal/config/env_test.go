package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnv(t *testing.T) {
	for _, key := range []string{"TS_FOO", "TS_QUOTED", "TS_EXPORTED"} {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}
	path := filepath.Join(t.TempDir(), ".env")
	content := "# comment\nTS_FOO=bar\nTS_QUOTED=\"baz\"\nexport TS_EXPORTED='qux'\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	if err := LoadEnv(path); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := os.Getenv("TS_FOO"); got != "bar" {
		t.Fatalf("TS_FOO expected bar, got %q", got)
	}
	if got := os.Getenv("TS_QUOTED"); got != "baz" {
		t.Fatalf("TS_QUOTED expected baz, got %q", got)
	}
	if got := os.Getenv("TS_EXPORTED"); got != "qux" {
		t.Fatalf("TS_EXPORTED expected qux, got %q", got)
	}
}

func TestLoadEnvDoesNotOverrideExisting(t *testing.T) {
	t.Setenv("TS_FOO", "existing")
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("TS_FOO=bar\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	if err := LoadEnv(path); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := os.Getenv("TS_FOO"); got != "existing" {
		t.Fatalf("TS_FOO expected existing, got %q", got)
	}
}

func TestLoadEnvMissingFile(t *testing.T) {
	if err := LoadEnv(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
}
