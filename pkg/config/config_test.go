package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type sampleConfig struct {
	BaseURL       string        `split_words:"true" default:"https://api.cal.com/v2"`
	APIKey        string        `envconfig:"API_KEY" required:"true"`
	MaxIterations int           `split_words:"true" default:"6"`
	OracleTimeout time.Duration `split_words:"true" default:"45s"`
}

// Not parallel: the tests mutate the process environment.
func TestNewFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	content := "CFGTEST_API_KEY=from-file\nCFGTEST_MAX_ITERATIONS=3\nCFGTEST_BASE_URL=https://file.example\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("CFGTEST_BASE_URL", "https://env.example")
	t.Cleanup(func() {
		_ = os.Unsetenv("CFGTEST_API_KEY")
		_ = os.Unsetenv("CFGTEST_MAX_ITERATIONS")
	})

	conf, err := NewFromFile[sampleConfig]("CFGTEST", path)
	if err != nil {
		t.Fatalf("NewFromFile() error = %v", err)
	}
	if conf.APIKey != "from-file" || conf.MaxIterations != 3 {
		t.Fatalf("unexpected config: %+v", conf)
	}
	if conf.BaseURL != "https://env.example" {
		t.Fatalf("BaseURL = %q, want process environment to win", conf.BaseURL)
	}
	if conf.OracleTimeout != 45*time.Second {
		t.Fatalf("OracleTimeout = %v, want default", conf.OracleTimeout)
	}
}

func TestNewFromFileMissingRequired(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.env")
	if err := os.WriteFile(path, []byte("CFGMISSING_BASE_URL=https://x.example\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("CFGMISSING_BASE_URL") })

	if _, err := NewFromFile[sampleConfig]("CFGMISSING", path); err == nil {
		t.Fatal("NewFromFile() should fail without API_KEY")
	}
}
