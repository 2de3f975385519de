package docdb

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docdb.yaml")
	err := os.WriteFile(path, []byte(`
compression: deflate
refresh_interval_ms: 100
commit_interval_sec: 5
logging:
  level: warn
`), 0o666)
	ok(t, err)

	cfg, err := LoadConfig(path)
	ok(t, err)
	opt, err := cfg.Options()
	ok(t, err)

	if opt.Compression != CompressionDeflate {
		t.Fatalf("compression = %v", opt.Compression)
	}
	if opt.RefreshInterval != 100*time.Millisecond {
		t.Fatalf("refresh interval = %v", opt.RefreshInterval)
	}
	if opt.CommitInterval != 5*time.Second {
		t.Fatalf("commit interval = %v", opt.CommitInterval)
	}
	if opt.Logger == nil {
		t.Fatalf("logging level set but no logger built")
	}
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	opt, err := cfg.Options()
	ok(t, err)
	opt.fillDefaults()

	if opt.Compression != CompressionNone {
		t.Fatalf("default compression = %v", opt.Compression)
	}
	if opt.RefreshInterval != 250*time.Millisecond {
		t.Fatalf("default refresh interval = %v", opt.RefreshInterval)
	}
	if opt.CommitInterval != 30*time.Second {
		t.Fatalf("default commit interval = %v", opt.CommitInterval)
	}
}

func TestConfigBadValues(t *testing.T) {
	cfg := Config{Compression: "zstd"}
	if _, err := cfg.Options(); err == nil {
		t.Fatalf("unknown compression accepted")
	}
	cfg = Config{}
	cfg.Logging.Level = "noisy"
	if _, err := cfg.Options(); err == nil {
		t.Fatalf("unknown logging level accepted")
	}
}

func TestParseCompression(t *testing.T) {
	tests := []struct {
		in   string
		want Compression
	}{
		{"", CompressionNone},
		{"none", CompressionNone},
		{"snappy", CompressionSnappy},
		{"s2", CompressionSnappy},
		{"deflate", CompressionDeflate},
	}
	for _, tt := range tests {
		got, err := ParseCompression(tt.in)
		ok(t, err)
		if got != tt.want {
			t.Fatalf("ParseCompression(%q) = %v", tt.in, got)
		}
	}
	if _, err := ParseCompression("lz4"); err == nil {
		t.Fatalf("unknown strategy accepted")
	}
}
