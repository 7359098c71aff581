package cliutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestDecodeHexBytes(t *testing.T) {
	t.Parallel()

	b, err := DecodeHexBytes("0xdeadbeef")
	if err != nil {
		t.Fatalf("DecodeHexBytes: %v", err)
	}
	if len(b) != 4 {
		t.Fatalf("expected 4 bytes, got %d", len(b))
	}

	if _, err := DecodeHexBytes(""); err == nil {
		t.Fatalf("expected error for empty input")
	}
}

func TestDecodeHexBytesOptional(t *testing.T) {
	t.Parallel()

	b, err := DecodeHexBytesOptional("")
	if err != nil || b != nil {
		t.Fatalf("expected (nil, nil) for empty input, got (%v, %v)", b, err)
	}
}

func TestParseHash32Strict_RejectsWrongLength(t *testing.T) {
	t.Parallel()

	if _, err := ParseHash32Strict("0xabcd"); err == nil {
		t.Fatalf("expected error for short hash")
	}
}

func TestSplitCSV(t *testing.T) {
	t.Parallel()

	got := SplitCSV(" a, b ,,c")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	if SplitCSV("  ") != nil {
		t.Fatalf("expected nil for blank input")
	}
}

func TestRequireEnv(t *testing.T) {
	t.Setenv("CLIUTIL_TEST_VAR", "secret")

	v, err := RequireEnv("CLIUTIL_TEST_VAR")
	if err != nil {
		t.Fatalf("RequireEnv: %v", err)
	}
	if v != "secret" {
		t.Fatalf("expected 'secret', got %q", v)
	}

	if _, err := RequireEnv("CLIUTIL_TEST_VAR_UNSET"); err == nil {
		t.Fatalf("expected error for unset var")
	}
}

func TestLoadSubscriptions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "subs.yaml")
	content := `
subscriptions:
  - address: "0x0000000000000000000000000000000000000001"
    topic0: "0x0000000000000000000000000000000000000000000000000000000000000009"
  - topic0: "0x0000000000000000000000000000000000000000000000000000000000000009"
  - address: "0x0000000000000000000000000000000000000002"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write subscriptions file: %v", err)
	}

	subs, err := LoadSubscriptions(path)
	if err != nil {
		t.Fatalf("LoadSubscriptions: %v", err)
	}
	if len(subs) != 3 {
		t.Fatalf("expected 3 subscriptions, got %d", len(subs))
	}
	if subs[1].Address != (common.Address{}) {
		t.Fatalf("expected second subscription to have no address filter")
	}
}
