package partition

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestKeyDeterministic(t *testing.T) {
	t.Parallel()

	addr := common.HexToAddress("0xDeaDBeEF00000000000000000000000000CaFe")
	k1 := Key(addr, 4)
	k2 := Key(addr, 4)
	if k1 != k2 {
		t.Fatalf("Key not deterministic: %q vs %q", k1, k2)
	}
}

func TestKeyCaseInsensitive(t *testing.T) {
	t.Parallel()

	lower := common.HexToAddress("0xdeadbeef00000000000000000000000000cafe")
	upper := common.HexToAddress("0xDEADBEEF00000000000000000000000000CAFE")
	if Key(lower, 0) != Key(upper, 0) {
		t.Fatalf("Key should be case-insensitive over the source address")
	}
}

func TestKeyUnsharded(t *testing.T) {
	t.Parallel()

	addr := common.HexToAddress("0x0000000000000000000000000000000000beef")
	k := Key(addr, 0)
	if strings.Contains(k, ":") {
		t.Fatalf("unsharded key should have no shard prefix, got %q", k)
	}
	if len(k) != 64 {
		t.Fatalf("expected 32-byte hex digest, got len %d", len(k))
	}
}

func TestKeyShardedHasSelectorPrefix(t *testing.T) {
	t.Parallel()

	const shards = 8
	seen := map[string]bool{}
	for i := 0; i < 64; i++ {
		addr := common.BigToAddress(common.Big1.Lsh(common.Big1, uint(i)))
		k := Key(addr, shards)
		idx := strings.SplitN(k, ":", 2)
		if len(idx) != 2 {
			t.Fatalf("expected sharded key to contain a selector prefix, got %q", k)
		}
		seen[idx[0]] = true
	}
	if len(seen) == 0 {
		t.Fatalf("expected to observe at least one shard index")
	}
}

func TestSelectorEmptyMatchesEverything(t *testing.T) {
	t.Parallel()

	addr := common.HexToAddress("0x00000000000000000000000000000000000001")
	k := Key(addr, 0)
	if !strings.HasPrefix(k, Selector(0, 0)) {
		t.Fatalf("empty selector must match every partition key")
	}
}
