package vocab

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/adiu19/gpt2bpe/internal/codec"
)

// writeFixture builds a minimal but complete GPT-2-shaped artifact pair: all
// 256 base byte symbols, plus the given extraMerges in rank order, and
// writes them to encoder.json/vocab.bpe under a fresh temp dir.
func writeFixture(t *testing.T, extraMerges [][2]string) (encoderPath, mergesPath string) {
	t.Helper()
	dir := t.TempDir()

	tbl := codec.Default()
	enc := make(map[string]int, 256+len(extraMerges))
	nextID := 0
	symbolOf := make(map[byte]string, 256)
	for b := 0; b < 256; b++ {
		sym := string(tbl.ByteToSymbol(byte(b)))
		symbolOf[byte(b)] = sym
		enc[sym] = nextID
		nextID++
	}

	var mergeLines []string
	mergeLines = append(mergeLines, "#version: test")
	for _, pair := range extraMerges {
		left, right := pair[0], pair[1]
		merged := left + right
		if _, ok := enc[merged]; !ok {
			enc[merged] = nextID
			nextID++
		}
		mergeLines = append(mergeLines, left+" "+right)
	}

	encoderPath = filepath.Join(dir, "encoder.json")
	data, err := json.Marshal(enc)
	if err != nil {
		t.Fatalf("marshal encoder fixture: %v", err)
	}
	if err := os.WriteFile(encoderPath, data, 0o644); err != nil {
		t.Fatalf("write encoder fixture: %v", err)
	}

	mergesPath = filepath.Join(dir, "vocab.bpe")
	var content string
	for _, line := range mergeLines {
		content += line + "\n"
	}
	if err := os.WriteFile(mergesPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write merges fixture: %v", err)
	}

	return encoderPath, mergesPath
}

func TestLoadBuildsByteToTokenForEveryByte(t *testing.T) {
	encoderPath, mergesPath := writeFixture(t, nil)

	table, err := Load(encoderPath, mergesPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if table.Vocab.Size() != 256 {
		t.Fatalf("expected 256 base entries, got %d", table.Vocab.Size())
	}

	tbl := codec.Default()
	for b := 0; b < 256; b++ {
		id := table.ByteToToken[b]
		sym, ok := table.Vocab.Symbol(id)
		if !ok {
			t.Fatalf("byte 0x%02x: token id %d has no symbol", b, id)
		}
		if sym != string(tbl.ByteToSymbol(byte(b))) {
			t.Fatalf("byte 0x%02x: token symbol %q does not match codec", b, sym)
		}
	}
}

func TestLoadMergeRanksOrderAndLookup(t *testing.T) {
	a := string(codec.Default().ByteToSymbol('a'))
	b := string(codec.Default().ByteToSymbol('b'))
	c := string(codec.Default().ByteToSymbol('c'))

	encoderPath, mergesPath := writeFixture(t, [][2]string{{a, b}, {a + b, c}})

	table, err := Load(encoderPath, mergesPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if table.Merges.Len() != 2 {
		t.Fatalf("expected 2 merges, got %d", table.Merges.Len())
	}

	aID := table.ByteToToken['a']
	bID := table.ByteToToken['b']
	cID := table.ByteToToken['c']

	rank, merged, ok := table.Merges.Lookup(aID, bID)
	if !ok || rank != 0 {
		t.Fatalf("expected (a,b) at rank 0, got rank=%d ok=%v", rank, ok)
	}
	abSymbol, _ := table.Vocab.Symbol(merged)
	if abSymbol != a+b {
		t.Fatalf("merged symbol = %q, want %q", abSymbol, a+b)
	}

	rank2, _, ok := table.Merges.Lookup(merged, cID)
	if !ok || rank2 != 1 {
		t.Fatalf("expected (ab,c) at rank 1, got rank=%d ok=%v", rank2, ok)
	}
}

func TestLoadRejectsMalformedMergeLine(t *testing.T) {
	dir := t.TempDir()
	encoderPath, _ := writeFixture(t, nil)

	badMerges := filepath.Join(dir, "vocab.bpe")
	if err := os.WriteFile(badMerges, []byte("#header\nonlyonefield\n"), 0o644); err != nil {
		t.Fatalf("write bad merges: %v", err)
	}

	_, err := Load(encoderPath, badMerges)
	if err == nil {
		t.Fatalf("expected an error for a malformed merge line")
	}
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected a *LoadError, got %T: %v", err, err)
	}
}

func TestLoadRejectsDuplicateMergeLine(t *testing.T) {
	a := string(codec.Default().ByteToSymbol('a'))
	b := string(codec.Default().ByteToSymbol('b'))

	encoderPath, _ := writeFixture(t, [][2]string{{a, b}})

	dir := filepath.Dir(encoderPath)
	dupMerges := filepath.Join(dir, "dup.bpe")
	content := "#version: test\n" + a + " " + b + "\n" + a + " " + b + "\n"
	if err := os.WriteFile(dupMerges, []byte(content), 0o644); err != nil {
		t.Fatalf("write dup merges: %v", err)
	}

	_, err := Load(encoderPath, dupMerges)
	if err == nil {
		t.Fatalf("expected an error for a merges file repeating the same pair")
	}
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected a *LoadError, got %T: %v", err, err)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	encoderPath, _ := writeFixture(t, nil)
	_, err := Load(encoderPath, filepath.Join(t.TempDir(), "does-not-exist.bpe"))
	if err == nil {
		t.Fatalf("expected an error for a missing merges file")
	}
}

func TestDecodeIDsRoundTrip(t *testing.T) {
	encoderPath, mergesPath := writeFixture(t, nil)
	table, err := Load(encoderPath, mergesPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	ids := []uint16{table.ByteToToken['h'], table.ByteToToken['i']}
	out, err := table.DecodeIDs(ids)
	if err != nil {
		t.Fatalf("DecodeIDs: %v", err)
	}
	if string(out) != "hi" {
		t.Fatalf("DecodeIDs = %q, want %q", out, "hi")
	}
}

func TestDecodeIDsMissReported(t *testing.T) {
	encoderPath, mergesPath := writeFixture(t, nil)
	table, err := Load(encoderPath, mergesPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	_, err = table.DecodeIDs([]uint16{65535})
	if err == nil {
		t.Fatalf("expected a decode-miss error")
	}
	var missErr *DecodeMissError
	if !errors.As(err, &missErr) {
		t.Fatalf("expected a *DecodeMissError, got %T: %v", err, err)
	}
}
