// Package vocab parses the GPT-2 artifact pair — encoder.json and
// vocab.bpe — into the in-memory tables the tokenizer needs: the
// symbol<->token-id vocabulary and the merge-rank table.
package vocab

import (
	"bufio"
	"encoding/json"
	"log"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/adiu19/gpt2bpe/internal/codec"
)

// LoadError wraps any failure encountered while reading or parsing an
// artifact file. It is always fatal: the tokenizer cannot be constructed.
type LoadError struct {
	cause error
}

func (e *LoadError) Error() string { return e.cause.Error() }
func (e *LoadError) Unwrap() error { return e.cause }

func loadErrf(cause error) error {
	return &LoadError{cause: cause}
}

// Vocab is the bijection between symbol strings and 16-bit token ids.
type Vocab struct {
	idToSymbol []string
	symbolToID map[string]uint16
}

// Size returns the number of entries in the vocabulary.
func (v *Vocab) Size() int { return len(v.idToSymbol) }

// Symbol returns the symbol string for a token id.
func (v *Vocab) Symbol(id uint16) (string, bool) {
	if int(id) >= len(v.idToSymbol) {
		return "", false
	}
	return v.idToSymbol[id], true
}

// ID returns the token id for a symbol string.
func (v *Vocab) ID(symbol string) (uint16, bool) {
	id, ok := v.symbolToID[symbol]
	return id, ok
}

// MergeRanks holds the rank priority and resulting merged token id for
// every learned (left, right) token-id pair.
type MergeRanks struct {
	rank    map[[2]uint16]int
	merged  map[[2]uint16]uint16
	maxRank int
}

// Len returns the number of learned merges.
func (m *MergeRanks) Len() int { return len(m.rank) }

// MaxRank returns the highest assigned rank (Len()-1), or -1 if empty.
func (m *MergeRanks) MaxRank() int { return m.maxRank }

// Lookup returns the rank and merged token id for the ordered pair (a, b).
func (m *MergeRanks) Lookup(a, b uint16) (rank int, merged uint16, ok bool) {
	key := [2]uint16{a, b}
	r, ok := m.rank[key]
	if !ok {
		return 0, 0, false
	}
	return r, m.merged[key], true
}

// ForEach calls f once per learned merge, in no particular order.
func (m *MergeRanks) ForEach(f func(left, right uint16, rank int, merged uint16)) {
	for key, r := range m.rank {
		f(key[0], key[1], r, m.merged[key])
	}
}

// Table bundles everything a Tokenizer needs to encode and decode: the
// vocabulary, the merge ranks, and the precomputed byte->base-token table.
type Table struct {
	Vocab       *Vocab
	Merges      *MergeRanks
	ByteToToken [256]uint16
}

// Load reads encoderPath (encoder.json) and mergesPath (vocab.bpe) and
// builds the combined Table. Any structural problem in either file is
// reported as a *LoadError.
func Load(encoderPath, mergesPath string) (*Table, error) {
	v, err := loadVocab(encoderPath)
	if err != nil {
		return nil, err
	}

	merges, err := loadMergeRanks(mergesPath, v)
	if err != nil {
		return nil, err
	}
	if merges.Len() > 0 && merges.MaxRank() != merges.Len()-1 {
		return nil, loadErrf(errors.Errorf(
			"merges file %q: rank sequence has gaps, max rank %d for %d merges",
			mergesPath, merges.MaxRank(), merges.Len()))
	}

	byteToToken, err := buildByteToToken(v)
	if err != nil {
		return nil, loadErrf(errors.Wrapf(err, "encoder file %q", encoderPath))
	}

	log.Printf("gpt2bpe: loaded %s vocab entries, %s merges",
		humanize.Comma(int64(v.Size())), humanize.Comma(int64(merges.Len())))

	return &Table{Vocab: v, Merges: merges, ByteToToken: byteToToken}, nil
}

// loadVocab parses encoder.json: a flat object of symbol string -> token id.
func loadVocab(path string) (*Vocab, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, loadErrf(errors.Wrapf(err, "read encoder file %q", path))
	}

	var raw map[string]int
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, loadErrf(errors.Wrapf(err, "parse encoder file %q as JSON", path))
	}

	maxID := -1
	for _, id := range raw {
		if id > maxID {
			maxID = id
		}
	}
	size := maxID + 1

	seen := make([]bool, size)
	idToSymbol := make([]string, size)
	for symbol, id := range raw {
		if id < 0 || id >= size {
			return nil, loadErrf(errors.Errorf("encoder file %q: token id %d out of range", path, id))
		}
		if seen[id] {
			return nil, loadErrf(errors.Errorf("encoder file %q: duplicate token id %d", path, id))
		}
		seen[id] = true
		idToSymbol[id] = symbol
	}
	for id, ok := range seen {
		if !ok {
			return nil, loadErrf(errors.Errorf("encoder file %q: vocab is not dense, missing id %d", path, id))
		}
	}

	symbolToID := make(map[string]uint16, size)
	for id, symbol := range idToSymbol {
		symbolToID[symbol] = uint16(id)
	}

	return &Vocab{idToSymbol: idToSymbol, symbolToID: symbolToID}, nil
}

// loadMergeRanks parses vocab.bpe: a version header line followed by one
// "<left> <right>" symbol pair per line, rank assigned by line order.
func loadMergeRanks(path string, v *Vocab) (*MergeRanks, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, loadErrf(errors.Wrapf(err, "open merges file %q", path))
	}
	defer f.Close()

	m := &MergeRanks{
		rank:    make(map[[2]uint16]int),
		merged:  make(map[[2]uint16]uint16),
		maxRank: -1,
	}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	lineNo := 0
	rank := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if lineNo == 1 {
			continue // version/comment header, always skipped
		}
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, loadErrf(errors.Errorf("merges file %q line %d: want 2 fields, got %d", path, lineNo, len(fields)))
		}

		leftID, ok := v.ID(fields[0])
		if !ok {
			return nil, loadErrf(errors.Errorf("merges file %q line %d: left symbol %q not in vocabulary", path, lineNo, fields[0]))
		}
		rightID, ok := v.ID(fields[1])
		if !ok {
			return nil, loadErrf(errors.Errorf("merges file %q line %d: right symbol %q not in vocabulary", path, lineNo, fields[1]))
		}

		mergedSymbol := fields[0] + fields[1]
		mergedID, ok := v.ID(mergedSymbol)
		if !ok {
			return nil, loadErrf(errors.Errorf("merges file %q line %d: merged symbol %q not in vocabulary", path, lineNo, mergedSymbol))
		}

		key := [2]uint16{leftID, rightID}
		m.rank[key] = rank
		m.merged[key] = mergedID
		m.maxRank = rank
		rank++
	}
	if err := sc.Err(); err != nil {
		return nil, loadErrf(errors.Wrapf(err, "read merges file %q", path))
	}

	return m, nil
}

// buildByteToToken derives the [256]uint16 table mapping each raw byte to
// the base token id that represents exactly that byte, via the codec's
// byte->symbol bijection followed by a vocabulary lookup.
func buildByteToToken(v *Vocab) ([256]uint16, error) {
	var table [256]uint16
	tbl := codec.Default()

	for b := 0; b < 256; b++ {
		sym := tbl.ByteToSymbol(byte(b))
		symStr := string(sym)
		id, ok := v.ID(symStr)
		if !ok {
			return table, errors.Errorf("vocabulary has no base token for byte 0x%02x (symbol %q)", b, symStr)
		}
		table[b] = id
	}

	return table, nil
}

// decodeSymbolToBytes turns one vocabulary symbol string back into the raw
// bytes it represents, by mapping each of its code points back through the
// codec bijection. A rune outside the bijection's image is reported as a
// *codec.UnmappedSymbolError.
func decodeSymbolToBytes(symbol string) ([]byte, error) {
	return codec.Default().DecodeString(symbol)
}

// DecodeIDs maps a sequence of token ids to their concatenated raw bytes.
// Returns a *DecodeMissError naming the first id absent from the
// vocabulary, or a *codec.UnmappedSymbolError if a symbol contains a code
// point outside the codec's image.
func (t *Table) DecodeIDs(ids []uint16) ([]byte, error) {
	var out []byte
	for _, id := range ids {
		symbol, ok := t.Vocab.Symbol(id)
		if !ok {
			return nil, &DecodeMissError{TokenID: id}
		}
		bs, err := decodeSymbolToBytes(symbol)
		if err != nil {
			return nil, err
		}
		out = append(out, bs...)
	}
	return out, nil
}

// DecodeMissError reports a token id absent from the inverse vocabulary.
type DecodeMissError struct {
	TokenID uint16
}

func (e *DecodeMissError) Error() string {
	return "vocab: decode: unknown token id"
}
