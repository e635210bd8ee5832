// Package gpt2bpe implements a byte-pair-encoding tokenizer compatible with
// the GPT-2 family of language models: arbitrary UTF-8 text in, a sequence
// of 16-bit token ids out, and back, bit-exact with the published
// encoder.json/vocab.bpe artifacts.
//
// A Tokenizer is immutable once loaded. Encode and Decode are pure
// functions of the loaded tables and their input; any number of callers
// may invoke them concurrently on the same Tokenizer with no external
// synchronization.
package gpt2bpe

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/adiu19/gpt2bpe/internal/bpe"
	"github.com/adiu19/gpt2bpe/internal/pretoken"
	"github.com/adiu19/gpt2bpe/internal/vocab"
)

// Tokenizer holds the immutable tables built from one encoder.json/vocab.bpe
// pair: the vocabulary, the merge ranks, and the byte->base-token table.
type Tokenizer struct {
	table  *vocab.Table
	engine *bpe.Engine
}

// minChunksForParallel is the chunk count at or above which Encode
// dispatches chunk-level BPE across a worker pool instead of running
// sequentially. Below it the goroutine/channel overhead would outweigh the
// gain; chunks are cheap to merge (see internal/bpe).
const minChunksForParallel = 64

// Load reads an encoder.json/vocab.bpe pair and builds a Tokenizer. Any
// structural problem in either file is returned as an error (see
// internal/vocab.LoadError); the Tokenizer is unusable if Load fails.
func Load(encoderPath, mergesPath string) (*Tokenizer, error) {
	table, err := vocab.Load(encoderPath, mergesPath)
	if err != nil {
		return nil, fmt.Errorf("gpt2bpe: load: %w", err)
	}

	engine := bpe.NewEngine(table.Merges, table.Vocab.Size())

	return &Tokenizer{table: table, engine: engine}, nil
}

// VocabSize reports the number of entries in the loaded vocabulary.
func (t *Tokenizer) VocabSize() int { return t.table.Vocab.Size() }

// Encode converts text into its sequence of token ids. An empty string
// encodes to a nil (zero-length) sequence.
func (t *Tokenizer) Encode(text string) ([]uint16, error) {
	if text == "" {
		return nil, nil
	}

	chunks, err := pretoken.Scan(text)
	if err != nil {
		return nil, fmt.Errorf("gpt2bpe: encode: %w", err)
	}

	results := make([][]uint16, len(chunks))

	encodeChunk := func(i int) error {
		ids, err := t.encodeChunk(text, chunks[i])
		if err != nil {
			return err
		}
		results[i] = ids
		return nil
	}

	if len(chunks) < minChunksForParallel {
		for i := range chunks {
			if err := encodeChunk(i); err != nil {
				return nil, err
			}
		}
	} else if err := t.encodeChunksParallel(len(chunks), encodeChunk); err != nil {
		return nil, err
	}

	total := 0
	for _, ids := range results {
		total += len(ids)
	}
	out := make([]uint16, 0, total)
	for _, ids := range results {
		out = append(out, ids...)
	}
	return out, nil
}

// encodeChunksParallel dispatches encodeChunk calls across a worker pool
// sized to GOMAXPROCS, preserving ordering by having every worker write
// directly into its own slot of the caller-owned results slice.
func (t *Tokenizer) encodeChunksParallel(n int, encodeChunk func(i int) error) error {
	workers := runtime.GOMAXPROCS(0)
	if workers > n {
		workers = n
	}

	var (
		mu       sync.Mutex
		firstErr error
		next     int
		wg       sync.WaitGroup
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				mu.Lock()
				i := next
				next++
				mu.Unlock()
				if i >= n {
					return
				}
				if err := encodeChunk(i); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					return
				}
			}
		}()
	}
	wg.Wait()

	return firstErr
}

// encodeChunk translates one chunk's raw bytes into base token ids, runs the
// BPE merge loop over them, and returns the resulting token id sequence.
func (t *Tokenizer) encodeChunk(text string, c pretoken.Chunk) ([]uint16, error) {
	bs := c.Bytes(text)
	base := make([]uint16, len(bs))
	for i := 0; i < len(bs); i++ {
		base[i] = t.table.ByteToToken[bs[i]]
	}
	return t.engine.Merge(base), nil
}

// Decode converts a sequence of token ids back into text. Returns a
// *DecodeError if any id is absent from the vocabulary, or if the
// reassembled symbol string contains a code point outside the byte codec's
// image.
func (t *Tokenizer) Decode(ids []uint16) (string, error) {
	if len(ids) == 0 {
		return "", nil
	}

	out, err := t.table.DecodeIDs(ids)
	if err != nil {
		return "", &DecodeError{cause: err}
	}
	return string(out), nil
}

// DecodeError reports a token id or code point that could not be reversed
// during Decode. It wraps the underlying *vocab.DecodeMissError or
// *codec.UnmappedSymbolError.
type DecodeError struct {
	cause error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("gpt2bpe: decode: %v", e.cause) }
func (e *DecodeError) Unwrap() error { return e.cause }
