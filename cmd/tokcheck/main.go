// Command tokcheck loads an encoder.json/vocab.bpe pair and runs one
// encode/decode round trip against it, as a smoke test for a freshly
// downloaded or regenerated vocabulary.
package main

import (
	"flag"
	"log"

	"github.com/dustin/go-humanize"

	"github.com/adiu19/gpt2bpe"
)

func main() {
	encoderPath := flag.String("encoder", "testdata/gpt2/encoder.json", "path to encoder.json")
	mergesPath := flag.String("merges", "testdata/gpt2/vocab.bpe", "path to vocab.bpe")
	text := flag.String("text", "Hello, world! This is a BPE tokenizer smoke test.", "text to round-trip")
	flag.Parse()

	tok, err := gpt2bpe.Load(*encoderPath, *mergesPath)
	if err != nil {
		log.Fatalf("load tokenizer: %v", err)
	}
	log.Printf("vocab loaded: %s entries", humanize.Comma(int64(tok.VocabSize())))

	ids, err := tok.Encode(*text)
	if err != nil {
		log.Fatalf("encode: %v", err)
	}
	log.Printf("encoded %q into %s tokens", *text, humanize.Comma(int64(len(ids))))

	decoded, err := tok.Decode(ids)
	if err != nil {
		log.Fatalf("decode: %v", err)
	}
	if decoded != *text {
		log.Fatalf("round trip mismatch: got %q, want %q", decoded, *text)
	}
	log.Println("round trip ok")
}
