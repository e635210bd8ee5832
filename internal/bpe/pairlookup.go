package bpe

// pairLookup provides O(1) lookup of merge info for a (left, right) token-id
// pair using a hybrid approach: a dense 2D array covers the common case
// where both ids are small (the base byte tokens and early merges that
// dominate real text), and a map covers the rest. Ported from the teacher's
// PairLookup (internal/tokenizer/pair_lookup.go), keyed on uint16 ids.
type pairLookup struct {
	fast     [][]mergeInfo
	fastSize int
	slow     map[[2]uint16]mergeInfo
}

type mergeInfo struct {
	rank   int32
	merged uint16
	valid  bool
}

const maxFastLookupSize = 2048

// mergeSource is the subset of *vocab.MergeRanks this package needs; kept as
// an interface so the package has no import-time dependency on vocab's
// internal representation.
type mergeSource interface {
	Len() int
	ForEach(f func(left, right uint16, rank int, merged uint16))
}

func newPairLookup(merges mergeSource, vocabSize int) *pairLookup {
	fastSize := maxFastLookupSize
	if vocabSize < fastSize {
		fastSize = vocabSize
	}

	fast := make([][]mergeInfo, fastSize)
	for i := range fast {
		fast[i] = make([]mergeInfo, fastSize)
	}

	slow := make(map[[2]uint16]mergeInfo, merges.Len()/4)

	merges.ForEach(func(left, right uint16, rank int, merged uint16) {
		info := mergeInfo{rank: int32(rank), merged: merged, valid: true}
		if int(left) < fastSize && int(right) < fastSize {
			fast[left][right] = info
		} else {
			slow[[2]uint16{left, right}] = info
		}
	})

	return &pairLookup{fast: fast, fastSize: fastSize, slow: slow}
}

// lookup returns the rank and merged token id for (a, b), and whether a
// learned merge exists for that pair.
func (pl *pairLookup) lookup(a, b uint16) (rank int32, merged uint16, ok bool) {
	if int(a) < pl.fastSize && int(b) < pl.fastSize {
		info := pl.fast[a][b]
		return info.rank, info.merged, info.valid
	}
	info, ok := pl.slow[[2]uint16{a, b}]
	return info.rank, info.merged, ok
}
