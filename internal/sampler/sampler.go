// Package sampler selects reproducible subsets and permutations using a
// mulberry32 stream seeded from a semantic key.
package sampler

import (
	"github.com/pavelanni/rater/internal/prng"
	"github.com/pavelanni/rater/internal/seed"
)

// Shuffle returns a Fisher–Yates permutation of [0, n), walking from the last
// index down to 1 and swapping with floor(rnd*(i+1)).
func Shuffle(n int, rng *prng.Mulberry32) []int {
	if n <= 0 {
		return nil
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		idx[i], idx[j] = idx[j], idx[i]
	}
	return idx
}

// Sample returns min(n, len(items)) distinct items in shuffled order.
// The same key always yields the same items in the same order.
func Sample[T any](items []T, n int, key string) []T {
	if n <= 0 || len(items) == 0 {
		return []T{}
	}
	idx := Shuffle(len(items), prng.New(seed.Derive(key)))
	n = min(n, len(idx))
	out := make([]T, n)
	for i := range n {
		out[i] = items[idx[i]]
	}
	return out
}

// Permute returns every item in the order Sample would produce for len(items).
func Permute[T any](items []T, key string) []T {
	return Sample(items, len(items), key)
}
