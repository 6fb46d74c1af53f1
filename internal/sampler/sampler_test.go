package sampler

import (
	"fmt"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pavelanni/rater/internal/prng"
	"github.com/pavelanni/rater/internal/seed"
)

func ints(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestShuffleKnownOrder(t *testing.T) {
	got := Shuffle(10, prng.New(seed.Derive("alice::rexgradient::sample")))
	want := []int{7, 6, 1, 0, 2, 9, 3, 5, 4, 8}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Shuffle mismatch (-want +got):\n%s", diff)
	}
}

func TestSample(t *testing.T) {
	items := ints(10)
	tests := []struct {
		name string
		n    int
		want int
	}{
		{"zero", 0, 0},
		{"negative", -3, 0},
		{"subset", 4, 4},
		{"exact", 10, 10},
		{"larger than input", 25, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sample(items, tt.n, "alice::rexgradient::sample")
			if len(got) != tt.want {
				t.Fatalf("expected %d items, got %d", tt.want, len(got))
			}
			seen := make(map[int]bool)
			for _, v := range got {
				if seen[v] {
					t.Errorf("duplicate item %d", v)
				}
				seen[v] = true
			}
			again := Sample(items, tt.n, "alice::rexgradient::sample")
			if diff := cmp.Diff(got, again); diff != "" {
				t.Errorf("Sample not reproducible (-first +second):\n%s", diff)
			}
		})
	}
}

func TestSampleIsPrefixOfPermutation(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	perm := Permute(items, "k")
	for n := 0; n <= len(items); n++ {
		got := Sample(items, n, "k")
		if !slices.Equal(got, perm[:n]) {
			t.Errorf("Sample(n=%d) = %v, want prefix %v", n, got, perm[:n])
		}
	}
}

func TestSampleDoesNotMutateInput(t *testing.T) {
	items := ints(6)
	_ = Permute(items, "x")
	if !slices.Equal(items, ints(6)) {
		t.Errorf("input mutated: %v", items)
	}
}

func TestSampleDiffersAcrossUsers(t *testing.T) {
	items := ints(200)
	distinct := make(map[string]bool)
	for u := 0; u < 5; u++ {
		got := Sample(items, 15, seed.Sample(fmt.Sprintf("user%d", u), "mimic").String())
		distinct[fmt.Sprint(got)] = true
	}
	if len(distinct) < 2 {
		t.Errorf("expected different samples across users, got %d distinct", len(distinct))
	}
}

func TestSampleEmptyInput(t *testing.T) {
	if got := Sample([]int(nil), 5, "k"); len(got) != 0 {
		t.Errorf("expected empty, got %v", got)
	}
}
