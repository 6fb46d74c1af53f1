// Package blind builds the per-case display order of model outputs and maps
// display slots to labels, so raters never see which model wrote which text.
package blind

import (
	"fmt"
	"strings"

	"github.com/pavelanni/rater/internal/sampler"
	"github.com/pavelanni/rater/internal/seed"
)

// Slot is one position in a blinded order.
type Slot struct {
	Label string
	Model string
}

// BuildOrder permutes models for (userID, scope, caseID). The result is stable
// across runs and devices; models is not modified.
func BuildOrder(userID, scope, caseID string, models []string) []string {
	return sampler.Permute(models, seed.ModelOrder(userID, scope, caseID).String())
}

// Label returns the display label of slot pos: A..Z, then AA, AB, ...
func Label(pos int) string {
	var b []byte
	for n := pos; ; n = n/26 - 1 {
		b = append(b, byte('A'+n%26))
		if n < 26 {
			break
		}
	}
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}

// Slots pairs each model in order with its positional label.
func Slots(order []string) []Slot {
	slots := make([]Slot, len(order))
	for i, m := range order {
		slots[i] = Slot{Label: Label(i), Model: m}
	}
	return slots
}

// Resolve translates label-keyed values back to model keys using order. Labels
// are matched case-insensitively; two labels naming the same slot are an error.
func Resolve[V any](order []string, byLabel map[string]V) (map[string]V, error) {
	index := make(map[string]string, len(order))
	for _, s := range Slots(order) {
		index[s.Label] = s.Model
	}
	out := make(map[string]V, len(byLabel))
	given := make(map[string]string, len(byLabel))
	for label, v := range byLabel {
		norm := strings.ToUpper(strings.TrimSpace(label))
		m, ok := index[norm]
		if !ok {
			return nil, fmt.Errorf("unknown slot label %q", label)
		}
		if prev, dup := given[norm]; dup {
			return nil, fmt.Errorf("slot label %s given twice (%q, %q)", norm, min(prev, label), max(prev, label))
		}
		given[norm] = label
		out[m] = v
	}
	return out, nil
}
