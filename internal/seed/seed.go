// Package seed derives stable 32-bit PRNG seeds from semantic keys.
package seed

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf16"
)

const (
	offsetBasis uint32 = 2166136261
	prime       uint32 = 16777619

	// Separator joins key fields. Seeds recorded by earlier runs depend on it.
	Separator = "::"
)

// ErrSeparator is returned when a key field could be confused with a field boundary.
var ErrSeparator = errors.New("seed: field contains the key separator")

// Derive hashes key with 32-bit FNV-1a over its UTF-16 code units.
// The empty string yields the offset basis.
func Derive(key string) uint32 {
	h := offsetBasis
	for _, u := range utf16.Encode([]rune(key)) {
		h ^= uint32(u)
		h *= prime
	}
	return h
}

// Kind names the purpose a seed is drawn for. It is always the last key field.
type Kind string

const (
	// KindSample seeds the per-user case subset of one dataset.
	KindSample Kind = "sample"
	// KindModelOrder seeds the blinded model order of one case.
	KindModelOrder Kind = "modelorder"
)

// Key is a typed seed context. Each kind has a fixed number of fields, so two
// keys of different kinds never render to the same string.
type Key struct {
	kind   Kind
	fields []string
}

// Sample is the key for sampling datasetKey's cases for userID.
func Sample(userID, datasetKey string) Key {
	return Key{kind: KindSample, fields: []string{userID, datasetKey}}
}

// ModelOrder is the key for the blinded model order of caseID in scope.
func ModelOrder(userID, scope, caseID string) Key {
	return Key{kind: KindModelOrder, fields: []string{userID, scope, caseID}}
}

// Kind returns the key's purpose.
func (k Key) Kind() Kind { return k.kind }

// String renders the key as "field::field::kind".
func (k Key) String() string {
	parts := make([]string, 0, len(k.fields)+1)
	parts = append(parts, k.fields...)
	parts = append(parts, string(k.kind))
	return strings.Join(parts, Separator)
}

// Seed derives the key's seed.
func (k Key) Seed() uint32 { return Derive(k.String()) }

// Validate reports whether every field is safe to join.
func (k Key) Validate() error {
	for _, f := range k.fields {
		if err := ValidateField(f); err != nil {
			return err
		}
	}
	return nil
}

// ValidateField rejects values that would make joined keys ambiguous: the
// separator itself, or a leading or trailing colon that merges with it.
func ValidateField(f string) error {
	if strings.Contains(f, Separator) || strings.HasPrefix(f, ":") || strings.HasSuffix(f, ":") {
		return fmt.Errorf("%w: %q", ErrSeparator, f)
	}
	return nil
}
