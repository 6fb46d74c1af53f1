// Package prng implements mulberry32, a small seeded generator whose output
// sequence matches earlier rating runs bit for bit.
package prng

const increment uint32 = 0x6D2B79F5

// Mulberry32 is a 32-bit state generator. It is not safe for concurrent use.
type Mulberry32 struct {
	state uint32
}

// New returns a generator seeded with seed.
func New(seed uint32) *Mulberry32 {
	return &Mulberry32{state: seed}
}

// Uint32 advances the state and returns the next mixed value.
func (m *Mulberry32) Uint32() uint32 {
	m.state += increment
	t := m.state
	t = (t ^ t>>15) * (t | 1)
	t ^= t + (t^t>>7)*(t|61)
	return t ^ t>>14
}

// Float64 returns the next value in [0, 1).
func (m *Mulberry32) Float64() float64 {
	return float64(m.Uint32()) / (1 << 32)
}

// Intn returns floor(Float64() * n). n must be positive.
func (m *Mulberry32) Intn(n int) int {
	return int(m.Float64() * float64(n))
}
