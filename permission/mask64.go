package permission

import "math/bits"

// MaxBits is the number of permissions a [Mask64] can hold.
const MaxBits = 64

// Mask64 is a 64-bit permission set. Out-of-range bits are ignored.
type Mask64 uint64

func (m Mask64) Has(bit int) bool {
	return inRange(bit) && m&(1<<uint(bit)) != 0
}

// With returns m with bit set.
func (m Mask64) With(bit int) Mask64 {
	if !inRange(bit) {
		return m
	}
	return m | 1<<uint(bit)
}

// Without returns m with bit cleared.
func (m Mask64) Without(bit int) Mask64 {
	if !inRange(bit) {
		return m
	}
	return m &^ (1 << uint(bit))
}

// Covers reports whether every bit of required is present in m.
func (m Mask64) Covers(required Mask64) bool {
	return m&required == required
}

// Len is the number of granted bits.
func (m Mask64) Len() int {
	return bits.OnesCount64(uint64(m))
}

func (m Mask64) Raw() uint64 {
	return uint64(m)
}

func inRange(bit int) bool {
	return bit >= 0 && bit < MaxBits
}
