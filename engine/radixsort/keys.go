package radixsort

import (
	"encoding/binary"
	"unsafe"

	"golang.org/x/exp/rand"
)

// Key is a sortable unsigned integer width.
type Key interface {
	~uint32 | ~uint64
}

const (
	// Largest generated keys, matching the reference benchmark.
	maxRandom32 = 0x0FFFFFFF
	maxRandom64 = 0x0FFFFFFFFFFF
)

// KeyBits is the width of K in bits.
func KeyBits[K Key]() uint32 {
	var k K
	return uint32(unsafe.Sizeof(k)) * 8
}

// Passes is the number of 8-bit digit passes for K.
func Passes[K Key]() int {
	return int(KeyBits[K]() / DigitBits)
}

func keySize[K Key]() int {
	var k K
	return int(unsafe.Sizeof(k))
}

func loadKey[K Key](data []byte, i int) K {
	if keySize[K]() == 4 {
		return K(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return K(binary.LittleEndian.Uint64(data[i*8:]))
}

func storeKey[K Key](data []byte, i int, k K) {
	if keySize[K]() == 4 {
		binary.LittleEndian.PutUint32(data[i*4:], uint32(k))
		return
	}
	binary.LittleEndian.PutUint64(data[i*8:], uint64(k))
}

func encodeKeys[K Key](keys []K) []byte {
	out := make([]byte, len(keys)*keySize[K]())
	for i, k := range keys {
		storeKey(out, i, k)
	}
	return out
}

func decodeKeys[K Key](data []byte, n int) []K {
	out := make([]K, n)
	for i := range out {
		out[i] = loadKey[K](data, i)
	}
	return out
}

// GenerateKeys returns n uniformly distributed keys from a seeded source,
// so a failing run can be reproduced.
func GenerateKeys[K Key](n int, seed uint64) []K {
	r := rand.New(rand.NewSource(seed))
	limit := uint64(maxRandom32)
	if KeyBits[K]() == 64 {
		limit = maxRandom64
	}
	keys := make([]K, n)
	for i := range keys {
		keys[i] = K(r.Uint64n(limit + 1))
	}
	return keys
}
