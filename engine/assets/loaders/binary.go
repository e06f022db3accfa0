package loaders

import (
	"fmt"
	"io"
	"os"

	"github.com/spaghettifunk/radix/engine/core"
)

// BinaryLoader reads compiled SPIR-V kernels from disk.
type BinaryLoader struct{}

// Load returns the words of the .spv file at path.
func (bl *BinaryLoader) Load(path string) ([]uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil, fmt.Errorf("%w: %s is %d bytes, not a whole number of words", core.ErrReflection, path, len(buf))
	}
	return BytesToBytecode(buf), nil
}

// BytesToBytecode reads little-endian 32-bit words. Trailing bytes that
// do not fill a word are dropped.
func BytesToBytecode(b []byte) []uint32 {
	byteCode := make([]uint32, len(b)/4)
	for i := 0; i < len(byteCode); i++ {
		byteIndex := i * 4
		byteCode[i] = 0
		byteCode[i] |= uint32(b[byteIndex])
		byteCode[i] |= uint32(b[byteIndex+1]) << 8
		byteCode[i] |= uint32(b[byteIndex+2]) << 16
		byteCode[i] |= uint32(b[byteIndex+3]) << 24
	}

	return byteCode
}

// BytecodeToBytes is the inverse of BytesToBytecode.
func BytecodeToBytes(code []uint32) []byte {
	b := make([]byte, len(code)*4)
	for i, w := range code {
		b[i*4] = byte(w)
		b[i*4+1] = byte(w >> 8)
		b[i*4+2] = byte(w >> 16)
		b[i*4+3] = byte(w >> 24)
	}
	return b
}
