// Package chunk produces and compresses the raw block arrays streamed to
// clients as map chunks.
package chunk

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zlib"
)

// Dimensions of a full chunk column.
const (
	Width  = 16
	Height = 128
	Depth  = 16
)

// Layout of a raw chunk array: one block id per block followed by three
// nibble arrays (metadata, block light, sky light).
const (
	BlockCount    = Width * Height * Depth
	NibbleCount   = BlockCount / 2
	MetadataStart = BlockCount
	LightStart    = MetadataStart + NibbleCount
	MaxChunkArray = BlockCount + 3*NibbleCount
)

// CompressionLevel is fixed so identical input always yields identical output.
const CompressionLevel = zlib.DefaultCompression

// Raw is one uncompressed chunk array.
type Raw [MaxChunkArray]byte

// Index returns the offset of block (x, y, z) within a full chunk column.
func Index(x, y, z int) int {
	return y + z*Height + x*Height*Depth
}

// InvariantError reports a compressor failure on a correctly sized buffer.
// It is raised with panic and is not meant to be handled per request.
type InvariantError struct {
	Err error
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("chunk compression invariant violated: %v", e.Err)
}

func (e *InvariantError) Unwrap() error { return e.Err }

// Compress deflates raw into a zlib stream.
//
// Postcondition: Returns at most MaxChunkArray bytes. Panics with
// *InvariantError if the compressor fails or the output would exceed
// MaxChunkArray.
func Compress(raw *Raw) []byte {
	var buf bytes.Buffer
	buf.Grow(MaxChunkArray / 4)

	zw, err := zlib.NewWriterLevel(&buf, CompressionLevel)
	if err != nil {
		panic(&InvariantError{Err: err})
	}
	if _, err := zw.Write(raw[:]); err != nil {
		panic(&InvariantError{Err: err})
	}
	if err := zw.Close(); err != nil {
		panic(&InvariantError{Err: err})
	}
	if buf.Len() > MaxChunkArray {
		panic(&InvariantError{Err: fmt.Errorf("compressed size %d exceeds %d", buf.Len(), MaxChunkArray)})
	}
	return buf.Bytes()
}
