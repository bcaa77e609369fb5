package chunk

import (
	"context"
	"fmt"
	"os"

	lru "github.com/hashicorp/golang-lru/v2"
	"gopkg.in/yaml.v3"
)

// Key identifies a map chunk request: world origin and extents.
type Key struct {
	X     int32
	Y     int16
	Z     int32
	SizeX int
	SizeY int
	SizeZ int
}

// Column returns the key of the full chunk column whose origin is chunk
// coordinate (cx, cz).
func Column(cx, cz int32) Key {
	return Key{X: cx * Width, Y: 0, Z: cz * Depth, SizeX: Width, SizeY: Height, SizeZ: Depth}
}

// Source produces raw chunk arrays.
type Source interface {
	Raw(ctx context.Context, key Key) (*Raw, error)
}

// Provider produces compressed chunk payloads ready for a map chunk packet.
type Provider interface {
	Compressed(ctx context.Context, key Key) ([]byte, error)
}

// Placeholder is a stand-in world: a stone block at the start of every
// 64-byte run of block ids and full light everywhere. The key is ignored.
type Placeholder struct{}

// StoneID is the block id of stone.
const StoneID byte = 0x01

// Raw implements Source.
func (Placeholder) Raw(_ context.Context, _ Key) (*Raw, error) {
	raw := new(Raw)
	for i := 0; i < BlockCount; i += 64 {
		raw[i] = StoneID
	}
	for i := LightStart; i < MaxChunkArray; i++ {
		raw[i] = 0xFF
	}
	return raw, nil
}

// Layer is a horizontal band of one block type.
type Layer struct {
	Block  byte `yaml:"block"`
	Height int  `yaml:"height"`
}

// FlatSource builds every column from the same stack of layers, bottom first,
// with air above and full light.
type FlatSource struct {
	layers []Layer
}

type layersFile struct {
	Layers []Layer `yaml:"layers"`
}

// NewFlatSource validates layers and returns a FlatSource.
//
// Precondition: layer heights are positive and sum to at most Height.
func NewFlatSource(layers []Layer) (*FlatSource, error) {
	total := 0
	for i, l := range layers {
		if l.Height < 1 {
			return nil, fmt.Errorf("layer %d: height must be >= 1, got %d", i, l.Height)
		}
		total += l.Height
	}
	if total > Height {
		return nil, fmt.Errorf("layers stack to %d blocks, limit is %d", total, Height)
	}
	return &FlatSource{layers: append([]Layer(nil), layers...)}, nil
}

// LoadFlatSource reads a YAML layer definition from path.
func LoadFlatSource(path string) (*FlatSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading layers file %s: %w", path, err)
	}
	var lf layersFile
	if err := yaml.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("parsing layers file %s: %w", path, err)
	}
	return NewFlatSource(lf.Layers)
}

// Raw implements Source. Only full columns are supported.
func (f *FlatSource) Raw(_ context.Context, key Key) (*Raw, error) {
	if key.SizeX != Width || key.SizeY != Height || key.SizeZ != Depth || key.Y != 0 {
		return nil, fmt.Errorf("flat source only generates full columns, got %+v", key)
	}

	var column [Height]byte
	y := 0
	for _, l := range f.layers {
		for i := 0; i < l.Height; i++ {
			column[y] = l.Block
			y++
		}
	}

	raw := new(Raw)
	for x := 0; x < Width; x++ {
		for z := 0; z < Depth; z++ {
			copy(raw[Index(x, 0, z):], column[:])
		}
	}
	for i := LightStart; i < MaxChunkArray; i++ {
		raw[i] = 0xFF
	}
	return raw, nil
}

type compressing struct {
	src Source
}

// NewProvider compresses every array produced by src.
func NewProvider(src Source) Provider {
	return compressing{src: src}
}

func (c compressing) Compressed(ctx context.Context, key Key) ([]byte, error) {
	raw, err := c.src.Raw(ctx, key)
	if err != nil {
		return nil, err
	}
	return Compress(raw), nil
}

// Cache memoises compressed payloads in a fixed-size LRU. Cached slices are
// shared between callers and must not be modified.
// All methods are safe for concurrent use.
type Cache struct {
	next  Provider
	cache *lru.Cache[Key, []byte]
}

// NewCache wraps next with an LRU of size entries.
//
// Precondition: size must be >= 1.
func NewCache(next Provider, size int) (*Cache, error) {
	c, err := lru.New[Key, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("creating chunk cache: %w", err)
	}
	return &Cache{next: next, cache: c}, nil
}

// Compressed implements Provider.
func (c *Cache) Compressed(ctx context.Context, key Key) ([]byte, error) {
	if data, ok := c.cache.Get(key); ok {
		return data, nil
	}
	data, err := c.next.Compressed(ctx, key)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, data)
	return data, nil
}

// Len returns the number of cached payloads.
func (c *Cache) Len() int {
	return c.cache.Len()
}
