// Package protocol implements the outbound binary encoding of the game
// protocol. Every packet starts with a one-byte tag followed by its fields in
// network (big-endian) byte order; strings carry a 16-bit length prefix and
// no terminator.
package protocol

import (
	"errors"
	"fmt"
)

// Version is the client protocol version this server speaks.
const Version int32 = 8

// Packet tags.
const (
	TagLoginResponse  byte = 0x01
	TagHandshake      byte = 0x02
	TagChat           byte = 0x03
	TagSpawnPosition  byte = 0x06
	TagPlayerMoveLook byte = 0x0D
	TagPreChunk       byte = 0x32
	TagMapChunk       byte = 0x33
	TagDisconnect     byte = 0xFF
)

// MaxChunkExtent is the largest chunk extent along any axis.
const MaxChunkExtent = 128

// ErrInvalidArgument is returned when a packet field cannot be represented on the wire.
var ErrInvalidArgument = errors.New("invalid argument")

// Packet is a typed outbound message.
type Packet interface {
	// Tag returns the one-byte packet discriminator.
	Tag() byte
	// size returns the encoded length including the tag, used to size the buffer.
	size() int
	// encode writes the packet body (everything after the tag).
	encode(w *Writer)
}

// Encode serialises p into a freshly allocated buffer.
//
// Postcondition: Returns the wire bytes starting with p.Tag(), or an error
// wrapping ErrInvalidArgument.
func Encode(p Packet) ([]byte, error) {
	w := NewWriter(p.size())
	w.Byte(p.Tag())
	p.encode(w)
	data, err := w.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encoding packet 0x%02X: %w", p.Tag(), err)
	}
	return data, nil
}

// HandshakeReply answers the client handshake with a connection challenge.
type HandshakeReply struct {
	Challenge string
}

func (HandshakeReply) Tag() byte { return TagHandshake }
func (p HandshakeReply) size() int { return 3 + len(p.Challenge) }
func (p HandshakeReply) encode(w *Writer) { w.String(p.Challenge) }

// LoginResponse accepts a login and tells the client its entity id and world.
// The two reserved int16 fields are always written as zero.
type LoginResponse struct {
	EntityID  int32
	Seed      int64
	Dimension int8
}

func (LoginResponse) Tag() byte { return TagLoginResponse }
func (LoginResponse) size() int { return 1 + 4 + 2 + 2 + 8 + 1 }
func (p LoginResponse) encode(w *Writer) {
	w.Int32(p.EntityID).Int16(0).Int16(0).Int64(p.Seed).Int8(p.Dimension)
}

// Chat carries one chat line. The message is written verbatim.
type Chat struct {
	Message string
}

func (Chat) Tag() byte { return TagChat }
func (p Chat) size() int { return 3 + len(p.Message) }
func (p Chat) encode(w *Writer) { w.String(p.Message) }

// PreChunk tells the client to allocate (Load true) or free a chunk column
// before any map data for it arrives. X and Z are chunk coordinates.
type PreChunk struct {
	X    int32
	Z    int32
	Load bool
}

func (PreChunk) Tag() byte { return TagPreChunk }
func (PreChunk) size() int { return 1 + 4 + 4 + 1 }
func (p PreChunk) encode(w *Writer) {
	w.Int32(p.X).Int32(p.Z).Bool(p.Load)
}

// MapChunk carries compressed block data for a cuboid starting at world
// coordinates X, Y, Z. SizeX, SizeY and SizeZ are the actual extents (1..128);
// they are written as extent-1.
type MapChunk struct {
	X     int32
	Y     int16
	Z     int32
	SizeX int
	SizeY int
	SizeZ int
	Data  []byte
}

func (MapChunk) Tag() byte { return TagMapChunk }
func (p MapChunk) size() int { return 1 + 4 + 2 + 4 + 3 + 4 + len(p.Data) }
func (p MapChunk) encode(w *Writer) {
	for _, ext := range [...]struct {
		axis string
		v    int
	}{{"x", p.SizeX}, {"y", p.SizeY}, {"z", p.SizeZ}} {
		if ext.v < 1 || ext.v > MaxChunkExtent {
			w.Fail(fmt.Errorf("chunk size%s %d outside 1..%d: %w", ext.axis, ext.v, MaxChunkExtent, ErrInvalidArgument))
			return
		}
	}
	w.Int32(p.X).Int16(p.Y).Int32(p.Z).
		Byte(byte(p.SizeX - 1)).Byte(byte(p.SizeY - 1)).Byte(byte(p.SizeZ - 1)).
		Bytes32(p.Data)
}

// SpawnPosition sets the client's spawn point (and compass target).
type SpawnPosition struct {
	X int32
	Y int32
	Z int32
}

func (SpawnPosition) Tag() byte { return TagSpawnPosition }
func (SpawnPosition) size() int { return 1 + 12 }
func (p SpawnPosition) encode(w *Writer) {
	w.Int32(p.X).Int32(p.Y).Int32(p.Z)
}

// PlayerMoveLook sets the player's absolute position and rotation.
// The wire order is x, y, stance, z even though the fields are declared
// stance first. Clients depend on this order.
type PlayerMoveLook struct {
	X        float64
	Stance   float64
	Y        float64
	Z        float64
	Yaw      float32
	Pitch    float32
	OnGround bool
}

func (PlayerMoveLook) Tag() byte { return TagPlayerMoveLook }
func (PlayerMoveLook) size() int { return 1 + 32 + 8 + 1 }
func (p PlayerMoveLook) encode(w *Writer) {
	w.Float64(p.X).Float64(p.Y).Float64(p.Stance).Float64(p.Z).
		Float32(p.Yaw).Float32(p.Pitch).Bool(p.OnGround)
}

// Disconnect kicks the client with a human-readable reason. The caller is
// responsible for closing the connection afterwards.
type Disconnect struct {
	Reason string
}

func (Disconnect) Tag() byte { return TagDisconnect }
func (p Disconnect) size() int { return 3 + len(p.Reason) }
func (p Disconnect) encode(w *Writer) { w.String(p.Reason) }
