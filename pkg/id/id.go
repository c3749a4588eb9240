package id

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sync"
	"time"
)

// ID is 16 bytes: an 8 byte millisecond timestamp, a 4 byte node chosen at
// random per Generator and a 4 byte sequence, all big-endian. IDs of one
// Generator sort by creation; IDs of different processes do not collide.
type ID [16]byte

var Zero ID

func (i ID) String() string { return hex.EncodeToString(i[:]) }
func (i ID) IsZero() bool   { return i == Zero }

// Time is the creation time, truncated to the millisecond.
func (i ID) Time() time.Time {
	return time.UnixMilli(int64(binary.BigEndian.Uint64(i[:8])))
}

func (i ID) Compare(other ID) int { return bytes.Compare(i[:], other[:]) }

func (i ID) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

func (i *ID) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*i = v
	return nil
}

// Parse reads the 32 character hex form.
func Parse(s string) (ID, error) {
	var out ID
	if len(s) != hex.EncodedLen(len(out)) {
		return Zero, fmt.Errorf("id: %q is not %d hex characters", s, hex.EncodedLen(len(out)))
	}
	if _, err := hex.Decode(out[:], []byte(s)); err != nil {
		return Zero, fmt.Errorf("id: %w", err)
	}
	return out, nil
}

// Generator hands out increasing IDs. It is safe for concurrent use.
type Generator struct {
	now  func() time.Time
	node uint32

	mu  sync.Mutex
	ms  int64
	seq uint32
}

// NewGenerator uses now as its clock, or time.Now when nil.
func NewGenerator(now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	var node [4]byte
	_, _ = rand.Read(node[:])
	return &Generator{now: now, node: binary.BigEndian.Uint32(node[:])}
}

// Next never goes backwards. When the clock regresses, or the sequence of the
// current millisecond is used up, it borrows from the following millisecond.
func (g *Generator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()
	ms := g.now().UnixMilli()
	switch {
	case ms > g.ms:
		g.ms, g.seq = ms, 0
	case g.seq == math.MaxUint32:
		g.ms, g.seq = g.ms+1, 0
	default:
		g.seq++
	}
	var out ID
	binary.BigEndian.PutUint64(out[:8], uint64(g.ms))
	binary.BigEndian.PutUint32(out[8:12], g.node)
	binary.BigEndian.PutUint32(out[12:], g.seq)
	return out
}

var process = NewGenerator(nil)

// New returns the next ID of the process wide generator.
func New() ID { return process.Next() }
