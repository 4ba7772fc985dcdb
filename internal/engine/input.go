package engine

import (
	"encoding/binary"
	"slices"

	"github.com/cespare/xxhash/v2"
)

// Input is a candidate the fuzzer can execute.
type Input interface {
	Len() int
	Hash() uint64
	Clone() Input
}

// BytesInput is a raw byte candidate.
type BytesInput []byte

func (b BytesInput) Len() int     { return len(b) }
func (b BytesInput) Hash() uint64 { return xxhash.Sum64(b) }
func (b BytesInput) Clone() Input { return slices.Clone(b) }

// EncodedInput is a sequence of token codes produced by a token codec.
type EncodedInput []uint32

func (e EncodedInput) Len() int { return len(e) }

func (e EncodedInput) Hash() uint64 {
	d := xxhash.New()
	var buf [4]byte
	for _, code := range e {
		binary.LittleEndian.PutUint32(buf[:], code)
		d.Write(buf[:])
	}
	return d.Sum64()
}

func (e EncodedInput) Clone() Input { return slices.Clone(e) }

// RenderFunc turns an input into the bytes fed to the target.
type RenderFunc func(Input) ([]byte, error)
