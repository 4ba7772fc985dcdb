// Package shmem implements the coverage channel shared between a fuzzing
// worker and the target process it spawns.
//
// The channel is a file-backed shared mapping laid out as
//
//	[progress step: WordSize bytes, native endian][edge hit counts: one byte per guard]
//
// The worker creates it once, hands its Descriptor to every child through the
// environment, and the child attaches a view for the duration of one run.
// Parent and child never touch the mapping at the same time, so there is no
// locking: the parent resets before a run and reads after the child exited.
package shmem

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// EnvDescriptor is the environment variable carrying the serialized descriptor.
const EnvDescriptor = "SHMEM_DESCRIPTION"

// WordSize is the width of the progress step header.
const WordSize = int(unsafe.Sizeof(uintptr(0)))

var ErrChannelUnavailable = errors.New("coverage channel unavailable")

// Descriptor identifies a channel across a process boundary.
type Descriptor struct {
	Path string `json:"path"`
	Size int    `json:"size"`
}

func (d Descriptor) String() string {
	raw, _ := json.Marshal(d)
	return string(raw)
}

// ParseDescriptor is the inverse of Descriptor.String.
func ParseDescriptor(s string) (Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return Descriptor{}, fmt.Errorf("%w: malformed descriptor %q: %v", ErrChannelUnavailable, s, err)
	}
	if d.Path == "" || d.Size < WordSize {
		return Descriptor{}, fmt.Errorf("%w: invalid descriptor %q", ErrChannelUnavailable, s)
	}
	return d, nil
}

type Channel struct {
	file  *os.File
	mem   []byte
	owner bool
}

// DefaultDir returns /dev/shm when available, the temp dir otherwise.
func DefaultDir() string {
	if fi, err := os.Stat("/dev/shm"); err == nil && fi.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// Create allocates a zeroed channel of size bytes under dir.
// size is WordSize plus the guard count.
func Create(dir string, size int) (Descriptor, *Channel, error) {
	if size < WordSize {
		return Descriptor{}, nil, fmt.Errorf("channel size %d is smaller than the step header", size)
	}
	if dir == "" {
		dir = DefaultDir()
	}
	path := filepath.Join(dir, "corrfuzz-"+uuid.New().String())
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return Descriptor{}, nil, fmt.Errorf("failed to create channel file: %w", err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(path)
		return Descriptor{}, nil, fmt.Errorf("failed to truncate channel file: %w", err)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(path)
		return Descriptor{}, nil, fmt.Errorf("failed to mmap channel file: %w", err)
	}
	return Descriptor{path, size}, &Channel{f, mem, true}, nil
}

// Attach maps the channel described by d. The returned channel does not own
// the backing file; closing it only drops the mapping.
func Attach(d Descriptor) (*Channel, error) {
	f, err := os.OpenFile(d.Path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}
	if fi.Size() != int64(d.Size) {
		f.Close()
		return nil, fmt.Errorf("%w: size mismatch, descriptor %d, file %d", ErrChannelUnavailable, d.Size, fi.Size())
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, d.Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}
	return &Channel{f, mem, false}, nil
}

func (c *Channel) Len() int {
	return len(c.mem)
}

// Bytes exposes the whole mapping, header included.
func (c *Channel) Bytes() []byte {
	return c.mem
}

// Edges is the hit count region, one byte per guard.
func (c *Channel) Edges() []byte {
	return c.mem[WordSize:]
}

func (c *Channel) Step() uint64 {
	if WordSize == 8 {
		return binary.NativeEndian.Uint64(c.mem[:WordSize])
	}
	return uint64(binary.NativeEndian.Uint32(c.mem[:WordSize]))
}

func (c *Channel) SetStep(step uint64) {
	if WordSize == 8 {
		binary.NativeEndian.PutUint64(c.mem[:WordSize], step)
		return
	}
	binary.NativeEndian.PutUint32(c.mem[:WordSize], uint32(step))
}

// ResetStep zeroes the progress header only.
func (c *Channel) ResetStep() {
	clear(c.mem[:WordSize])
}

// ResetEdges zeroes the hit count region only.
func (c *Channel) ResetEdges() {
	clear(c.mem[WordSize:])
}

func (c *Channel) Reset() {
	clear(c.mem)
}

// Close unmaps the channel. The creating side also removes the backing file,
// after which descriptors pointing at it are stale.
func (c *Channel) Close() error {
	if c.mem == nil {
		return nil
	}
	err1 := unix.Munmap(c.mem)
	c.mem = nil
	err2 := c.file.Close()
	var err3 error
	if c.owner {
		err3 = os.Remove(c.file.Name())
	}
	return errors.Join(err1, err2, err3)
}
