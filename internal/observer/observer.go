// Package observer reads the coverage channel around each target run.
package observer

import (
	"corrfuzz/internal/executor"
	"corrfuzz/pkg/shmem"
)

// bucketTable maps raw hit counts onto the AFL power-of-two classes:
// 0, 1, 2, 3, 4-7, 8-15, 16-31, 32-127, 128+.
var bucketTable = func() [256]byte {
	var t [256]byte
	for i := range t {
		switch {
		case i <= 2:
			t[i] = byte(i)
		case i == 3:
			t[i] = 4
		case i <= 7:
			t[i] = 8
		case i <= 15:
			t[i] = 16
		case i <= 31:
			t[i] = 32
		case i <= 127:
			t[i] = 64
		default:
			t[i] = 128
		}
	}
	return t
}()

// Bucket classifies a single raw hit count.
func Bucket(hits byte) byte {
	return bucketTable[hits]
}

// EdgeObserver snapshots the bucketed edge map of the last run.
type EdgeObserver struct {
	name    string
	channel *shmem.Channel
	edges   []byte
}

func NewEdgeObserver(name string, channel *shmem.Channel) *EdgeObserver {
	return &EdgeObserver{name, channel, make([]byte, len(channel.Edges()))}
}

func (o *EdgeObserver) Name() string {
	return o.name
}

func (o *EdgeObserver) PreExec() error {
	o.channel.ResetEdges()
	clear(o.edges)
	return nil
}

func (o *EdgeObserver) PostExec(*executor.Result) error {
	for i, hits := range o.channel.Edges() {
		o.edges[i] = bucketTable[hits]
	}
	return nil
}

// Map is the bucketed map of the last run. It is overwritten by the next run.
func (o *EdgeObserver) Map() []byte {
	return o.edges
}

// Indexes lists the edges hit by the last run.
func (o *EdgeObserver) Indexes() []int {
	var idx []int
	for i, v := range o.edges {
		if v != 0 {
			idx = append(idx, i)
		}
	}
	return idx
}

// CorrectnessObserver exposes the progress step of the last run.
type CorrectnessObserver struct {
	name    string
	channel *shmem.Channel
	step    uint64
}

func NewCorrectnessObserver(name string, channel *shmem.Channel) *CorrectnessObserver {
	return &CorrectnessObserver{name: name, channel: channel}
}

func (o *CorrectnessObserver) Name() string {
	return o.name
}

func (o *CorrectnessObserver) PreExec() error {
	o.step = 0
	o.channel.ResetStep()
	return nil
}

func (o *CorrectnessObserver) PostExec(*executor.Result) error {
	o.step = o.channel.Step()
	return nil
}

func (o *CorrectnessObserver) Step() uint64 {
	return o.step
}
