package engine

import (
	"errors"
	"time"
)

var ErrEmptyCorpus = errors.New("corpus is empty")

// IndexesMetadata is the testcase metadata key holding the edge indexes the
// testcase covered when it was added.
const IndexesMetadata = "map-indexes"

type Scheduler interface {
	OnAdd(state *State, id int) error
	Next(state *State) (int, error)
}

// QueueScheduler walks the corpus round robin in insertion order.
type QueueScheduler struct {
	cursor int
}

func NewQueueScheduler() *QueueScheduler {
	return &QueueScheduler{cursor: -1}
}

func (q *QueueScheduler) OnAdd(*State, int) error { return nil }

func (q *QueueScheduler) Next(state *State) (int, error) {
	count := state.Corpus().Count()
	if count == 0 {
		return -1, ErrEmptyCorpus
	}
	q.cursor = (q.cursor + 1) % count
	state.SetCurrentID(q.cursor)
	return q.cursor, nil
}

// SkipNonFavoredProb is the chance of passing over a testcase that is not
// the best one for any edge.
const SkipNonFavoredProb = 0.95

// MinimizerScheduler keeps, for every edge index, the testcase with the
// smallest length times execution time and prefers those favored entries.
type MinimizerScheduler struct {
	base     Scheduler
	topRated map[int]int
	favored  map[int]bool
}

func NewMinimizerScheduler(base Scheduler) *MinimizerScheduler {
	return &MinimizerScheduler{base, make(map[int]int), make(map[int]bool)}
}

func penalty(tc *Testcase) float64 {
	execTime := tc.ExecTime
	if execTime <= 0 {
		execTime = time.Microsecond
	}
	return float64(tc.Input.Len()) * float64(execTime.Microseconds()+1)
}

func (m *MinimizerScheduler) OnAdd(state *State, id int) error {
	if err := m.base.OnAdd(state, id); err != nil {
		return err
	}
	tc, err := state.Corpus().Get(id)
	if err != nil {
		return err
	}
	indexes, _ := tc.Metadata[IndexesMetadata].([]int)
	if len(indexes) == 0 {
		return nil
	}

	factor := penalty(tc)
	for _, idx := range indexes {
		if cur, ok := m.topRated[idx]; ok {
			other, err := state.Corpus().Get(cur)
			if err != nil {
				return err
			}
			if penalty(other) <= factor {
				continue
			}
		}
		m.topRated[idx] = id
	}
	m.cull()
	return nil
}

func (m *MinimizerScheduler) cull() {
	clear(m.favored)
	for _, id := range m.topRated {
		m.favored[id] = true
	}
}

func (m *MinimizerScheduler) IsFavored(id int) bool {
	return m.favored[id]
}

func (m *MinimizerScheduler) Next(state *State) (int, error) {
	for {
		id, err := m.base.Next(state)
		if err != nil {
			return -1, err
		}
		if len(m.favored) == 0 || m.favored[id] || state.Rand().Float64() >= SkipNonFavoredProb {
			return id, nil
		}
	}
}
