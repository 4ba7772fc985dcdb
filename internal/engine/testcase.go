package engine

import (
	"errors"
	"fmt"
	"os"
	"time"

	"corrfuzz/internal/executor"
	"corrfuzz/internal/utils"
)

var ErrTestcaseNotFound = errors.New("testcase not found")

type Testcase struct {
	ID       int
	Input    Input
	ExecTime time.Duration
	Outcome  executor.Outcome
	Filename string
	Fuzzed   int
	Metadata map[string]any
}

func NewTestcase(input Input, result *executor.Result) *Testcase {
	tc := &Testcase{ID: -1, Input: input, Metadata: make(map[string]any)}
	if result != nil {
		tc.ExecTime = result.Elapsed
		tc.Outcome = result.Outcome
	}
	return tc
}

// Corpus keeps testcases in memory and, when a directory is set, mirrors the
// rendered inputs to disk named by content hash.
type Corpus struct {
	entries []*Testcase
	dir     string
	render  RenderFunc
}

func NewInMemoryCorpus() *Corpus {
	return &Corpus{}
}

func NewOnDiskCorpus(dir string, render RenderFunc) (*Corpus, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create corpus directory: %w", err)
	}
	return &Corpus{dir: dir, render: render}, nil
}

// Add stores tc and returns its id. Ids are dense and start at zero.
func (c *Corpus) Add(tc *Testcase) (int, error) {
	if c.dir != "" {
		data, err := c.render(tc.Input)
		if err != nil {
			return -1, fmt.Errorf("failed to render testcase: %w", err)
		}
		path, err := utils.WriteContentFile(c.dir, data)
		if err != nil {
			return -1, err
		}
		tc.Filename = path
	}
	tc.ID = len(c.entries)
	c.entries = append(c.entries, tc)
	return tc.ID, nil
}

func (c *Corpus) Get(id int) (*Testcase, error) {
	if id < 0 || id >= len(c.entries) {
		return nil, fmt.Errorf("%w: %d", ErrTestcaseNotFound, id)
	}
	return c.entries[id], nil
}

func (c *Corpus) Count() int {
	return len(c.entries)
}

func (c *Corpus) Dir() string {
	return c.dir
}
