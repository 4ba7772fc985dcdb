package launcher

import (
	"errors"
	"fmt"
	"runtime"
	"slices"
	"strconv"
	"strings"
)

var ErrInvalidCores = errors.New("invalid core list")

// NoCore marks a worker that is not pinned.
const NoCore = -1

// ParseCores expands a core list such as "0", "1,2-4,6" or "all". "none"
// yields a single unpinned worker.
func ParseCores(list string) ([]int, error) {
	list = strings.TrimSpace(list)
	switch list {
	case "", "none":
		return []int{NoCore}, nil
	case "all":
		cores := make([]int, runtime.NumCPU())
		for i := range cores {
			cores[i] = i
		}
		return cores, nil
	}

	var cores []int
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		lo, hi, isRange := strings.Cut(part, "-")
		from, err := strconv.Atoi(lo)
		if err != nil || from < 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidCores, part)
		}
		to := from
		if isRange {
			to, err = strconv.Atoi(hi)
			if err != nil || to < from {
				return nil, fmt.Errorf("%w: %q", ErrInvalidCores, part)
			}
		}
		for c := from; c <= to; c++ {
			cores = append(cores, c)
		}
	}
	slices.Sort(cores)
	return slices.Compact(cores), nil
}
