package engine

// InputFilter drops candidates that were already executed.
type InputFilter struct {
	seen        map[uint64]struct{}
	checked     uint64
	skipped     uint64
	reportEvery uint64
}

func NewInputFilter(reportEvery uint64) *InputFilter {
	return &InputFilter{seen: make(map[uint64]struct{}), reportEvery: reportEvery}
}

// Check reports whether input is new and remembers it. report is true every
// reportEvery skipped inputs.
func (f *InputFilter) Check(input Input) (fresh bool, report bool) {
	f.checked++
	h := input.Hash()
	if _, ok := f.seen[h]; ok {
		f.skipped++
		return false, f.reportEvery > 0 && f.skipped%f.reportEvery == 0
	}
	f.seen[h] = struct{}{}
	return true, false
}

// SkipRatio is the share of checked inputs that were duplicates.
func (f *InputFilter) SkipRatio() float64 {
	if f.checked == 0 {
		return 0
	}
	return float64(f.skipped) / float64(f.checked)
}
