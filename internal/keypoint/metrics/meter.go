package metrics

import "sort"

// AverageMeter tracks the latest value and a weighted running average.
type AverageMeter struct {
	Val   float64
	Sum   float64
	Count int
	Avg   float64
}

// Update records val with weight n.
func (m *AverageMeter) Update(val float64, n int) {
	m.Val = val
	m.Sum += val * float64(n)
	m.Count += n
	if m.Count != 0 {
		m.Avg = m.Sum / float64(m.Count)
	}
}

// Reset clears the meter.
func (m *AverageMeter) Reset() {
	*m = AverageMeter{}
}

// CategoryAverageMeter keeps an independent AverageMeter per category,
// created on first use.
type CategoryAverageMeter struct {
	meters map[string]*AverageMeter
}

// NewCategoryAverageMeter returns an empty meter set.
func NewCategoryAverageMeter() *CategoryAverageMeter {
	return &CategoryAverageMeter{meters: make(map[string]*AverageMeter)}
}

// Update records val with weight n for category.
func (m *CategoryAverageMeter) Update(val float64, category string, n int) {
	if m.meters == nil {
		m.meters = make(map[string]*AverageMeter)
	}
	am, ok := m.meters[category]
	if !ok {
		am = &AverageMeter{}
		m.meters[category] = am
	}
	am.Update(val, n)
}

// GetStats returns a copy of the category's meter; ok is false for a
// category that was never updated.
func (m *CategoryAverageMeter) GetStats(category string) (AverageMeter, bool) {
	am, ok := m.meters[category]
	if !ok {
		return AverageMeter{}, false
	}
	return *am, true
}

// Categories lists the tracked categories, sorted.
func (m *CategoryAverageMeter) Categories() []string {
	out := make([]string, 0, len(m.meters))
	for c := range m.meters {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Reset forgets every category.
func (m *CategoryAverageMeter) Reset() {
	m.meters = make(map[string]*AverageMeter)
}
