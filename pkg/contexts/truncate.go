package contexts

import (
	"time"

	"github.com/pkg/errors"
)

// TruncateReport describes the outcome of a truncation.
type TruncateReport struct {
	Context string `json:"context"`
	Removed int    `json:"removed"`
	Size    int    `json:"size"`
	Limit   int    `json:"limit"`
	// Oversized is set when the single remaining message alone exceeds
	// the limit. That message is kept.
	Oversized bool `json:"oversized"`
}

// Truncate drops the oldest messages of the named context until its size
// fits limit. A non-positive limit falls back to the context's budget; a
// context without any budget is left untouched. Order is never changed.
func (m *Manager) Truncate(name string, limit int) (TruncateReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contexts[name]
	if !ok {
		return TruncateReport{}, errors.Wrapf(ErrContextNotFound, "context %q", name)
	}
	if limit <= 0 {
		limit = c.TokenBudget
	}
	report := TruncateReport{Context: name, Limit: limit, Size: m.measure(c.Messages)}
	if limit <= 0 {
		return report, nil
	}

	drop := 0
	for report.Size > limit && len(c.Messages)-drop > 1 {
		report.Size -= m.sizer.Size(c.Messages[drop].Content)
		drop++
	}
	if drop > 0 {
		c.Messages = append([]Message{}, c.Messages[drop:]...)
		c.UpdatedAt = time.Now().UTC()
	}
	report.Removed = drop
	report.Oversized = report.Size > limit
	return report, nil
}
