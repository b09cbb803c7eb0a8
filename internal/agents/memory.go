package agents

import (
	"fmt"
	"sort"

	"github.com/talgya/mini-economy/internal/economy"
)

// MaxNotes bounds the notes kept per company.
const MaxNotes = 32

// Note importance levels.
const (
	ImportanceLow    float32 = 0.2
	ImportanceMedium float32 = 0.5
	ImportanceHigh   float32 = 0.8
)

// Note is a notable experience of a company: a stalled building, a rejected
// order, a large trade or a market event. Notes feed the strategy prompt.
type Note struct {
	Tick       uint64  `json:"tick"`
	Content    string  `json:"content"`
	Importance float32 `json:"importance"` // 0.0–1.0
}

// Remember adds a note. When full, the least important note is replaced,
// the oldest first among equals, and only by a note at least as important.
func (c *Company) Remember(tick uint64, importance float32, format string, args ...any) {
	n := Note{Tick: tick, Content: fmt.Sprintf(format, args...), Importance: economy.Clamp(importance, 0, 1)}

	if len(c.notes) < MaxNotes {
		c.notes = append(c.notes, n)
		return
	}
	minIdx := 0
	for i := 1; i < len(c.notes); i++ {
		m := c.notes[i]
		lo := c.notes[minIdx]
		if m.Importance < lo.Importance || (m.Importance == lo.Importance && m.Tick < lo.Tick) {
			minIdx = i
		}
	}
	if n.Importance >= c.notes[minIdx].Importance {
		c.notes[minIdx] = n
	}
}

// RecentNotes returns up to count notes, newest first.
func (c *Company) RecentNotes(count int) []Note {
	return topNotes(c.notes, count, func(a, b Note) bool { return a.Tick > b.Tick })
}

// ImportantNotes returns up to count notes, most important first and newest
// first among equals.
func (c *Company) ImportantNotes(count int) []Note {
	return topNotes(c.notes, count, func(a, b Note) bool {
		if a.Importance != b.Importance {
			return a.Importance > b.Importance
		}
		return a.Tick > b.Tick
	})
}

func topNotes(notes []Note, count int, less func(a, b Note) bool) []Note {
	if len(notes) == 0 || count <= 0 {
		return nil
	}
	sorted := append([]Note(nil), notes...)
	sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })
	return sorted[:min(count, len(sorted))]
}

// Remember records a note for a company of this manager.
func (m *Manager) Remember(id economy.CompanyID, tick uint64, importance float32, format string, args ...any) bool {
	c, ok := m.index[id]
	if !ok {
		return false
	}
	c.Remember(tick, importance, format, args...)
	return true
}
