package alerts

import (
	"sort"
	"sync"
)

// Board keeps the latest alert per tag, the way a notification tray replaces
// a notification that reuses a tag.
type Board struct {
	mu     sync.Mutex
	alerts map[string]Alert
	// C, when set, receives every alert as it is posted. Sends never block.
	C chan Alert
}

func NewBoard(buffer int) *Board {
	b := &Board{alerts: make(map[string]Alert)}
	if buffer > 0 {
		b.C = make(chan Alert, buffer)
	}
	return b
}

func (b *Board) Notify(alert Alert) {
	b.mu.Lock()
	b.alerts[alert.Tag] = alert
	b.mu.Unlock()

	if b.C != nil {
		select {
		case b.C <- alert:
		default:
		}
	}
}

// Alerts returns the current alerts, oldest first.
func (b *Board) Alerts() []Alert {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Alert, 0, len(b.alerts))
	for _, a := range b.alerts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FiredAt.Equal(out[j].FiredAt) {
			return out[i].Tag < out[j].Tag
		}
		return out[i].FiredAt.Before(out[j].FiredAt)
	})
	return out
}

func (b *Board) Dismiss(tag string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.alerts, tag)
}
