package events

import (
	"sync"
	"time"
)

// Event types published on the bus.
const (
	TypeLedgerUpdated   = "ledger_updated"
	TypeReconcileReport = "reconcile_report"
	TypeCriticalAlert   = "critical_alert"
	TypeWithdrawal      = "withdrawal"
	TypeDeposit         = "deposit"
)

// Event is one operator-visible occurrence.
type Event struct {
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data,omitempty"`
}

// Bus fans events out to subscribers. Publish never blocks: a
// subscriber that stops draining loses events rather than stalling the
// financial path that published them.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

// Subscribe returns a buffered event channel and a cancel func.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

func (b *Bus) Publish(typ string, data any) {
	e := Event{Type: typ, At: time.Now().UTC(), Data: data}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
