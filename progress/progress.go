// Package progress carries the 0-100 completion value of a batch run to its
// observers.
package progress

import "sync"

// Sink receives completion percentages. Values within one run never
// decrease; a new run starts again from 0.
type Sink func(percent int)

// Nop discards every value.
func Nop(int) {}

// Multi fans one value out to every non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	var live []Sink
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	return func(p int) {
		for _, s := range live {
			s(p)
		}
	}
}

// Percent is round(100*done/total), clamped to [0, 100].
func Percent(done, total int) int {
	if total <= 0 || done <= 0 {
		return 0
	}
	if done >= total {
		return 100
	}
	return int((200*int64(done) + int64(total)) / (2 * int64(total)))
}

// Tracker keeps the latest value and pushes changes to subscribers. Slow
// subscribers only ever see the newest value.
type Tracker struct {
	mu   sync.Mutex
	cur  int
	subs map[chan int]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{subs: make(map[chan int]struct{})}
}

// Sink returns a Sink that updates the tracker.
func (t *Tracker) Sink() Sink { return t.Set }

func (t *Tracker) Set(p int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cur = p
	for ch := range t.subs {
		select {
		case <-ch:
		default:
		}
		ch <- p
	}
}

// Value is the most recent percentage.
func (t *Tracker) Value() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cur
}

// Subscribe returns a channel primed with the current value and a cancel
// func that closes it.
func (t *Tracker) Subscribe() (<-chan int, func()) {
	ch := make(chan int, 1)
	t.mu.Lock()
	ch <- t.cur
	t.subs[ch] = struct{}{}
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, ch)
			t.mu.Unlock()
			close(ch)
		})
	}
}
