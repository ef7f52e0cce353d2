package testutil

import (
	"sync"
	"time"

	"scribe-go/internal/scribe"
)

// ManualTicker is a scribe.Ticker that only fires when Tick is called.
type ManualTicker struct {
	c chan time.Time

	mu       sync.Mutex
	interval time.Duration
	stopped  bool
}

func NewManualTicker() *ManualTicker {
	return &ManualTicker{c: make(chan time.Time)}
}

// Factory returns a TickerFactory that always hands out m.
func (m *ManualTicker) Factory() scribe.TickerFactory {
	return func(d time.Duration) scribe.Ticker {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.interval = d
		m.stopped = false
		return m
	}
}

func (m *ManualTicker) C() <-chan time.Time { return m.c }

func (m *ManualTicker) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

// Tick fires once. It blocks until the receiver takes the tick.
func (m *ManualTicker) Tick(t time.Time) {
	m.c <- t
}

// Interval returns the period the ticker was created with.
func (m *ManualTicker) Interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}

// Stopped reports whether Stop was called.
func (m *ManualTicker) Stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}
