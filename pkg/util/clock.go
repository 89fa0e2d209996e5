package util

import (
	"sync"
	"time"
)

// Clock supplies timestamps for ledger records, orders and trades.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// StepClock returns Start, Start+Step, Start+2*Step, ... on successive calls.
// Tests use it to get deterministic, strictly increasing timestamps.
type StepClock struct {
	mu    sync.Mutex
	Start time.Time
	Step  time.Duration
	n     int64
}

func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.Start.Add(time.Duration(c.n) * c.Step)
	c.n++
	return t
}
