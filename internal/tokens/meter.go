// internal/tokens/meter.go

// Package tokens tracks per-session context-window consumption so the
// presentation layer can show how full the agent's context is.
package tokens

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Meter counts tokens consumed by finalized messages against a context
// budget. It is advisory: nothing in the engine gates on it. Consumption
// happens on the session's event lane while readers render from other
// goroutines, so the running total is locked.
type Meter struct {
	mu        sync.Mutex
	tokenizer *tiktoken.Tiktoken
	max       int
	used      int
}

// NewMeter creates a meter for the given model's tokenizer and context size.
// Unknown models fall back to cl100k_base.
func NewMeter(model string, maxTokens int) (*Meter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Meter{tokenizer: enc, max: maxTokens}, nil
}

// Count returns the token count of a string without consuming budget.
func (m *Meter) Count(text string) int {
	return len(m.tokenizer.Encode(text, nil, nil))
}

// Consume adds the text's tokens to the running total and returns the count.
func (m *Meter) Consume(text string) int {
	n := m.Count(text)
	m.mu.Lock()
	m.used += n
	m.mu.Unlock()
	return n
}

// Used returns the tokens consumed so far.
func (m *Meter) Used() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}

// Max returns the configured context size.
func (m *Meter) Max() int {
	return m.max
}

// Fraction returns used/max clamped to [0, 1]; 0 when max is unset.
func (m *Meter) Fraction() float64 {
	if m.max <= 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	f := float64(m.used) / float64(m.max)
	if f > 1 {
		return 1
	}
	return f
}

// Reset clears the running total, e.g. after the backend compacts context.
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used = 0
}
