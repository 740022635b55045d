// Package routing selects the caller id presented on outbound dials.
package routing

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"
)

// CallerID is one number the platform may present to the callee.
type CallerID struct {
	// Number is E.164.
	Number string

	// Weight must be > 0.
	Weight int

	// Prefix restricts the number to destinations starting with it (for
	// example "+44"). Empty matches every destination.
	Prefix string
}

// Pool picks a caller id for a destination.
//
// Rules:
//  1. Only entries whose prefix matches the destination are eligible
//  2. The longest matching prefix wins (country-local numbers beat the default)
//  3. Weighted random selection among the winners
//
// Pool has no side effects.
type Pool struct {
	entries []CallerID

	mu  sync.Mutex
	rng *rand.Rand
}

func NewPool(entries []CallerID, rng *rand.Rand) *Pool {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Pool{entries: entries, rng: rng}
}

// ParsePool parses "number:weight:prefix" entries separated by commas.
// Weight and prefix are optional ("+15550001111" alone has weight 1, no prefix).
func ParsePool(raw string) ([]CallerID, error) {
	var out []CallerID
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) > 3 {
			return nil, fmt.Errorf("caller id %q: expected number:weight:prefix", part)
		}
		c := CallerID{Number: strings.TrimSpace(fields[0]), Weight: 1}
		if !strings.HasPrefix(c.Number, "+") || len(c.Number) < 8 {
			return nil, fmt.Errorf("caller id %q: number must be E.164", part)
		}
		if len(fields) >= 2 && strings.TrimSpace(fields[1]) != "" {
			w, err := strconv.Atoi(strings.TrimSpace(fields[1]))
			if err != nil || w <= 0 {
				return nil, fmt.Errorf("caller id %q: weight must be a positive integer", part)
			}
			c.Weight = w
		}
		if len(fields) == 3 {
			c.Prefix = strings.TrimSpace(fields[2])
		}
		out = append(out, c)
	}
	return out, nil
}

// SelectCallerID returns the caller id for destination, or "" when the pool
// has nothing eligible (the carrier then uses the account default).
func (p *Pool) SelectCallerID(ctx context.Context, destination string) (string, error) {
	_ = ctx

	best := -1
	var eligible []CallerID
	for _, c := range p.entries {
		if c.Weight <= 0 || !strings.HasPrefix(destination, c.Prefix) {
			continue
		}
		switch n := len(c.Prefix); {
		case n > best:
			best = n
			eligible = []CallerID{c}
		case n == best:
			eligible = append(eligible, c)
		}
	}

	number, _ := p.pick(eligible)
	return number, nil
}

func (p *Pool) pick(entries []CallerID) (string, bool) {
	var total int
	for _, c := range entries {
		total += c.Weight
	}
	if total <= 0 {
		return "", false
	}

	p.mu.Lock()
	r := p.rng.Intn(total) // 0..total-1
	p.mu.Unlock()

	var acc int
	for _, c := range entries {
		acc += c.Weight
		if r < acc {
			return c.Number, true
		}
	}
	return "", false
}
