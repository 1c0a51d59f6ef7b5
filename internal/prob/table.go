// Package prob provides the pre-computed probability lookup.
//
// The surface is a flat table keyed by (ttc_seconds, buffer_points,
// momentum_bucket) → (prob_within_positive, prob_within_negative), generated
// offline and strictly read-only at runtime. Lookups round each key to its
// grid step (TTC 5 s, buffer 10 pts, momentum integer) and clamp to the
// table domain. For buffers below a quarter step, a linear ramp from 100% at
// zero buffer down to the first-step table value replaces the grid value.
package prob

import (
	"fmt"
	"math"
)

const (
	// TTCStep is the time-to-close grid spacing in seconds.
	TTCStep = 5
	// BufferStep is the buffer grid spacing in points.
	BufferStep = 10
	// quarterStep is the ramp threshold: below this buffer the table value
	// is replaced by the linear ramp.
	quarterStep = float64(BufferStep) / 4
)

// Probs is one table cell: the probability (percent) that price stays
// within the buffer on the up side (positive) and down side (negative).
type Probs struct {
	Positive float64
	Negative float64
}

// Key is one normalized grid coordinate.
type Key struct {
	TTCSeconds     int
	BufferPoints   int
	MomentumBucket int
}

// Domain bounds the table grid; lookup inputs are clamped into it.
type Domain struct {
	TTCMin, TTCMax           int
	BufferMax                int
	MomentumMin, MomentumMax int
}

// Table is the read-only lookup consumed by the strike generator and the
// active-trade supervisor.
type Table interface {
	// Lookup resolves the probabilities for the given raw inputs. The
	// second return is false when the table has no row even after
	// normalization (a generation gap, reported by the caller).
	Lookup(ttcSeconds int, bufferPoints float64, momentum int) (Probs, bool)
}

// Normalize rounds the raw inputs to the grid and clamps them to d.
func (d Domain) Normalize(ttcSeconds int, bufferPoints float64, momentum int) Key {
	ttc := roundToStep(ttcSeconds, TTCStep)
	if ttc < d.TTCMin {
		ttc = d.TTCMin
	}
	if ttc > d.TTCMax {
		ttc = d.TTCMax
	}

	buffer := roundToStep(int(math.Round(bufferPoints)), BufferStep)
	if buffer < 0 {
		buffer = 0
	}
	if buffer > d.BufferMax {
		buffer = d.BufferMax
	}

	mom := momentum
	if mom < d.MomentumMin {
		mom = d.MomentumMin
	}
	if mom > d.MomentumMax {
		mom = d.MomentumMax
	}

	return Key{TTCSeconds: ttc, BufferPoints: buffer, MomentumBucket: mom}
}

func roundToStep(v, step int) int {
	if step <= 1 {
		return v
	}
	return int(math.Round(float64(v)/float64(step))) * step
}

// resolve implements the shared lookup policy over a raw cell fetch:
// normalization, then the sub-quarter-step ramp.
func resolve(d Domain, fetch func(Key) (Probs, bool), ttcSeconds int, bufferPoints float64, momentum int) (Probs, bool) {
	if bufferPoints < quarterStep {
		// Ramp between 100% at zero buffer and the first-step cell.
		first, ok := fetch(d.Normalize(ttcSeconds, BufferStep, momentum))
		if !ok {
			return Probs{}, false
		}
		frac := bufferPoints / BufferStep
		return Probs{
			Positive: 100 + (first.Positive-100)*frac,
			Negative: 100 + (first.Negative-100)*frac,
		}, true
	}

	return fetch(d.Normalize(ttcSeconds, bufferPoints, momentum))
}

// MemTable is the in-memory implementation, used by tests and for small
// surfaces loaded at startup.
type MemTable struct {
	domain Domain
	rows   map[Key]Probs
}

// NewMemTable builds a MemTable from explicit rows; the domain is derived
// from the row keys.
func NewMemTable(rows map[Key]Probs) (*MemTable, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("probability table is empty")
	}

	d := Domain{TTCMin: math.MaxInt, MomentumMin: math.MaxInt}
	d.TTCMax, d.BufferMax, d.MomentumMax = math.MinInt, 0, math.MinInt
	for k := range rows {
		if k.TTCSeconds < d.TTCMin {
			d.TTCMin = k.TTCSeconds
		}
		if k.TTCSeconds > d.TTCMax {
			d.TTCMax = k.TTCSeconds
		}
		if k.BufferPoints > d.BufferMax {
			d.BufferMax = k.BufferPoints
		}
		if k.MomentumBucket < d.MomentumMin {
			d.MomentumMin = k.MomentumBucket
		}
		if k.MomentumBucket > d.MomentumMax {
			d.MomentumMax = k.MomentumBucket
		}
	}

	return &MemTable{domain: d, rows: rows}, nil
}

// Domain returns the table's clamping bounds.
func (t *MemTable) Domain() Domain { return t.domain }

// Lookup implements Table.
func (t *MemTable) Lookup(ttcSeconds int, bufferPoints float64, momentum int) (Probs, bool) {
	return resolve(t.domain, func(k Key) (Probs, bool) {
		p, ok := t.rows[k]
		return p, ok
	}, ttcSeconds, bufferPoints, momentum)
}
