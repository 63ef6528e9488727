// Package eventlog provides the read path over the append-only match event
// log: filtering, ordering, indexed counts, and projections rebuilt from
// the log (replay and the highlight feed).
//
// Nothing here mutates events; the log is the system of record for every
// derived count.
package eventlog

import (
	"fmt"
	"slices"
	"sort"

	"github.com/okian/rally/internal/domain/model"
)

// Filter selects events. Zero fields match everything.
type Filter struct {
	SetNumber int
	Side      model.Side
	Kinds     []model.EventKind
	AfterSeq  int64
	Limit     int
}

// Validate checks the filter fields.
func (f Filter) Validate() error {
	if f.SetNumber < 0 {
		return fmt.Errorf("%w: set number must not be negative", model.ErrInvalidArgument)
	}
	if f.Side != "" && !f.Side.Valid() {
		return fmt.Errorf("%w: unknown side %q", model.ErrInvalidArgument, f.Side)
	}
	for _, k := range f.Kinds {
		if !k.Valid() {
			return fmt.Errorf("%w: unknown event kind %q", model.ErrInvalidArgument, k)
		}
	}
	if f.Limit < 0 || f.AfterSeq < 0 {
		return fmt.Errorf("%w: limit and after must not be negative", model.ErrInvalidArgument)
	}
	return nil
}

// Match reports whether e passes the filter (ignoring Limit).
func (f Filter) Match(e model.Event) bool {
	if f.SetNumber != 0 && e.SetNumber != f.SetNumber {
		return false
	}
	if f.Side != "" && e.Side != f.Side {
		return false
	}
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, e.Kind) {
		return false
	}
	return e.Seq > f.AfterSeq
}

// Order sorts events by sequence, then creation time.
func Order(events []model.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Seq != events[j].Seq {
			return events[i].Seq < events[j].Seq
		}
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
}

// Select returns the ordered events passing f. The input is not modified.
func Select(events []model.Event, f Filter) []model.Event {
	out := make([]model.Event, 0, len(events))
	for _, e := range events {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	Order(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

type indexKey struct {
	kind model.EventKind
	side model.Side
	set  int
}

// Index answers usage counts by (kind, side, set) in constant time.
type Index struct {
	counts map[indexKey]int
}

// NewIndex builds an index over events.
func NewIndex(events []model.Event) *Index {
	ix := &Index{counts: make(map[indexKey]int, len(events))}
	for _, e := range events {
		ix.counts[indexKey{kind: e.Kind, side: e.Side, set: e.SetNumber}]++
		ix.counts[indexKey{kind: e.Kind, side: e.Side}]++
	}
	return ix
}

// Count returns the number of kind events by side in set number. A zero
// set number counts the whole match.
func (ix *Index) Count(kind model.EventKind, side model.Side, number int) int {
	if ix == nil {
		return 0
	}
	return ix.counts[indexKey{kind: kind, side: side, set: number}]
}
