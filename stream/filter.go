// Package stream implements the stream engine: server-side
// sequence-numbered publishers with optional filtering/delta encoding, and
// client-side ordered, duplicate-rejecting consumption with resume support.
package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/webitel/actorbridge/wire"
)

// Filter decides whether a value is worth emitting to a particular
// subscriber. It carries its own state (e.g. "previous value") since a
// filter instance is scoped to exactly one subscription.
type Filter interface {
	// Accept reports whether next should be emitted. Implementations that
	// maintain comparison state only update it when Accept returns true
	// (filter state updates on accept only).
	Accept(next []byte) bool
}

// NewFilter builds a Filter from the wire description attached to a
// StreamStart. A nil cfg or FilterAll means "emit everything".
func NewFilter(cfg *wire.StreamFilter) (Filter, error) {
	if cfg == nil || cfg.Type == wire.FilterAll {
		return allFilter{}, nil
	}

	switch cfg.Type {
	case wire.FilterPredefined:
		switch cfg.Name {
		case "changed":
			return &changedFilter{}, nil
		case "nonEmpty":
			return nonEmptyFilter{}, nil
		case "threshold":
			return newThresholdFilter(cfg.Params["value"], cfg.Params["comparison"], cfg.Params["field"])
		default:
			return nil, fmt.Errorf("actorbridge: unknown predefined filter %q", cfg.Name)
		}
	case wire.FilterCustom:
		// Custom filters are registered by name at the application layer;
		// the engine itself only knows the predefined three. A custom
		// filter with no registered implementation fails open.
		return allFilter{}, nil
	default:
		return nil, fmt.Errorf("actorbridge: unknown filter type %q", cfg.Type)
	}
}

// allFilter emits everything unconditionally.
type allFilter struct{}

func (allFilter) Accept([]byte) bool { return true }

// changedFilter emits only when next differs from the last accepted value.
// The very first value is always accepted (there is no previous value yet).
type changedFilter struct {
	hasPrev bool
	prev    []byte
}

func (f *changedFilter) Accept(next []byte) bool {
	if f.hasPrev && bytes.Equal(f.prev, next) {
		return false
	}
	f.prev = append([]byte(nil), next...)
	f.hasPrev = true
	return true
}

// nonEmptyFilter decodes the payload as a structured value and passes iff
// it is a non-empty array, a non-empty object, or a non-empty string; any
// other shape (numbers, booleans, null) passes unconditionally. A payload
// that doesn't decode as JSON at all fails open too, since the engine
// cannot know the application's own encoding.
type nonEmptyFilter struct{}

func (nonEmptyFilter) Accept(next []byte) bool {
	var v any
	if err := json.Unmarshal(next, &v); err != nil {
		return true
	}
	switch t := v.(type) {
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	case string:
		return t != ""
	default:
		return true
	}
}

// comparison is a threshold filter's "comparison" parameter.
type comparison string

const (
	cmpGT  comparison = "gt"
	cmpGTE comparison = "gte"
	cmpLT  comparison = "lt"
	cmpLTE comparison = "lte"
	cmpEQ  comparison = "eq"
	cmpNEQ comparison = "neq"
)

// thresholdFilter emits only values whose extracted numeric field compares
// favorably against a configured threshold. Extraction failure (payload
// isn't numeric JSON, or the named field is absent/non-numeric) fails
// open.
type thresholdFilter struct {
	threshold float64
	cmp       comparison
	field     string
}

func newThresholdFilter(rawThreshold string, cmp string, field string) (*thresholdFilter, error) {
	t, err := strconv.ParseFloat(rawThreshold, 64)
	if err != nil {
		return nil, fmt.Errorf("actorbridge: threshold filter requires a numeric value param: %w", err)
	}
	c := comparison(cmp)
	switch c {
	case cmpGT, cmpGTE, cmpLT, cmpLTE, cmpEQ, cmpNEQ:
	case "":
		c = cmpGTE
	default:
		return nil, fmt.Errorf("actorbridge: unknown threshold comparison %q", cmp)
	}
	return &thresholdFilter{threshold: t, cmp: c, field: field}, nil
}

func (f *thresholdFilter) Accept(next []byte) bool {
	v, ok := f.extract(next)
	if !ok {
		return true
	}
	switch f.cmp {
	case cmpGT:
		return v > f.threshold
	case cmpGTE:
		return v >= f.threshold
	case cmpLT:
		return v < f.threshold
	case cmpLTE:
		return v <= f.threshold
	case cmpEQ:
		return v == f.threshold
	case cmpNEQ:
		return v != f.threshold
	default:
		return true
	}
}

func (f *thresholdFilter) extract(next []byte) (float64, bool) {
	var v any
	if err := json.Unmarshal(next, &v); err != nil {
		return 0, false
	}
	if f.field == "" {
		n, ok := v.(float64)
		return n, ok
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return 0, false
	}
	n, ok := obj[f.field].(float64)
	return n, ok
}
