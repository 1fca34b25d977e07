package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/sessionstate/internal/envelope"
	"github.com/roach88/sessionstate/internal/session"
	"github.com/roach88/sessionstate/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s %s -> %s\n", event.Seq, event.Op, event.Node, event.Session, event.Outcome)
		}
	}
	return buf.String()
}

// AssertionContext provides what final_state assertions read.
type AssertionContext struct {
	Ctx   context.Context
	Store store.Store
	AppID string
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertFinalState:
			err = assertFinalState(actx, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func (a Assertion) matches(ev TraceEvent) bool {
	if ev.Op != a.Op {
		return false
	}
	if a.Session != "" && ev.Session != a.Session {
		return false
	}
	if a.Outcome != "" && ev.Outcome != a.Outcome {
		return false
	}
	return true
}

// assertTraceContains checks that a step matching op, session and outcome ran.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if assertion.matches(event) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("op %s (session %q, outcome %q)", assertion.Op, assertion.Session, assertion.Outcome),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks if ops appear in the specified order.
// Ops don't need to be consecutive (intervening steps are allowed).
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	next := 0
	for _, event := range trace {
		if next < len(assertion.Ops) && event.Op == assertion.Ops[next] {
			next++
		}
	}
	if next == len(assertion.Ops) {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceOrder,
		Expected: fmt.Sprintf("ops in order: %v", assertion.Ops),
		Actual:   fmt.Sprintf("matched %v, missing %s", assertion.Ops[:next], assertion.Ops[next]),
		Trace:    trace,
	}
}

// assertTraceCount checks if the op appears exactly the specified number of times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if assertion.matches(event) {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s (outcome %q)", assertion.Count, assertion.Op, assertion.Outcome),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState reads the stored session and compares the fields set in
// the expect clause.
func assertFinalState(actx *AssertionContext, assertion Assertion) error {
	want := assertion.Expect
	key := session.Key(actx.AppID, assertion.Session)

	rec, ok, err := actx.Store.Get(actx.Ctx, key)
	if err != nil {
		return fmt.Errorf("read %q: %w", key, err)
	}
	fail := func(expected, actual string) error {
		return &AssertionError{Type: AssertFinalState, Expected: expected, Actual: actual}
	}

	if want.Exists != nil && *want.Exists != ok {
		return fail(fmt.Sprintf("session %q exists=%t", assertion.Session, *want.Exists), fmt.Sprintf("exists=%t", ok))
	}
	if !ok {
		if want.Locked != nil || want.Keys != nil || want.Values != nil {
			return fail(fmt.Sprintf("session %q to exist", assertion.Session), "session not found")
		}
		return nil
	}

	if want.Locked != nil && *want.Locked != rec.Locked() {
		return fail(fmt.Sprintf("locked=%t", *want.Locked), fmt.Sprintf("locked=%t", rec.Locked()))
	}
	if want.Keys == nil && want.Values == nil {
		return nil
	}

	codec := envelope.NewCodec(nil)
	var keys []string
	values := map[string]any{}
	if len(rec.Attributes) > 0 {
		items, err := codec.Decode(rec.Attributes)
		if err != nil {
			return fmt.Errorf("decode %q: %w", key, err)
		}
		for _, e := range items.Entries() {
			keys = append(keys, e.Key)
			values[e.Key] = e.Value
		}
	}

	if want.Keys != nil && !stringsEqual(want.Keys, keys) {
		return fail(fmt.Sprintf("keys %v", want.Keys), fmt.Sprintf("keys %v", keys))
	}

	names := make([]string, 0, len(want.Values))
	for k := range want.Values {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		actual, exists := values[k]
		if !exists {
			return fail(fmt.Sprintf("value %q to exist", k), fmt.Sprintf("keys %v", keys))
		}
		if !valuesEqual(want.Values[k], actual) {
			return fail(
				fmt.Sprintf("value %q = %v (type %T)", k, want.Values[k], want.Values[k]),
				fmt.Sprintf("value %q = %v (type %T)", k, actual, actual),
			)
		}
	}
	return nil
}

// valuesEqual compares a YAML-parsed expectation with a decoded value. Values
// stored through the JSON fallback decode to generic JSON shapes, so those are
// compared by their JSON encoding.
func valuesEqual(expected, actual any) bool {
	if reflect.DeepEqual(expected, actual) {
		return true
	}
	a, err := json.Marshal(expected)
	if err != nil {
		return false
	}
	b, err := json.Marshal(actual)
	if err != nil {
		return false
	}
	return string(a) == string(b)
}
