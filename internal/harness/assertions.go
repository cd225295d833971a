package harness

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/roach88/anchorsync/internal/engine"
	"github.com/roach88/anchorsync/internal/pose"
)

// poseTolerance absorbs float noise in pose comparisons.
const poseTolerance = 1e-6

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
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] step=%d %s entity=%d anchor=%d version=%d\n",
				ev.Seq, ev.Step, ev.Op, ev.Entity, ev.Anchor, ev.Version)
		}
	}
	return buf.String()
}

func evaluateAssertion(r *Result, a Assertion) error {
	switch a.Type {
	case AssertPublishCount:
		return assertPublishCount(r.Trace, a)
	case AssertPublishOrder:
		return assertPublishOrder(r.Trace, a)
	case AssertEntity:
		return assertEntity(r, a)
	case AssertAbsent:
		if _, ok := r.entity(a.Entity); ok {
			return &AssertionError{
				Type:     AssertAbsent,
				Expected: fmt.Sprintf("entity %d not in graph", a.Entity),
				Actual:   "present",
			}
		}
		return nil
	case AssertOrphans:
		if r.Orphans != a.Count {
			return &AssertionError{
				Type:     AssertOrphans,
				Expected: fmt.Sprintf("%d orphans", a.Count),
				Actual:   fmt.Sprintf("%d orphans", r.Orphans),
			}
		}
		return nil
	case AssertAnchor:
		return assertAnchor(r, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertPublishCount checks that op appears exactly Count times.
func assertPublishCount(trace []TraceEvent, a Assertion) error {
	n := 0
	for _, ev := range trace {
		if ev.Op == a.Op && (a.Entity == 0 || ev.Entity == a.Entity) {
			n++
		}
	}
	if n == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertPublishCount,
		Expected: fmt.Sprintf("%s published %d times", a.Op, a.Count),
		Actual:   fmt.Sprintf("published %d times", n),
		Trace:    trace,
	}
}

// assertPublishOrder checks that Ops appear in order. Other publishes may sit
// between them.
func assertPublishOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, ev := range trace {
		if next < len(a.Ops) && ev.Op == a.Ops[next] {
			next++
		}
	}
	if next == len(a.Ops) {
		return nil
	}
	return &AssertionError{
		Type:     AssertPublishOrder,
		Expected: fmt.Sprintf("ops in order %v", a.Ops),
		Actual:   fmt.Sprintf("matched %v, missing %s", a.Ops[:next], a.Ops[next]),
		Trace:    trace,
	}
}

// assertEntity subset-matches Expect against the entity's final view.
func assertEntity(r *Result, a Assertion) error {
	v, ok := r.entity(a.Entity)
	if !ok {
		return &AssertionError{
			Type:     AssertEntity,
			Expected: fmt.Sprintf("entity %d in graph", a.Entity),
			Actual:   "not found",
		}
	}

	var mismatches []string
	keys := make([]string, 0, len(a.Expect))
	for k := range a.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if msg := matchField(v, k, a.Expect[k]); msg != "" {
			mismatches = append(mismatches, msg)
		}
	}
	if len(mismatches) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertEntity,
		Expected: fmt.Sprintf("entity %d matches %v", a.Entity, a.Expect),
		Actual:   strings.Join(mismatches, "; "),
	}
}

func matchField(v engine.EntityView, field string, want any) string {
	switch field {
	case "anchor":
		return matchUint(field, uint64(v.Anchor), want)
	case "version":
		return matchUint(field, v.Version, want)
	case "template":
		if s, ok := want.(string); !ok || s != v.Template {
			return fmt.Sprintf("template: expected %v, got %q", want, v.Template)
		}
	case "data":
		if s, ok := want.(string); !ok || s != string(v.Data) {
			return fmt.Sprintf("data: expected %v, got %q", want, v.Data)
		}
	case "remote":
		if b, ok := want.(bool); !ok || b != v.Remote {
			return fmt.Sprintf("remote: expected %v, got %v", want, v.Remote)
		}
	case "registered":
		if b, ok := want.(bool); !ok || b != v.Registered {
			return fmt.Sprintf("registered: expected %v, got %v", want, v.Registered)
		}
	case "world":
		return matchPosition(field, v.World, want)
	case "local":
		return matchPosition(field, v.Local, want)
	default:
		return fmt.Sprintf("%s: unknown field", field)
	}
	return ""
}

func matchUint(field string, got uint64, want any) string {
	n, ok := toFloat(want)
	if !ok || n < 0 || uint64(n) != got {
		return fmt.Sprintf("%s: expected %v, got %d", field, want, got)
	}
	return ""
}

// matchPosition compares the translation of p with a [x, y, z] list.
func matchPosition(field string, p pose.Pose, want any) string {
	list, ok := want.([]any)
	if !ok || len(list) != 3 {
		return fmt.Sprintf("%s: expected a [x, y, z] list, got %v", field, want)
	}
	got := []float64{p.Position.X, p.Position.Y, p.Position.Z}
	for i, w := range list {
		f, ok := toFloat(w)
		if !ok || math.Abs(f-got[i]) > poseTolerance {
			return fmt.Sprintf("%s: expected %v, got %v", field, list, got)
		}
	}
	return ""
}

// assertAnchor checks an anchor's registered position.
func assertAnchor(r *Result, a Assertion) error {
	got, ok := r.anchor(a.Anchor)
	if !ok {
		return &AssertionError{
			Type:     AssertAnchor,
			Expected: fmt.Sprintf("anchor %d registered", a.Anchor),
			Actual:   "not found",
		}
	}
	want := make([]any, len(a.At))
	for i, f := range a.At {
		want[i] = f
	}
	if msg := matchPosition("at", got.Pose, want); msg != "" {
		return &AssertionError{
			Type:     AssertAnchor,
			Expected: fmt.Sprintf("anchor %d at %v", a.Anchor, a.At),
			Actual:   msg,
		}
	}
	return nil
}

// toFloat normalizes YAML numbers.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
