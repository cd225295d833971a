package harness

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/anchorsync/internal/engine"
	"github.com/roach88/anchorsync/internal/ir"
	"github.com/roach88/anchorsync/internal/scene"
	"github.com/roach88/anchorsync/internal/testutil"
)

// DefaultFirstID is the first id handed to local entities when a scenario
// does not set first_id.
const DefaultFirstID = 100

// Harness drives one engine through a scenario with a manual clock and
// sequential ids.
type Harness struct {
	engine *engine.Engine
	scene  *scene.Scene
	pub    *testutil.RecordingPublisher
	clock  *testutil.ManualClock
	logger *slog.Logger
}

// Option configures Run.
type Option func(*Harness)

// WithLogger routes engine logs to l. Logs are discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// Run executes a scenario against a fresh engine and returns the result.
//
// Execution flow:
// 1. Create the engine with a recording publisher
// 2. Execute steps, ticking after every inbound event
// 3. Snapshot the final graph
// 4. Evaluate assertions
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	if scenario == nil {
		return nil, fmt.Errorf("scenario is nil")
	}

	first := scenario.FirstID
	if first == 0 {
		first = DefaultFirstID
	}
	h := &Harness{
		scene:  scene.New(scenario.Templates...),
		pub:    testutil.NewRecordingPublisher(),
		clock:  testutil.NewManualClock(time.Time{}),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.engine = engine.New(h.scene,
		engine.WithPublisher(h.pub),
		engine.WithIDs(testutil.NewSequentialIDs(first)),
		engine.WithLogger(h.logger),
	)
	h.engine.Tick(h.clock.Now())

	result := NewResult()
	for i := range scenario.Steps {
		if err := h.executeStep(i, &scenario.Steps[i], result); err != nil {
			return nil, err
		}
		result.addTrace(i, h.pub.Calls())
		h.pub.Reset()
	}

	result.Entities = h.engine.Entities()
	result.Anchors = h.engine.Anchors()
	result.Orphans = h.engine.OrphanCount()

	for i, a := range scenario.Assertions {
		if err := evaluateAssertion(result, a); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return result, nil
}

// executeStep runs one step. A returned error means the scenario itself is
// unusable; engine failures are recorded on result.
func (h *Harness) executeStep(i int, st *Step, result *Result) error {
	kind, _ := st.kind()
	switch kind {
	case "status":
		s, err := ir.ParseEngineState(st.Status)
		if err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		h.send(result, i, ir.EngineStatus(s))

	case "anchor":
		p, err := poseOf(st.Anchor.At, st.Anchor.Rot)
		if err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		h.send(result, i, ir.AnchorObservedInSession(ir.AnchorID(st.Anchor.ID), p, st.Anchor.Session))

	case "entity_added":
		rec, err := st.EntityAdded.record()
		if err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		h.send(result, i, ir.EntityAdded(rec))

	case "entity_pose":
		rec, err := st.EntityPose.record()
		if err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		h.send(result, i, ir.EntityPoseUpdated(rec))

	case "entity_data":
		h.send(result, i, ir.EntityDataUpdated(ir.EntityID(st.EntityData.Entity), st.EntityData.data()))

	case "entity_removed":
		h.send(result, i, ir.EntityRemoved(ir.EntityID(st.EntityRemoved.Entity)))

	case "add_local":
		p, err := poseOf(st.AddLocal.At, st.AddLocal.Rot)
		if err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		var data []byte
		if st.AddLocal.Data != nil {
			data = []byte(*st.AddLocal.Data)
		}
		id, err := h.engine.AddLocal(st.AddLocal.Template, p, data)
		if err == nil {
			result.Locals = append(result.Locals, uint64(id))
		}
		h.checkError(result, i, st, err)

	case "move":
		p, err := poseOf(st.Move.At, st.Move.Rot)
		if err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		rep, ok := h.engine.Representation(ir.EntityID(st.Move.Entity))
		if !ok {
			result.AddError(fmt.Sprintf("steps[%d]: move: entity %d not in graph", i, st.Move.Entity))
			return nil
		}
		rep.SetWorldPose(p)

	case "set_data":
		err := h.engine.SetAuxData(ir.EntityID(st.SetData.Entity), st.SetData.data())
		h.checkError(result, i, st, err)

	case "remove":
		h.engine.Remove(ir.EntityID(st.Remove.Entity))

	case "tick":
		if st.Tick.Advance != "" {
			d, err := time.ParseDuration(st.Tick.Advance)
			if err != nil {
				return fmt.Errorf("steps[%d]: advance: %w", i, err)
			}
			h.clock.Advance(d)
		}
		h.engine.Tick(h.clock.Now())

	case "shutdown":
		h.engine.Shutdown()

	default:
		return fmt.Errorf("steps[%d]: no action set", i)
	}
	return nil
}

// send enqueues ev and applies it with a tick that does not advance time.
func (h *Harness) send(result *Result, i int, ev ir.Event) {
	if !h.engine.Enqueue(ev) {
		h.logger.Debug("event refused after shutdown", "step", i, "kind", ev.Kind)
		return
	}
	h.engine.Tick(h.clock.Now())
}

// checkError compares a local-edit error with the step's expect_error.
func (h *Harness) checkError(result *Result, i int, st *Step, err error) {
	if st.ExpectError == "" {
		if err != nil {
			result.AddError(fmt.Sprintf("steps[%d]: unexpected error: %v", i, err))
		}
		return
	}
	var se *engine.SyncError
	switch {
	case err == nil:
		result.AddError(fmt.Sprintf("steps[%d]: expected %s, got no error", i, st.ExpectError))
	case !errors.As(err, &se):
		result.AddError(fmt.Sprintf("steps[%d]: expected %s, got %v", i, st.ExpectError, err))
	case string(se.Code) != st.ExpectError:
		result.AddError(fmt.Sprintf("steps[%d]: expected %s, got %s", i, st.ExpectError, se.Code))
	}
}

func (es *EntityStep) record() (ir.EntityRecord, error) {
	p, err := poseOf(es.At, es.Rot)
	if err != nil {
		return ir.EntityRecord{}, err
	}
	return ir.EntityRecord{
		ID:       ir.EntityID(es.Entity),
		Anchor:   ir.AnchorID(es.Anchor),
		Template: es.Template,
		Local:    p,
		Version:  es.Version,
		Data:     es.data(),
	}, nil
}

func (es *EntityStep) data() []byte {
	if es.Data == nil {
		return nil
	}
	return []byte(*es.Data)
}
