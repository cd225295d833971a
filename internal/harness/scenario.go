package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/anchorsync/internal/ir"
	"github.com/roach88/anchorsync/internal/pose"
)

// Scenario is a scripted sync session.
// Steps feed the engine inbound events and local edits; assertions check the
// outbound trace and the final entity graph.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Templates limits the scene catalog. Empty accepts every template.
	Templates []string `yaml:"templates,omitempty"`

	// FirstID is the first id handed to local entities. Defaults to 100.
	FirstID uint64 `yaml:"first_id,omitempty"`

	// Steps run in order. Inbound steps are applied right away.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and graph.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one scripted action. Exactly one field must be set.
type Step struct {
	// Inbound events, as an adapter would deliver them.
	Status        string      `yaml:"status,omitempty"`
	Anchor        *AnchorStep `yaml:"anchor,omitempty"`
	EntityAdded   *EntityStep `yaml:"entity_added,omitempty"`
	EntityPose    *EntityStep `yaml:"entity_pose,omitempty"`
	EntityData    *EntityStep `yaml:"entity_data,omitempty"`
	EntityRemoved *EntityStep `yaml:"entity_removed,omitempty"`

	// Local edits, as the host application would make them.
	AddLocal *LocalStep  `yaml:"add_local,omitempty"`
	Move     *LocalStep  `yaml:"move,omitempty"`
	SetData  *EntityStep `yaml:"set_data,omitempty"`
	Remove   *EntityStep `yaml:"remove,omitempty"`

	// Tick advances the clock and runs one engine tick.
	Tick *TickStep `yaml:"tick,omitempty"`

	// Shutdown stops the engine.
	Shutdown bool `yaml:"shutdown,omitempty"`

	// ExpectError is the SyncError code a local edit must fail with.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// AnchorStep is an anchor observation.
type AnchorStep struct {
	ID      uint64    `yaml:"id"`
	At      []float64 `yaml:"at"`
	Rot     []float64 `yaml:"rot,omitempty"`
	Session uint64    `yaml:"session,omitempty"`
}

// EntityStep carries an entity record or the subset an operation needs.
type EntityStep struct {
	Entity   uint64    `yaml:"entity"`
	Anchor   uint64    `yaml:"anchor,omitempty"`
	Template string    `yaml:"template,omitempty"`
	At       []float64 `yaml:"at,omitempty"`
	Rot      []float64 `yaml:"rot,omitempty"`
	Version  uint64    `yaml:"version,omitempty"`
	Data     *string   `yaml:"data,omitempty"`
}

// LocalStep creates or moves a local representation.
type LocalStep struct {
	Entity   uint64    `yaml:"entity,omitempty"`
	Template string    `yaml:"template,omitempty"`
	At       []float64 `yaml:"at"`
	Rot      []float64 `yaml:"rot,omitempty"`
	Data     *string   `yaml:"data,omitempty"`
}

// TickStep advances the manual clock before ticking.
type TickStep struct {
	Advance string `yaml:"advance,omitempty"`
}

// Assertion validates the trace or the final graph.
type Assertion struct {
	// Type specifies the assertion type:
	// - "publish_count": op appears exactly Count times
	// - "publish_order": Ops appear in this relative order
	// - "entity": entity Entity matches Expect (subset match)
	// - "absent": entity Entity is not in the graph
	// - "orphans": exactly Count entities wait for an anchor
	// - "anchor": anchor Anchor is registered at At
	Type string `yaml:"type"`

	Op     string         `yaml:"op,omitempty"`
	Ops    []string       `yaml:"ops,omitempty"`
	Count  int            `yaml:"count,omitempty"`
	Entity uint64         `yaml:"entity,omitempty"`
	Anchor uint64         `yaml:"anchor,omitempty"`
	At     []float64      `yaml:"at,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertPublishCount = "publish_count"
	AssertPublishOrder = "publish_order"
	AssertEntity       = "entity"
	AssertAbsent       = "absent"
	AssertOrphans      = "orphans"
	AssertAnchor       = "anchor"
)

// LoadScenario reads and validates a scenario YAML file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse scenario YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps must contain at least one step")
	}
	for i := range s.Steps {
		if err := validateStep(&s.Steps[i], i); err != nil {
			return err
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(&s.Assertions[i], i); err != nil {
			return err
		}
	}
	return nil
}

// kind names the single field set on a step and counts how many are set.
func (st *Step) kind() (string, int) {
	set := []struct {
		name string
		ok   bool
	}{
		{"status", st.Status != ""},
		{"anchor", st.Anchor != nil},
		{"entity_added", st.EntityAdded != nil},
		{"entity_pose", st.EntityPose != nil},
		{"entity_data", st.EntityData != nil},
		{"entity_removed", st.EntityRemoved != nil},
		{"add_local", st.AddLocal != nil},
		{"move", st.Move != nil},
		{"set_data", st.SetData != nil},
		{"remove", st.Remove != nil},
		{"tick", st.Tick != nil},
		{"shutdown", st.Shutdown},
	}
	name, n := "", 0
	for _, f := range set {
		if f.ok {
			name = f.name
			n++
		}
	}
	return name, n
}

func validateStep(st *Step, index int) error {
	kind, n := st.kind()
	if n != 1 {
		return fmt.Errorf("steps[%d]: exactly one action is required, got %d", index, n)
	}

	switch kind {
	case "status":
		if _, err := ir.ParseEngineState(st.Status); err != nil {
			return fmt.Errorf("steps[%d]: %w", index, err)
		}
	case "anchor":
		if _, err := poseOf(st.Anchor.At, st.Anchor.Rot); err != nil {
			return fmt.Errorf("steps[%d]: %w", index, err)
		}
	case "entity_added", "entity_pose":
		es := st.EntityAdded
		if es == nil {
			es = st.EntityPose
		}
		if _, err := poseOf(es.At, es.Rot); err != nil {
			return fmt.Errorf("steps[%d]: %w", index, err)
		}
	case "add_local":
		if st.AddLocal.Template == "" {
			return fmt.Errorf("steps[%d]: template is required for add_local", index)
		}
		if _, err := poseOf(st.AddLocal.At, st.AddLocal.Rot); err != nil {
			return fmt.Errorf("steps[%d]: %w", index, err)
		}
	case "move":
		if st.Move.Entity == 0 {
			return fmt.Errorf("steps[%d]: entity is required for move", index)
		}
		if _, err := poseOf(st.Move.At, st.Move.Rot); err != nil {
			return fmt.Errorf("steps[%d]: %w", index, err)
		}
	case "set_data":
		if st.SetData.Data == nil {
			return fmt.Errorf("steps[%d]: data is required for set_data", index)
		}
	case "tick":
		if st.Tick.Advance != "" {
			if _, err := time.ParseDuration(st.Tick.Advance); err != nil {
				return fmt.Errorf("steps[%d]: advance: %w", index, err)
			}
		}
	}
	return nil
}

func validateAssertion(a *Assertion, index int) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertPublishCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for publish_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for publish_count", index)
		}
	case AssertPublishOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for publish_order", index)
		}
	case AssertEntity:
		if a.Entity == 0 {
			return fmt.Errorf("assertions[%d]: entity is required for entity", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for entity", index)
		}
	case AssertAbsent:
		if a.Entity == 0 {
			return fmt.Errorf("assertions[%d]: entity is required for absent", index)
		}
	case AssertOrphans:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for orphans", index)
		}
	case AssertAnchor:
		if a.Anchor == 0 {
			return fmt.Errorf("assertions[%d]: anchor is required for anchor", index)
		}
		if _, err := poseOf(a.At, nil); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// poseOf builds a pose from a position triple and an optional quaternion.
func poseOf(at, rot []float64) (pose.Pose, error) {
	if len(at) != 3 {
		return pose.Pose{}, fmt.Errorf("at must have 3 components, got %d", len(at))
	}
	q := pose.IdentityQuat
	switch len(rot) {
	case 0:
	case 4:
		q = pose.Quat{X: rot[0], Y: rot[1], Z: rot[2], W: rot[3]}.Normalize()
	default:
		return pose.Pose{}, fmt.Errorf("rot must have 4 components, got %d", len(rot))
	}
	return pose.New(pose.Vec3{X: at[0], Y: at[1], Z: at[2]}, q), nil
}
