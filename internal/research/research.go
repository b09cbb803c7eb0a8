// Package research tracks technology projects and the global production modifiers they unlock.
package research

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/talgya/mini-economy/internal/economy"
)

var (
	ErrUnknownProject = errors.New("unknown research project")
	ErrAlreadyActive  = errors.New("research project already active")
	ErrCompleted      = errors.New("research project already completed")
)

// Effect multiplier bounds. Proposed effects outside the range are clamped.
const (
	MinMultiplier = 1.0
	MaxMultiplier = 1.5
)

// EffectKind selects which production parameter a completed project improves.
type EffectKind string

const (
	// EffectEfficiency speeds up production progress.
	EffectEfficiency EffectKind = "efficiency"
	// EffectOutput scales every recipe amount per cycle.
	EffectOutput EffectKind = "output"
)

// Effect is the modifier a project injects on completion.
type Effect struct {
	Kind       EffectKind `json:"kind"`
	BuildingID string     `json:"building_id,omitempty"` // Empty applies to every building
	Multiplier float64    `json:"multiplier"`
}

// Project is a research definition.
type Project struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Cost     float64 `json:"cost"`
	Duration uint64  `json:"duration"` // Ticks
	Default  Effect  `json:"default_effect"`
}

// Active is a running project.
type Active struct {
	ProjectID   string            `json:"project_id"`
	Owner       economy.CompanyID `json:"owner"`
	StartedTick uint64            `json:"started_tick"`
	CompletesAt uint64            `json:"completes_at"`
	Proposed    *Effect           `json:"proposed,omitempty"`
}

// Completion records a finished project and the effect that was applied.
type Completion struct {
	ProjectID string            `json:"project_id"`
	Owner     economy.CompanyID `json:"owner"`
	Tick      uint64            `json:"tick"`
	Effect    Effect            `json:"effect"`
}

// DefaultProjects is the built-in research tree.
func DefaultProjects() []Project {
	return []Project{
		{ID: "lean-manufacturing", Name: "Lean Manufacturing", Cost: 20_000_000, Duration: 60,
			Default: Effect{Kind: EffectEfficiency, Multiplier: 1.1}},
		{ID: "deep-drilling", Name: "Deep Drilling", Cost: 15_000_000, Duration: 45,
			Default: Effect{Kind: EffectOutput, BuildingID: "iron-mine", Multiplier: 1.2}},
		{ID: "crop-rotation", Name: "Crop Rotation", Cost: 8_000_000, Duration: 30,
			Default: Effect{Kind: EffectOutput, BuildingID: "farm", Multiplier: 1.2}},
		{ID: "oxygen-furnace", Name: "Basic Oxygen Furnace", Cost: 30_000_000, Duration: 90,
			Default: Effect{Kind: EffectEfficiency, BuildingID: "steel-mill", Multiplier: 1.25}},
		{ID: "assembly-robotics", Name: "Assembly Robotics", Cost: 45_000_000, Duration: 120,
			Default: Effect{Kind: EffectEfficiency, BuildingID: "electronics-plant", Multiplier: 1.3}},
	}
}

// Service owns research state for one game.
type Service struct {
	projects  []Project
	index     map[string]int
	active    map[string]*Active
	completed map[string]Completion

	efficiency map[string]float64 // building definition ID, "" = all
	output     map[string]float64
}

// NewService creates a service over a project list.
func NewService(projects []Project) *Service {
	s := &Service{
		projects:   projects,
		index:      make(map[string]int, len(projects)),
		active:     make(map[string]*Active),
		completed:  make(map[string]Completion),
		efficiency: make(map[string]float64),
		output:     make(map[string]float64),
	}
	for i, p := range projects {
		s.index[p.ID] = i
	}
	return s
}

// Projects returns the research tree.
func (s *Service) Projects() []Project {
	return append([]Project(nil), s.projects...)
}

// Project looks up a definition.
func (s *Service) Project(id string) (Project, bool) {
	i, ok := s.index[id]
	if !ok {
		return Project{}, false
	}
	return s.projects[i], true
}

// CanStart reports why a project cannot start, or nil.
func (s *Service) CanStart(id string) error {
	if _, ok := s.index[id]; !ok {
		return fmt.Errorf("%s: %w", id, ErrUnknownProject)
	}
	if _, ok := s.active[id]; ok {
		return fmt.Errorf("%s: %w", id, ErrAlreadyActive)
	}
	if _, ok := s.completed[id]; ok {
		return fmt.Errorf("%s: %w", id, ErrCompleted)
	}
	return nil
}

// Start begins a project. Funding is the caller's responsibility.
func (s *Service) Start(owner economy.CompanyID, id string, tick uint64) (*Active, error) {
	if err := s.CanStart(id); err != nil {
		return nil, err
	}
	p := s.projects[s.index[id]]
	a := &Active{ProjectID: id, Owner: owner, StartedTick: tick, CompletesAt: tick + p.Duration}
	s.active[id] = a
	slog.Info("research started", "project", id, "owner", owner, "completes_at", a.CompletesAt)
	return a, nil
}

// Propose replaces the effect of an active project. The multiplier is clamped and the
// kind must be known; otherwise the proposal is ignored and false is returned.
func (s *Service) Propose(id string, e Effect) bool {
	a, ok := s.active[id]
	if !ok {
		return false
	}
	if e.Kind != EffectEfficiency && e.Kind != EffectOutput {
		return false
	}
	e.Multiplier = economy.Clamp(e.Multiplier, MinMultiplier, MaxMultiplier)
	a.Proposed = &e
	return true
}

// Active returns running projects ordered by completion tick.
func (s *Service) Active() []Active {
	out := make([]Active, 0, len(s.active))
	for _, a := range s.active {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CompletesAt != out[j].CompletesAt {
			return out[i].CompletesAt < out[j].CompletesAt
		}
		return out[i].ProjectID < out[j].ProjectID
	})
	return out
}

// Completed returns finished projects ordered by tick.
func (s *Service) Completed() []Completion {
	out := make([]Completion, 0, len(s.completed))
	for _, c := range s.completed {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tick != out[j].Tick {
			return out[i].Tick < out[j].Tick
		}
		return out[i].ProjectID < out[j].ProjectID
	})
	return out
}

// Advance completes every project due at tick and applies its effect.
func (s *Service) Advance(tick uint64) []Completion {
	var done []Completion
	for _, a := range s.Active() {
		if tick < a.CompletesAt {
			continue
		}
		p := s.projects[s.index[a.ProjectID]]
		e := p.Default
		if a.Proposed != nil {
			e = *a.Proposed
		}
		s.apply(e)
		c := Completion{ProjectID: a.ProjectID, Owner: a.Owner, Tick: tick, Effect: e}
		s.completed[a.ProjectID] = c
		delete(s.active, a.ProjectID)
		done = append(done, c)
		slog.Info("research completed", "project", a.ProjectID, "kind", e.Kind, "building", e.BuildingID, "multiplier", e.Multiplier)
	}
	return done
}

func (s *Service) apply(e Effect) {
	m := s.efficiency
	if e.Kind == EffectOutput {
		m = s.output
	}
	cur, ok := m[e.BuildingID]
	if !ok {
		cur = 1
	}
	m[e.BuildingID] = cur * e.Multiplier
}

func lookup(m map[string]float64, buildingID string) float64 {
	mult := 1.0
	if v, ok := m[""]; ok {
		mult *= v
	}
	if v, ok := m[buildingID]; ok && buildingID != "" {
		mult *= v
	}
	return mult
}

// EfficiencyMultiplier is the combined progress multiplier for a building definition.
func (s *Service) EfficiencyMultiplier(buildingID string) float64 {
	return lookup(s.efficiency, buildingID)
}

// OutputMultiplier is the combined recipe scale for a building definition.
func (s *Service) OutputMultiplier(buildingID string) float64 {
	return lookup(s.output, buildingID)
}
