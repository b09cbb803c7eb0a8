package llm

import (
	"context"
	"fmt"
	"strings"
)

// ResearchContext describes a project for an effect proposal.
type ResearchContext struct {
	ProjectID   string
	ProjectName string
	Buildings   []string
}

// ResearchEffect is a proposed technology effect. The caller clamps the multiplier.
type ResearchEffect struct {
	Kind       string  `json:"kind"`
	BuildingID string  `json:"building_id,omitempty"`
	Multiplier float64 `json:"multiplier"`
	Summary    string  `json:"summary,omitempty"`
}

// ProposeResearchEffect asks the generator what a research project unlocks.
func ProposeResearchEffect(ctx context.Context, gen Generator, rc ResearchContext) (*ResearchEffect, error) {
	if gen == nil {
		return nil, ErrDisabled
	}
	system := `You are the chief engineer of an industrial company. Describe what a completed research project improves.

Respond ONLY with a single JSON object:
- "kind": "efficiency" (faster production) or "output" (more goods per cycle)
- "building_id": one building id from the list, or "" for all buildings
- "multiplier": between 1.0 and 1.5
- "summary": one sentence`

	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s (%s).\nBuildings: %s.\n", rc.ProjectName, rc.ProjectID, strings.Join(rc.Buildings, ", "))
	b.WriteString("What does it unlock? Respond with a single JSON object.")

	response, err := gen.Complete(ctx, system, b.String(), 200)
	if err != nil {
		return nil, fmt.Errorf("research effect: %w", err)
	}
	var e ResearchEffect
	if err := decode(schemaResearchEffect, response, &e); err != nil {
		return nil, err
	}
	if e.BuildingID != "" && !contains(rc.Buildings, e.BuildingID) {
		return nil, fmt.Errorf("research effect: unknown building %q", e.BuildingID)
	}
	return &e, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
