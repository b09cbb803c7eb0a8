package engine

import "fmt"

// BuildingStatus is the production state of a building, shared by the scheduler,
// the snapshot and the HTTP surface.
type BuildingStatus uint8

const (
	StatusRunning BuildingStatus = iota
	StatusPaused
	StatusNoInput
	// StatusNoPower is part of the status vocabulary clients decode. No power
	// model exists, so the scheduler never sets it.
	StatusNoPower
)

var statusNames = [...]string{
	StatusRunning: "running",
	StatusPaused:  "paused",
	StatusNoInput: "no_input",
	StatusNoPower: "no_power",
}

func (s BuildingStatus) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", s)
}

// MarshalText encodes the status name.
func (s BuildingStatus) MarshalText() ([]byte, error) {
	if int(s) >= len(statusNames) {
		return nil, fmt.Errorf("unknown building status %d", s)
	}
	return []byte(statusNames[s]), nil
}

// UnmarshalText decodes a status name.
func (s *BuildingStatus) UnmarshalText(b []byte) error {
	for i, name := range statusNames {
		if name == string(b) {
			*s = BuildingStatus(i)
			return nil
		}
	}
	return fmt.Errorf("unknown building status %q", string(b))
}

// MaintenanceMultiplier is the share of full maintenance charged in this status.
// Starved buildings pay half so market shortages are not punished at full rate.
func (s BuildingStatus) MaintenanceMultiplier() float64 {
	switch s {
	case StatusRunning:
		return 1.0
	case StatusNoInput, StatusNoPower:
		return 0.5
	case StatusPaused:
		return 0.25
	default:
		return 1.0
	}
}

// Starved reports whether the building is idle for lack of inputs or power.
func (s BuildingStatus) Starved() bool {
	return s == StatusNoInput || s == StatusNoPower
}
