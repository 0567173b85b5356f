// Package migration routes reads between a legacy and a new storage backend
// according to a staged rollout phase, with session stickiness and
// availability overrides driven by circuit breaker state.
package migration

import "fmt"

// Phase is a stage of the read migration. Phases are ordered; each maps to a
// fixed percentage of reads served by the new system.
type Phase int

// Migration phases.
const (
	PhaseLegacyOnly Phase = iota
	PhaseCanary
	PhaseInitialRollout
	PhaseBalanced
	PhaseAdvancedRollout
	PhaseFinalValidation
	PhaseNewSystemOnly
)

// phasePercentages maps each phase to the fraction of reads served by the
// new system.
var phasePercentages = [...]float64{
	PhaseLegacyOnly:      0.0,
	PhaseCanary:          0.10,
	PhaseInitialRollout:  0.25,
	PhaseBalanced:        0.50,
	PhaseAdvancedRollout: 0.75,
	PhaseFinalValidation: 0.90,
	PhaseNewSystemOnly:   1.0,
}

var phaseNames = [...]string{
	PhaseLegacyOnly:      "legacy_only",
	PhaseCanary:          "canary",
	PhaseInitialRollout:  "initial_rollout",
	PhaseBalanced:        "balanced",
	PhaseAdvancedRollout: "advanced_rollout",
	PhaseFinalValidation: "final_validation",
	PhaseNewSystemOnly:   "new_system_only",
}

// NewSystemPercentage returns the fraction of reads the phase sends to the
// new system.
func (p Phase) NewSystemPercentage() float64 {
	if !p.Valid() {
		return 0
	}
	return phasePercentages[p]
}

// Valid reports whether p is a defined phase.
func (p Phase) Valid() bool {
	return p >= PhaseLegacyOnly && p <= PhaseNewSystemOnly
}

// Next returns the following phase. ok is false when p is already the final
// phase, which has no next.
func (p Phase) Next() (next Phase, ok bool) {
	if p >= PhaseNewSystemOnly {
		return p, false
	}
	return p + 1, true
}

// Previous returns the preceding phase. ok is false when p is already the
// first phase, which has no previous.
func (p Phase) Previous() (prev Phase, ok bool) {
	if p <= PhaseLegacyOnly {
		return p, false
	}
	return p - 1, true
}

func (p Phase) String() string {
	if !p.Valid() {
		return fmt.Sprintf("unknown(%d)", int(p))
	}
	return phaseNames[p]
}

// ParsePhase parses a phase name as produced by String.
func ParsePhase(s string) (Phase, error) {
	for p, name := range phaseNames {
		if name == s {
			return Phase(p), nil
		}
	}
	return 0, fmt.Errorf("unknown migration phase %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid migration phase %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(text []byte) error {
	parsed, err := ParsePhase(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
