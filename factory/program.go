/*
Package factory provides JSON to Go program conversion.

PURPOSE:
  Converts JSON program definitions into practica.Program values. Program
  setup (required hours per internship kind, evaluation weights, score scale)
  is configuration, not code: coordinators edit it through the API and it is
  stored as JSON next to the program row.

JSON SCHEMA:
  {
    "id": "ing-informatica",
    "name": "Ingeniería en Informática",
    "site_id": "campus-central",
    "required_hours": {"initial": 160, "professional": 320},
    "weights": {"tutor": 0.6, "employer": 0.4},
    "score_scale": {"min": 1.0, "max": 7.0}
  }

DEFAULTS:
  - required_hours omitted entirely: 160 initial / 320 professional
  - weights omitted: tutor 0.6 / employer 0.4
  - score_scale omitted: 1.0 .. 7.0
  A required_hours object that leaves out a kind is NOT completed with
  defaults; creating an internship of that kind fails with a configuration
  error.

USAGE:
  f := factory.NewProgramFactory()
  program, err := f.ParseProgram(jsonString)

SEE ALSO:
  - practica/types.go: Program type definition
  - store/sqlite/sqlite.go: programs table (config_json column)
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/practicas-engine/generic"
	"github.com/warp/practicas-engine/practica"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ProgramJSON is the JSON representation of a program.
type ProgramJSON struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	SiteID        string         `json:"site_id"`
	RequiredHours map[string]int `json:"required_hours,omitempty"`
	Weights       *WeightsJSON   `json:"weights,omitempty"`
	ScoreScale    *ScaleJSON     `json:"score_scale,omitempty"`
}

// WeightsJSON splits the final score between tutor and employer.
type WeightsJSON struct {
	Tutor    decimal.Decimal `json:"tutor"`
	Employer decimal.Decimal `json:"employer"`
}

// ScaleJSON bounds evaluation scores.
type ScaleJSON struct {
	Min decimal.Decimal `json:"min"`
	Max decimal.Decimal `json:"max"`
}

// =============================================================================
// FACTORY
// =============================================================================

// ProgramFactory creates programs from JSON.
type ProgramFactory struct {
	DefaultHours          map[practica.Kind]int
	DefaultTutorWeight    decimal.Decimal
	DefaultEmployerWeight decimal.Decimal
	DefaultScoreMin       decimal.Decimal
	DefaultScoreMax       decimal.Decimal
}

// NewProgramFactory creates a factory with the standard defaults.
func NewProgramFactory() *ProgramFactory {
	return &ProgramFactory{
		DefaultHours: map[practica.Kind]int{
			practica.KindInitial:      practica.DefaultInitialHours,
			practica.KindProfessional: practica.DefaultProfessionalHours,
		},
		DefaultTutorWeight:    decimal.RequireFromString("0.6"),
		DefaultEmployerWeight: decimal.RequireFromString("0.4"),
		DefaultScoreMin:       decimal.NewFromInt(1),
		DefaultScoreMax:       decimal.NewFromInt(7),
	}
}

// ParseProgram parses a JSON string into a Program.
func (f *ProgramFactory) ParseProgram(jsonStr string) (practica.Program, error) {
	var pj ProgramJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return practica.Program{}, fmt.Errorf("%w: invalid program JSON: %v", generic.ErrInvalidConfiguration, err)
	}
	return f.Build(pj)
}

// Build converts a ProgramJSON into a validated Program.
func (f *ProgramFactory) Build(pj ProgramJSON) (practica.Program, error) {
	p := practica.Program{
		ID:             pj.ID,
		Name:           pj.Name,
		SiteID:         pj.SiteID,
		RequiredHours:  make(map[practica.Kind]int),
		TutorWeight:    f.DefaultTutorWeight,
		EmployerWeight: f.DefaultEmployerWeight,
		ScoreMin:       f.DefaultScoreMin,
		ScoreMax:       f.DefaultScoreMax,
	}

	if pj.RequiredHours == nil {
		for k, v := range f.DefaultHours {
			p.RequiredHours[k] = v
		}
	} else {
		for name, hours := range pj.RequiredHours {
			kind := practica.Kind(name)
			if !kind.Valid() {
				return practica.Program{}, fmt.Errorf("%w: unknown internship kind %q", generic.ErrInvalidConfiguration, name)
			}
			p.RequiredHours[kind] = hours
		}
	}

	if pj.Weights != nil {
		p.TutorWeight = pj.Weights.Tutor
		p.EmployerWeight = pj.Weights.Employer
	}
	if pj.ScoreScale != nil {
		p.ScoreMin = pj.ScoreScale.Min
		p.ScoreMax = pj.ScoreScale.Max
	}

	if err := p.Validate(); err != nil {
		return practica.Program{}, err
	}
	return p, nil
}

// ToJSON converts a Program back to its JSON representation.
func ToJSON(p practica.Program) ProgramJSON {
	hours := make(map[string]int, len(p.RequiredHours))
	for k, v := range p.RequiredHours {
		hours[string(k)] = v
	}
	return ProgramJSON{
		ID:            p.ID,
		Name:          p.Name,
		SiteID:        p.SiteID,
		RequiredHours: hours,
		Weights:       &WeightsJSON{Tutor: p.TutorWeight, Employer: p.EmployerWeight},
		ScoreScale:    &ScaleJSON{Min: p.ScoreMin, Max: p.ScoreMax},
	}
}

// MarshalProgram serializes a Program for storage.
func MarshalProgram(p practica.Program) (string, error) {
	b, err := json.Marshal(ToJSON(p))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// StandardProgramJSON returns a program definition with default hours and weights.
func StandardProgramJSON(id, name, siteID string) string {
	return fmt.Sprintf(`{"id": %q, "name": %q, "site_id": %q}`, id, name, siteID)
}
