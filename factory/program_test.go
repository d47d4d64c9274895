package factory_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/practicas-engine/factory"
	"github.com/warp/practicas-engine/generic"
	"github.com/warp/practicas-engine/practica"
)

func TestParseProgram_Defaults(t *testing.T) {
	p, err := factory.NewProgramFactory().ParseProgram(
		factory.StandardProgramJSON("ing-informatica", "Ingeniería en Informática", "campus-central"))

	require.NoError(t, err)
	assert.Equal(t, 160, p.RequiredHours[practica.KindInitial])
	assert.Equal(t, 320, p.RequiredHours[practica.KindProfessional])
	assert.True(t, decimal.RequireFromString("0.6").Equal(p.TutorWeight))
	assert.True(t, decimal.RequireFromString("0.4").Equal(p.EmployerWeight))
	assert.True(t, decimal.NewFromInt(1).Equal(p.ScoreMin))
	assert.True(t, decimal.NewFromInt(7).Equal(p.ScoreMax))
}

func TestParseProgram_Overrides(t *testing.T) {
	p, err := factory.NewProgramFactory().ParseProgram(`{
		"id": "enfermeria",
		"name": "Enfermería",
		"site_id": "campus-norte",
		"required_hours": {"initial": 200},
		"weights": {"tutor": 0.5, "employer": 0.5},
		"score_scale": {"min": 0, "max": 100}
	}`)

	require.NoError(t, err)
	assert.Equal(t, 200, p.RequiredHours[practica.KindInitial])
	_, err = p.RequiredHoursFor(practica.KindProfessional)
	assert.ErrorIs(t, err, generic.ErrInvalidConfiguration, "a partial hours map is not completed with defaults")
	assert.True(t, p.ValidScore(decimal.NewFromInt(85)))
}

func TestParseProgram_Invalid(t *testing.T) {
	cases := map[string]string{
		"not json":     `{"id":`,
		"unknown kind": `{"id": "x", "site_id": "s", "required_hours": {"summer": 80}}`,
		"weights sum":  `{"id": "x", "site_id": "s", "weights": {"tutor": 0.7, "employer": 0.7}}`,
		"negative":     `{"id": "x", "site_id": "s", "weights": {"tutor": 1.5, "employer": -0.5}}`,
		"empty scale":  `{"id": "x", "site_id": "s", "score_scale": {"min": 7, "max": 7}}`,
		"missing site": `{"id": "x"}`,
	}
	f := factory.NewProgramFactory()

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.ParseProgram(raw)
			assert.ErrorIs(t, err, generic.ErrInvalidConfiguration)
		})
	}
}

func TestMarshalProgram_RoundTrip(t *testing.T) {
	f := factory.NewProgramFactory()
	original, err := f.ParseProgram(`{"id": "enfermeria", "name": "Enfermería", "site_id": "campus-norte",
		"required_hours": {"initial": 160, "professional": 400}, "weights": {"tutor": 0.5, "employer": 0.5}}`)
	require.NoError(t, err)

	raw, err := factory.MarshalProgram(original)
	require.NoError(t, err)
	again, err := f.ParseProgram(raw)

	require.NoError(t, err)
	assert.Equal(t, original.RequiredHours, again.RequiredHours)
	assert.True(t, original.TutorWeight.Equal(again.TutorWeight))
	assert.True(t, original.ScoreMax.Equal(again.ScoreMax))
}
