package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobSpecValidate(t *testing.T) {
	valid := JobSpec{
		BusinessType:   "textile shops",
		Areas:          []string{"Adyar", "Velachery"},
		ResultsPerArea: 5,
		OutputFile:     "out.csv",
	}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*JobSpec)
	}{
		{"Missing business type", func(s *JobSpec) { s.BusinessType = "" }},
		{"No areas", func(s *JobSpec) { s.Areas = nil }},
		{"Empty area entry", func(s *JobSpec) { s.Areas = []string{"Adyar", ""} }},
		{"Zero results per area", func(s *JobSpec) { s.ResultsPerArea = 0 }},
		{"Negative results per area", func(s *JobSpec) { s.ResultsPerArea = -1 }},
		{"Missing output file", func(s *JobSpec) { s.OutputFile = "" }},
		{"Negative concurrency", func(s *JobSpec) { s.Concurrency = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := valid
			spec.Areas = append([]string(nil), valid.Areas...)
			tt.mutate(&spec)
			assert.Error(t, spec.Validate())
		})
	}
}

func TestTotalTarget(t *testing.T) {
	spec := JobSpec{Areas: []string{"A", "B", "C"}, ResultsPerArea: 4}
	assert.Equal(t, 12, spec.TotalTarget())
}

func TestAreaStatusTerminal(t *testing.T) {
	assert.False(t, AreaPending.Terminal())
	assert.False(t, AreaRunning.Terminal())
	assert.True(t, AreaCompleted.Terminal())
	assert.True(t, AreaFailed.Terminal())
}
