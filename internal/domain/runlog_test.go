package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeSuccessRate(t *testing.T) {
	tests := []struct {
		name      string
		completed int
		total     int
		want      string
	}{
		{"no history", 0, 0, "0"},
		{"all completed", 4, 4, "100.00"},
		{"two thirds", 2, 3, "66.67"},
		{"none completed", 0, 5, "0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeSuccessRate(tt.completed, tt.total))
		})
	}
}
