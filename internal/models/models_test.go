package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestComputeStats(t *testing.T) {
	tests := []struct {
		name      string
		max       *int
		active    int64
		spotsLeft *int64
		soldOut   bool
	}{
		{name: "unlimited", max: nil, active: 40},
		{name: "room left", max: intPtr(10), active: 3, spotsLeft: int64Ptr(7)},
		{name: "exactly full", max: intPtr(1), active: 1, spotsLeft: int64Ptr(0), soldOut: true},
		{name: "oversold clamps", max: intPtr(2), active: 5, spotsLeft: int64Ptr(0), soldOut: true},
		{name: "zero capacity", max: intPtr(0), active: 0, spotsLeft: int64Ptr(0), soldOut: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := ComputeStats(tt.max, tt.active)
			assert.Equal(t, tt.active, s.RegistrationCount)
			assert.Equal(t, tt.soldOut, s.IsSoldOut)
			if tt.spotsLeft == nil {
				assert.Nil(t, s.SpotsLeft)
				return
			}
			require.NotNil(t, s.SpotsLeft)
			assert.Equal(t, *tt.spotsLeft, *s.SpotsLeft)
		})
	}
}

func int64Ptr(v int64) *int64 { return &v }

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransitionTo(StatusCompleted))
	assert.True(t, StatusPending.CanTransitionTo(StatusExpired))
	assert.True(t, StatusPending.CanTransitionTo(StatusCancelled))
	assert.True(t, StatusCompleted.CanTransitionTo(StatusRefunded))

	assert.False(t, StatusCompleted.CanTransitionTo(StatusCancelled))
	assert.False(t, StatusCompleted.CanTransitionTo(StatusExpired))
	assert.False(t, StatusCompleted.CanTransitionTo(StatusPending))
	assert.False(t, StatusExpired.CanTransitionTo(StatusCompleted))
	assert.False(t, StatusRefunded.CanTransitionTo(StatusCompleted))
}

func TestActiveStatuses(t *testing.T) {
	assert.True(t, StatusPending.Active())
	assert.True(t, StatusCompleted.Active())
	assert.False(t, StatusCancelled.Active())
	assert.False(t, StatusExpired.Active())
	assert.False(t, StatusRefunded.Active())
}

func TestMoneyString(t *testing.T) {
	assert.Equal(t, "25.00", Money(2500).String())
	assert.Equal(t, "0.05", Money(5).String())
	assert.Equal(t, "-1.50", Money(-150).String())
}
