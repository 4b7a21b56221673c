package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in    string
		role  Role
		valid bool
	}{
		{in: "worker", role: RoleWorker, valid: true},
		{in: " Employer ", role: RoleEmployer, valid: true},
		{in: "ADMIN", role: RoleAdmin, valid: true},
		{in: "root", role: Role("root"), valid: false},
		{in: "", role: Role(""), valid: false},
	}
	for _, tt := range tests {
		role, ok := ParseRole(tt.in)
		assert.Equal(t, tt.role, role, tt.in)
		assert.Equal(t, tt.valid, ok, tt.in)
	}
}

func TestCampaign_SlotFee(t *testing.T) {
	c := &Campaign{PlatformFee: decimal.RequireFromString("0.20"), TotalSlots: 4}
	assert.True(t, c.SlotFee().Equal(decimal.RequireFromString("0.05")))

	c.TotalSlots = 0
	assert.True(t, c.SlotFee().IsZero())
}

func TestStates(t *testing.T) {
	assert.False(t, SubmissionStateClaimed.Terminal())
	assert.False(t, SubmissionStateSubmitted.Terminal())
	assert.True(t, SubmissionStateApproved.Terminal())
	assert.True(t, SubmissionStateRejected.Terminal())
	assert.True(t, SubmissionStateExpired.Terminal())

	assert.True(t, CampaignStatusCompleted.Closed())
	assert.True(t, CampaignStatusCancelled.Closed())
	assert.False(t, CampaignStatusPaused.Closed())

	assert.True(t, IsCategory("Surveys"))
	assert.False(t, IsCategory("surveys"))
	assert.False(t, Difficulty("extreme").Valid())
}
