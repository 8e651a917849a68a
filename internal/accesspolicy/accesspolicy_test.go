package accesspolicy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTierFailsClosed(t *testing.T) {
	assert.Equal(t, TierLow, ParseTier("low"))
	assert.Equal(t, TierMedium, ParseTier("MEDIUM"))
	assert.Equal(t, TierHigh, ParseTier(" high "))
	assert.Equal(t, TierCritical, ParseTier("critical"))
	assert.Equal(t, TierCritical, ParseTier("nonsense"))
	assert.Equal(t, TierCritical, ParseTier(""))
}

func TestDefaultCatalogTiers(t *testing.T) {
	p := New(ProfileDevelopment, nil)

	tier, ok := p.TierOf("read_file")
	require.True(t, ok)
	assert.Equal(t, TierLow, tier)

	tier, ok = p.TierOf("run_shell")
	require.True(t, ok)
	assert.Equal(t, TierCritical, tier)

	_, ok = p.TierOf("made_up_tool")
	assert.False(t, ok)
}

func TestApprovalByTierAndProfile(t *testing.T) {
	dev := New(ProfileDevelopment, nil)
	prod := New(ProfileProduction, []string{"admin"})

	assert.False(t, dev.RequiresApproval("read_file"))
	assert.False(t, dev.RequiresApproval("execute_code"))
	assert.True(t, dev.RequiresApproval("run_shell"))

	assert.False(t, prod.RequiresApproval("read_file"))
	assert.True(t, prod.RequiresApproval("execute_code"))
	assert.True(t, prod.RequiresApproval("run_shell"))

	// Unknown tools are approval-gated no matter what.
	assert.True(t, dev.RequiresApproval("made_up_tool"))
}

func TestCriticalAllowSet(t *testing.T) {
	prod := New(ProfileProduction, []string{"admin", "ops"})

	d := prod.CheckAccess("run_shell", "dev")
	require.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "administrators")

	assert.True(t, prod.CheckAccess("run_shell", "admin").Allowed)
	assert.True(t, prod.CheckAccess("run_shell", "ops").Allowed)

	// Development leaves CRITICAL open to everyone; the approval gate is
	// the remaining control.
	dev := New(ProfileDevelopment, nil)
	assert.True(t, dev.CheckAccess("run_shell", "dev").Allowed)
	assert.True(t, dev.RequiresApproval("run_shell"))
}

func TestUnknownToolDenied(t *testing.T) {
	p := New(ProfileDevelopment, nil)
	d := p.CheckAccess("made_up_tool", "anyone")
	assert.False(t, d.Allowed)
}

func TestConcurrencyDerivedFromTier(t *testing.T) {
	p := New(ProfileProduction, nil)
	assert.Equal(t, 10, p.MaxConcurrent("read_file"))
	assert.Equal(t, 5, p.MaxConcurrent("write_file"))
	assert.Equal(t, 2, p.MaxConcurrent("execute_code"))
	assert.Equal(t, 1, p.MaxConcurrent("run_shell"))
	assert.Equal(t, 1, p.MaxConcurrent("made_up_tool"))
}

func TestRegisterOverride(t *testing.T) {
	p := New(ProfileProduction, nil)
	p.Register("call_api", TierCritical)
	tier, ok := p.TierOf("call_api")
	require.True(t, ok)
	assert.Equal(t, TierCritical, tier)
	assert.True(t, p.RequiresApproval("call_api"))
}
