package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChecker(t *testing.T) *Checker {
	t.Helper()
	r, err := NewRegistry(Builtin())
	require.NoError(t, err)
	return NewChecker(r)
}

func TestEvaluate(t *testing.T) {
	checker := newTestChecker(t)

	tests := []struct {
		name       string
		ctx        AccessContext
		tool       string
		wantAllow  bool
		wantReason Reason
	}{
		{
			name:       "free plan free tool",
			ctx:        AccessContext{UserID: "u1", Plan: PlanFree},
			tool:       "chat",
			wantAllow:  true,
			wantReason: ReasonOK,
		},
		{
			name:       "free plan pro tool",
			ctx:        AccessContext{UserID: "u1", Plan: PlanFree},
			tool:       "code_execution",
			wantAllow:  false,
			wantReason: ReasonPlanTooLow,
		},
		{
			name:       "pro plan pro tool",
			ctx:        AccessContext{UserID: "u1", Plan: PlanPro},
			tool:       "image_generation",
			wantAllow:  true,
			wantReason: ReasonOK,
		},
		{
			name:       "pro plan enterprise tool",
			ctx:        AccessContext{UserID: "u1", Plan: PlanPro},
			tool:       "connector_read",
			wantAllow:  false,
			wantReason: ReasonPlanTooLow,
		},
		{
			name:       "unknown tool",
			ctx:        AccessContext{UserID: "u1", Plan: PlanDeveloper},
			tool:       "teleport",
			wantAllow:  false,
			wantReason: ReasonUnknownTool,
		},
		{
			name:       "admin tool without role",
			ctx:        AccessContext{UserID: "u1", Plan: PlanEnterprise},
			tool:       "org_manage",
			wantAllow:  false,
			wantReason: ReasonMissingRole,
		},
		{
			name:       "admin tool with role",
			ctx:        AccessContext{UserID: "u1", Plan: PlanEnterprise, Roles: []string{"admin"}},
			tool:       "org_manage",
			wantAllow:  true,
			wantReason: ReasonOK,
		},
		{
			name:       "experimental without flag",
			ctx:        AccessContext{UserID: "u1", Plan: PlanDeveloper},
			tool:       "experimental_agent",
			wantAllow:  false,
			wantReason: ReasonMissingFlag,
		},
		{
			name: "experimental with flag",
			ctx: AccessContext{
				UserID: "u1",
				Plan:   PlanDeveloper,
				Flags:  []string{"experimental_tools"},
			},
			tool:       "experimental_agent",
			wantAllow:  true,
			wantReason: ReasonOK,
		},
		{
			name: "flag without plan still denied on plan",
			ctx: AccessContext{
				UserID: "u1",
				Plan:   PlanEnterprise,
				Flags:  []string{"experimental_tools"},
			},
			tool:       "experimental_agent",
			wantAllow:  false,
			wantReason: ReasonPlanTooLow,
		},
		{
			name:       "suspended user",
			ctx:        AccessContext{UserID: "u1", Plan: PlanDeveloper, Suspended: true},
			tool:       "chat",
			wantAllow:  false,
			wantReason: ReasonSuspended,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := checker.Evaluate(&tt.ctx, tt.tool)
			assert.Equal(t, tt.wantAllow, d.Allowed)
			assert.Equal(t, tt.wantReason, d.Reason)
		})
	}
}

func TestEvaluateOverrides(t *testing.T) {
	checker := newTestChecker(t)

	t.Run("allow override beats plan gate", func(t *testing.T) {
		ctx := AccessContext{
			UserID:    "u1",
			Plan:      PlanFree,
			Overrides: map[string]Override{"code_execution": {Tool: "code_execution", Allow: true}},
		}
		d := checker.Evaluate(&ctx, "code_execution")
		assert.True(t, d.Allowed)
		assert.Equal(t, ReasonOverride, d.Reason)
		require.NotNil(t, d.Definition)
		assert.Equal(t, "code_execution", d.Definition.Key)
	})

	t.Run("allow override admits unknown tool", func(t *testing.T) {
		ctx := AccessContext{
			UserID:    "u1",
			Plan:      PlanFree,
			Overrides: map[string]Override{"beta_tool": {Tool: "beta_tool", Allow: true}},
		}
		d := checker.Evaluate(&ctx, "beta_tool")
		assert.True(t, d.Allowed)
		assert.Equal(t, ReasonOverride, d.Reason)
		assert.Nil(t, d.Definition)
	})

	t.Run("deny override beats everything but suspension", func(t *testing.T) {
		ctx := AccessContext{
			UserID:    "u1",
			Plan:      PlanDeveloper,
			Roles:     []string{"admin"},
			Overrides: map[string]Override{"chat": {Tool: "chat", Allow: false}},
		}
		d := checker.Evaluate(&ctx, "chat")
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonOverride, d.Reason)
		require.NotNil(t, d.Override)
	})

	t.Run("suspension beats allow override", func(t *testing.T) {
		ctx := AccessContext{
			UserID:    "u1",
			Plan:      PlanDeveloper,
			Suspended: true,
			Overrides: map[string]Override{"chat": {Tool: "chat", Allow: true}},
		}
		d := checker.Evaluate(&ctx, "chat")
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonSuspended, d.Reason)
	})

	t.Run("override does not leak to other tools", func(t *testing.T) {
		ctx := AccessContext{
			UserID:    "u1",
			Plan:      PlanFree,
			Overrides: map[string]Override{"code_execution": {Tool: "code_execution", Allow: true}},
		}
		d := checker.Evaluate(&ctx, "image_generation")
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonPlanTooLow, d.Reason)
	})
}

func TestDecisionLimits(t *testing.T) {
	checker := newTestChecker(t)

	t.Run("definition limits", func(t *testing.T) {
		ctx := AccessContext{UserID: "u1", Plan: PlanFree}
		d := checker.Evaluate(&ctx, "web_search")
		perHour, perDay := d.Limits()
		assert.Equal(t, 50, perHour)
		assert.Equal(t, 300, perDay)
		assert.True(t, d.Limited())
	})

	t.Run("override limits replace definition limits", func(t *testing.T) {
		ctx := AccessContext{
			UserID: "u1",
			Plan:   PlanFree,
			Overrides: map[string]Override{
				"web_search": {Tool: "web_search", Allow: true, PerHour: 200},
			},
		}
		d := checker.Evaluate(&ctx, "web_search")
		perHour, perDay := d.Limits()
		assert.Equal(t, 200, perHour)
		assert.Equal(t, 300, perDay) // day cap kept from definition
	})

	t.Run("unlimited tool", func(t *testing.T) {
		ctx := AccessContext{UserID: "u1", Plan: PlanFree}
		d := checker.Evaluate(&ctx, "chat")
		assert.False(t, d.Limited())
	})

	t.Run("override on unknown tool carries own limits", func(t *testing.T) {
		ctx := AccessContext{
			UserID: "u1",
			Plan:   PlanFree,
			Overrides: map[string]Override{
				"beta_tool": {Tool: "beta_tool", Allow: true, PerHour: 10, PerDay: 40},
			},
		}
		d := checker.Evaluate(&ctx, "beta_tool")
		perHour, perDay := d.Limits()
		assert.Equal(t, 10, perHour)
		assert.Equal(t, 40, perDay)
	})
}
