package permissions

// Reason explains why a check passed or failed
type Reason string

const (
	ReasonOK          Reason = "ok"
	ReasonUnknownTool Reason = "unknown_tool"
	ReasonPlanTooLow  Reason = "plan_too_low"
	ReasonMissingRole Reason = "missing_role"
	ReasonMissingFlag Reason = "missing_flag"
	ReasonSuspended   Reason = "suspended"
	ReasonRateLimited Reason = "rate_limited"

	// ReasonOverride marks a decision forced by a per-user override,
	// in either direction
	ReasonOverride Reason = "override"
)

// Override is a per-user exception to the builtin rules for one tool
type Override struct {
	Tool string `json:"tool"`

	// Allow grants access regardless of plan, roles and flags.
	// False forces a denial.
	Allow bool `json:"allow"`

	// PerHour and PerDay replace the definition's limits when set.
	// Zero keeps the definition's value.
	PerHour int `json:"per_hour,omitempty"`
	PerDay  int `json:"per_day,omitempty"`
}

// AccessContext carries everything known about the caller at check time
type AccessContext struct {
	UserID    string
	Plan      PlanTier
	Roles     []string
	Flags     []string
	Suspended bool

	// Overrides is keyed by tool name
	Overrides map[string]Override
}

// HasRole reports whether the context carries the given role
func (c *AccessContext) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasFlag reports whether the feature flag is enabled for the user
func (c *AccessContext) HasFlag(flag string) bool {
	for _, f := range c.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Decision is the outcome of evaluating one tool against a context
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason"`

	// Definition is the matched permission, nil when the tool is
	// unknown or admitted purely by an allow override
	Definition *Definition `json:"-"`

	// Override is set when a per-user override decided the outcome
	Override *Override `json:"-"`
}

// Limits resolves the effective hour/day caps for the decision,
// override values taking precedence over the definition's
func (d *Decision) Limits() (perHour, perDay int) {
	if d.Definition != nil {
		perHour = d.Definition.PerHour
		perDay = d.Definition.PerDay
	}
	if d.Override != nil {
		if d.Override.PerHour > 0 {
			perHour = d.Override.PerHour
		}
		if d.Override.PerDay > 0 {
			perDay = d.Override.PerDay
		}
	}
	return perHour, perDay
}

// Limited reports whether any usage cap applies to the decision
func (d *Decision) Limited() bool {
	perHour, perDay := d.Limits()
	return perHour > 0 || perDay > 0
}

func allowed(def *Definition, ov *Override) Decision {
	return Decision{Allowed: true, Reason: ReasonOK, Definition: def, Override: ov}
}

func denied(reason Reason, def *Definition) Decision {
	return Decision{Allowed: false, Reason: reason, Definition: def}
}
