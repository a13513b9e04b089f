package permissions

// Definition describes one permission grouping a set of tools and
// the requirements to use them
type Definition struct {
	// Key identifies the permission, e.g. "web_search"
	Key string `json:"key"`

	Description string `json:"description"`

	// Tools lists the tool names this permission covers. A tool
	// belongs to exactly one definition.
	Tools []string `json:"tools"`

	// MinPlan is the lowest plan tier allowed to use these tools
	MinPlan PlanTier `json:"min_plan"`

	// Roles that the user must hold, all of them. Empty means no
	// role requirement.
	Roles []string `json:"roles,omitempty"`

	// Flags lists feature flags that must all be enabled for the user
	Flags []string `json:"flags,omitempty"`

	// PerHour and PerDay cap usage per user. Zero means unlimited
	// for that window.
	PerHour int `json:"per_hour"`
	PerDay  int `json:"per_day"`

	// Algorithm selects the hourly limiter: fixed_window,
	// sliding_window or token_bucket. Empty defaults to fixed_window.
	Algorithm string `json:"algorithm,omitempty"`
}

// Limited reports whether the definition carries any usage cap
func (d *Definition) Limited() bool {
	return d.PerHour > 0 || d.PerDay > 0
}

// Covers reports whether the definition includes the given tool
func (d *Definition) Covers(tool string) bool {
	for _, t := range d.Tools {
		if t == tool {
			return true
		}
	}
	return false
}
