package permissions

// Checker evaluates tool access against the registry. Evaluation is
// pure: rate limits are enforced by the caller after an allow.
type Checker struct {
	registry *Registry
}

func NewChecker(registry *Registry) *Checker {
	return &Checker{registry: registry}
}

func (c *Checker) Registry() *Registry {
	return c.registry
}

// Evaluate decides whether the context may use the tool.
//
// Order matters: suspension beats everything, a deny override beats an
// allow override, and an allow override skips the plan/role/flag rules
// but not the rate limits.
func (c *Checker) Evaluate(ctx *AccessContext, tool string) Decision {
	if ctx.Suspended {
		return denied(ReasonSuspended, c.registry.DefinitionFor(tool))
	}

	def := c.registry.DefinitionFor(tool)

	if ov, ok := ctx.Overrides[tool]; ok {
		if !ov.Allow {
			d := denied(ReasonOverride, def)
			d.Override = &ov
			return d
		}
		// Allow overrides admit even unregistered tools. They keep
		// whatever limits the definition or the override carries.
		d := allowed(def, &ov)
		d.Reason = ReasonOverride
		return d
	}

	if def == nil {
		return denied(ReasonUnknownTool, nil)
	}

	if !ctx.Plan.AtLeast(def.MinPlan) {
		return denied(ReasonPlanTooLow, def)
	}

	for _, role := range def.Roles {
		if !ctx.HasRole(role) {
			return denied(ReasonMissingRole, def)
		}
	}

	for _, flag := range def.Flags {
		if !ctx.HasFlag(flag) {
			return denied(ReasonMissingFlag, def)
		}
	}

	return allowed(def, nil)
}
