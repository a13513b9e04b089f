package permissions

// Builtin returns the stock permission set. Callers get a fresh slice
// and may append their own definitions before building the registry.
func Builtin() []Definition {
	return []Definition{
		{
			Key:         "chat_basic",
			Description: "Core chat and conversation tools",
			Tools:       []string{"chat", "conversation_history", "prompt_templates"},
			MinPlan:     PlanFree,
		},
		{
			Key:         "web_search",
			Description: "Web search and page retrieval",
			Tools:       []string{"web_search", "web_fetch"},
			MinPlan:     PlanFree,
			PerHour:     50,
			PerDay:      300,
			Algorithm:   "sliding_window",
		},
		{
			Key:         "file_upload",
			Description: "File upload and document parsing",
			Tools:       []string{"file_upload", "document_parse"},
			MinPlan:     PlanFree,
			PerHour:     20,
			PerDay:      100,
		},
		{
			Key:         "code_execution",
			Description: "Sandboxed code execution",
			Tools:       []string{"code_execution", "notebook"},
			MinPlan:     PlanPro,
			PerHour:     30,
			PerDay:      200,
			Algorithm:   "token_bucket",
		},
		{
			Key:         "image_generation",
			Description: "Image generation and editing",
			Tools:       []string{"image_generation", "image_edit"},
			MinPlan:     PlanPro,
			PerHour:     20,
			PerDay:      100,
		},
		{
			Key:         "data_export",
			Description: "Bulk export of account data",
			Tools:       []string{"data_export"},
			MinPlan:     PlanPro,
			PerHour:     5,
			PerDay:      20,
		},
		{
			Key:         "connectors",
			Description: "Third-party connectors and integrations",
			Tools:       []string{"connector_read", "connector_write", "connector_sync"},
			MinPlan:     PlanEnterprise,
			PerHour:     60,
			PerDay:      500,
		},
		{
			Key:         "admin_tools",
			Description: "Organization administration tools",
			Tools:       []string{"org_manage", "audit_log"},
			MinPlan:     PlanEnterprise,
			Roles:       []string{"admin"},
			PerHour:     30,
			PerDay:      100,
		},
		{
			Key:         "experimental",
			Description: "Unreleased tools behind a feature flag",
			Tools:       []string{"experimental_agent", "experimental_memory"},
			MinPlan:     PlanDeveloper,
			Flags:       []string{"experimental_tools"},
			PerHour:     10,
			PerDay:      50,
		},
	}
}
