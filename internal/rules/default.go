package rules

import "forumscout/internal/domain"

// DefaultRules is the built-in ordered rule list. Narrow categories come
// before broad ones so that, for example, a headless question that also
// mentions "core" stays headless.
func DefaultRules() []Rule {
	return []Rule{
		{Category: domain.CategoryDocOfRecord, Keywords: []string{"document of record", "dor", "pdf output", "docrecord"}},
		{Category: domain.CategoryDesigner, Keywords: []string{"xdp", "designer", "xfa", "master page", "livecycle"}},
		{Category: domain.CategoryAccessibility, Keywords: []string{"accessibility", "accessible", "wcag", "screen reader", "aria", "a11y"}},
		{Category: domain.CategorySecurity, Keywords: []string{"security", "xss", "csrf", "vulnerability", "encryption", "privacy", "captcha"}},
		{Category: domain.CategoryHeadless, Keywords: []string{"headless", "react", "sdk", "angular"}},
		{Category: domain.CategoryCoreComponents, Keywords: []string{"core component", "core components", "rule editor", "custom function", "custom functions"}},
		{Category: domain.CategoryWorkflow, Keywords: []string{"workflow", "workflows", "review", "approval", "assign task", "inbox"}},
		{Category: domain.CategoryIntegration, Keywords: []string{"integration", "third party", "connector", "form data model", "fdm", "adobe sign", "s3"}},
		{Category: domain.CategoryRuntime, Keywords: []string{"submit", "submission", "runtime", "javascript", "client", "prefill", "rendering"}},
		{Category: domain.CategoryAuthoring, Keywords: []string{"authoring", "creating", "editing", "configure", "theme", "template", "fragment"}},
		{Category: domain.CategoryCore, Keywords: []string{"core", "installation", "dispatcher", "forms manager", "osgi", "upgrade"}},
	}
}
