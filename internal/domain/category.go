package domain

import "strings"

// Category is one label from the fixed set a question can be routed under.
type Category string

const (
	CategoryAuthoring      Category = "adaptive-forms-authoring"
	CategoryRuntime        Category = "adaptive-forms-runtime"
	CategoryCoreComponents Category = "adaptive-forms-core-components"
	CategoryHeadless       Category = "adaptive-forms-headless"
	CategoryDocOfRecord    Category = "document-of-record"
	CategoryDesigner       Category = "designer"
	CategoryIntegration    Category = "integration-third-party"
	CategoryWorkflow       Category = "forms-workflow"
	CategoryCore           Category = "core"
	CategoryAccessibility  Category = "accessibility"
	CategorySecurity       Category = "security"
)

// CatchAllCategory receives questions nothing else claims.
const CatchAllCategory = CategoryCore

var allCategories = []Category{
	CategoryAuthoring,
	CategoryRuntime,
	CategoryCoreComponents,
	CategoryHeadless,
	CategoryDocOfRecord,
	CategoryDesigner,
	CategoryIntegration,
	CategoryWorkflow,
	CategoryCore,
	CategoryAccessibility,
	CategorySecurity,
}

var categoryDescriptions = map[Category]string{
	CategoryAuthoring:      "creating, editing, configuring or designing Adaptive Forms",
	CategoryRuntime:        "form rendering, submission, or client-side behavior",
	CategoryCoreComponents: "AEM Forms Core Components specifically",
	CategoryHeadless:       "headless forms or the Forms React SDK",
	CategoryDocOfRecord:    "DoR generation, PDF output, or Document of Record issues",
	CategoryDesigner:       "XDP forms, form design templates, or the Designer application",
	CategoryIntegration:    "integrating with external systems or services",
	CategoryWorkflow:       "workflows, reviews, or approvals in Forms",
	CategoryCore:           "AEM Forms core functionality or platform",
	CategoryAccessibility:  "making forms accessible or compliance with standards",
	CategorySecurity:       "form security or privacy",
}

// AllCategories returns the fixed category set in canonical order.
func AllCategories() []Category {
	out := make([]Category, len(allCategories))
	copy(out, allCategories)
	return out
}

// ParseCategory normalizes s and reports whether it names a known category.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	return c, c.Valid()
}

func (c Category) Valid() bool {
	_, ok := categoryDescriptions[c]
	return ok
}

// Description is the one-line meaning used in classifier prompts.
func (c Category) Description() string {
	return categoryDescriptions[c]
}

func (c Category) String() string {
	return string(c)
}
