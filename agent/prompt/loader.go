package prompt

import (
	_ "embed"
	"strings"
)

//go:embed template/system.txt
var systemRaw string

// Template variables, written as {name} in the system prompt.
const (
	VarNow      = "now"
	VarTimeZone = "timezone"
	VarContext  = "context"
)

// PromptSet holds loaded prompt content.
type PromptSet struct {
	System string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
func LoadPromptSet() PromptSet {
	return PromptSet{
		System: strings.TrimSpace(systemRaw),
	}
}

// Render substitutes {name} placeholders for callers that do not go through
// an eino chat template. Unknown placeholders are left as they are.
func Render(tmpl string, vars map[string]string) string {
	if len(vars) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
