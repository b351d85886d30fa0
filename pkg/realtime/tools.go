package realtime

import (
	"sort"
	"strings"
)

// NavigateToolName is the name of the tool built by NavigationTool.
const NavigateToolName = "navigate"

// NavigationTool builds a tool that lets the model move between app
// routes. aliases map spoken phrases to routes and are listed in the
// description in phrase order.
func NavigationTool(routes []string, aliases map[string]string) ToolDefinition {
	var b strings.Builder
	b.WriteString("Navigate to a page in the app.")

	if len(aliases) > 0 {
		phrases := make([]string, 0, len(aliases))
		for phrase := range aliases {
			phrases = append(phrases, phrase)
		}
		sort.Strings(phrases)

		b.WriteString("\n\nCommon phrases:")
		for _, phrase := range phrases {
			b.WriteString("\n- \"" + phrase + "\" → " + aliases[phrase])
		}
	}

	enum := make([]any, len(routes))
	for i, r := range routes {
		enum[i] = r
	}

	return NewTool(NavigateToolName, b.String(), map[string]any{
		"type": "object",
		"properties": map[string]any{
			"route": map[string]any{
				"type":        "string",
				"enum":        enum,
				"description": "The route to navigate to",
			},
		},
		"required": []any{"route"},
	})
}
