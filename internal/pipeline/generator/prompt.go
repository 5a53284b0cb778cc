package generator

import (
	"fmt"
	"sort"
	"strings"

	"docgen.io/pipeline/ent"
)

// AssemblePrompt builds the model prompt for one dynamic section from its
// frozen GenerationInput, following a fixed concatenation order so that
// identical inputs produce byte-identical prompts (§4.3 step 1): structural
// path, classification confidence/justification, hierarchy path segments,
// client name, client data fields (sorted by key), preceding context,
// following context, then any custom prompt-template guidance.
func AssemblePrompt(in *ent.GenerationInput) string {
	promptConfig := in.PromptConfig
	hierarchyContext := in.HierarchyContext
	clientData := in.ClientData
	surroundingContext := in.SurroundingContext

	parts := []string{
		fmt.Sprintf("Generate content for section at path: %s", in.StructuralPath),
		fmt.Sprintf("Classification confidence: %s", stringOrNA(promptConfig, "classification_confidence")),
		fmt.Sprintf("Justification: %s", stringOrNA(promptConfig, "justification")),
	}

	if segments := stringSlice(hierarchyContext, "path_segments"); len(segments) > 0 {
		parts = append(parts, fmt.Sprintf("Document structure: %s", strings.Join(segments, " > ")))
	}

	if name, ok := clientData["client_name"]; ok {
		if s := toDisplayString(name); s != "" {
			parts = append(parts, fmt.Sprintf("Client: %s", s))
		}
	}

	if fields, ok := clientData["data_fields"].(map[string]interface{}); ok && len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s: %s", k, toDisplayString(fields[k])))
		}
	}

	if preceding, ok := surroundingContext["preceding_content"]; ok {
		if s := toDisplayString(preceding); s != "" {
			parts = append(parts, fmt.Sprintf("Preceding section: %s", s))
		}
	}

	if following, ok := surroundingContext["following_content"]; ok {
		if s := toDisplayString(following); s != "" {
			parts = append(parts, fmt.Sprintf("Following section: %s", s))
		}
	}

	if template := stringOrEmpty(promptConfig, "prompt_template"); template != "" {
		parts = append(parts, fmt.Sprintf("Template guidance: %s", template))
	}

	return strings.Join(parts, "\n")
}

func stringOrNA(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s := toDisplayString(v); s != "" {
			return s
		}
	}
	return "N/A"
}

func stringOrEmpty(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		return toDisplayString(v)
	}
	return ""
}

func stringSlice(m map[string]interface{}, key string) []string {
	raw, ok := m[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, toDisplayString(item))
		}
		return out
	default:
		return nil
	}
}

func toDisplayString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
