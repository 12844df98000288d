package llm

import (
	"encoding/json"
	"fmt"
)

// ocrSystemPrompt is the default instruction for page conversion.
// A caller-supplied Prompt replaces it wholesale.
const ocrSystemPrompt = `Convert the following image/document to markdown.
Return only the markdown with no explanation text. Do not include delimiters like ` + "```markdown or ```html" + `.

RULES:
- You must include all information on the page. Do not exclude headers, footers, or subtext.
- Return tables in an HTML format.
- Logos should be wrapped in brackets. Ex: <logo>Wells Fargo</logo>
- Charts and infographics must be interpreted to a markdown format. Prefer table format when applicable.
- Prefer using ☐ and ☑ for check boxes.`

// extractionSystemPrompt is the default instruction for schema-driven
// extraction.
const extractionSystemPrompt = `Extract the following JSON schema from the document. The schema describes the exact structure of the expected output.
Respond with JSON only, no explanation text. If a value is not present in the document, use null.`

// consistencyPrompt carries the prior page into a maintain-format call
func consistencyPrompt(priorPage string) string {
	return fmt.Sprintf("Markdown must maintain consistent formatting with the following page:\n\n\"\"\"%s\"\"\"", priorPage)
}

// schemaPromptBlock renders the schema for providers without native
// structured output, appended to the system prompt.
func schemaPromptBlock(schema map[string]any) string {
	encoded, err := json.Marshal(schema)
	if err != nil {
		// Schemas are validated before reaching an adapter.
		return ""
	}
	return fmt.Sprintf("\n\nJSON schema:\n%s", encoded)
}
