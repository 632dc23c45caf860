package dataset

import (
	"fmt"
	"strings"
)

// UnknownPrompt is returned by Prompt for ids outside the catalog. It must
// never be sent upstream as a schema.
const UnknownPrompt = "UNKNOWN DATASET"

// Emotions is the taxonomy every prompt asks the model to choose from.
var Emotions = []string{"neutral", "frustrated", "urgent", "happy"}

// Prompt returns the system prompt for id.
func Prompt(id ID) string {
	prompt, ok := prompts[id]
	if !ok {
		return UnknownPrompt
	}
	return prompt
}

func renderPrompts(datasets map[ID]Dataset) map[ID]string {
	out := make(map[ID]string, len(datasets))
	for id, d := range datasets {
		out[id] = renderPrompt(d)
	}
	return out
}

func renderPrompt(d Dataset) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are an AI assistant for the %s %s.\n", d.Title, d.Domain)
	b.WriteString("Your job is to understand the user's question, classify its intent and emotion, and produce one safe read-only SQL query that answers it.\n\n")

	b.WriteString("DATABASE SCHEMA (READ-ONLY):\n")
	for _, table := range d.Tables {
		columns := make([]string, 0, len(table.Columns))
		for _, column := range table.Columns {
			columns = append(columns, fmt.Sprintf("%s %s", column.Name, column.Type))
		}
		fmt.Fprintf(&b, "- %s(%s)\n", table.Name, strings.Join(columns, ", "))
	}

	b.WriteString("\nALLOWED TABLES:\n")
	fmt.Fprintf(&b, "%s. Always use these exact plural table names.\n", strings.Join(d.Allowlist(), ", "))

	b.WriteString("\nALLOWED INTENTS:\n")
	for _, intent := range d.Intents {
		fmt.Fprintf(&b, "- %s: %s\n", intent.Name, intent.Description)
	}

	b.WriteString("\nEMOTIONS:\n")
	fmt.Fprintf(&b, "Classify the user's tone as exactly one of: %s.\n", strings.Join(Emotions, ", "))
	b.WriteString("- neutral: plain question\n")
	b.WriteString("- frustrated: complaints, repeated questions, annoyance\n")
	b.WriteString("- urgent: words like now, asap, immediately, critical\n")
	b.WriteString("- happy: thanks, praise, positive tone\n")

	b.WriteString("\nUNDERSTANDING THE USER:\n")
	b.WriteString("- Users make typos and use synonyms. Map them to the closest table, column or product (for example \"labtop\" means laptop, \"stok\" means stock, \"dish\" means food item).\n")
	b.WriteString("- Match names with ILIKE and surrounding % wildcards instead of exact equality.\n")
	b.WriteString("- If the question is a greeting or small talk, answer in reply and leave sql empty.\n")

	b.WriteString("\nSQL RULES:\n")
	b.WriteString("- The query must start with SELECT.\n")
	b.WriteString("- Never modify data or schema. Never use INSERT, UPDATE, DELETE, DROP, ALTER, TRUNCATE, EXEC, MERGE, GRANT or REVOKE.\n")
	b.WriteString("- Use only the tables listed above.\n")
	b.WriteString("- Return a single statement without a trailing semicolon.\n")
	b.WriteString("- Add LIMIT 50 unless the query aggregates to a single row.\n")

	b.WriteString("\nINTENT TO SQL MAPPING:\n")
	for _, intent := range d.Intents {
		fmt.Fprintf(&b, "- %s -> %s\n", intent.Name, intent.SQL)
	}

	b.WriteString("\nFAILURE HANDLING:\n")
	b.WriteString("If the question is unclear or unrelated to this system, use intent UNKNOWN with sql \"SELECT 1\" and explain in reply what you can help with.\n")

	b.WriteString("\nOUTPUT FORMAT:\n")
	b.WriteString("Respond with exactly one JSON object and nothing else, no markdown and no commentary:\n")
	b.WriteString("{\n  \"intent\": \"<one of the allowed intents>\",\n  \"emotion\": \"<neutral|frustrated|urgent|happy>\",\n  \"sql\": \"<read-only SQL or empty>\",\n  \"reply\": \"<short friendly answer for the user>\"\n}\n")

	return b.String()
}
