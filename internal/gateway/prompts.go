package gateway

import "fmt"

const (
	extractionSystemPrompt = "You are an information extraction system. " +
		"Return only valid JSON that matches the provided schema."

	conflictSystemPrompt = "You are a conflict detection system. " +
		"Return only valid JSON that matches the provided schema."
)

// ExtractionPrompt is the user message sent for a turn's (scrubbed) text.
func ExtractionPrompt(text string) string {
	return "Extract structured updates from the following turn. " +
		"Return participants, topics, decisions, action_items, and claims. " +
		"Use concise strings and avoid hallucinating unknown values.\n\nTurn:\n" + text
}

// ConflictPrompt is the user message comparing two summaries.
func ConflictPrompt(existing, proposed string) string {
	return fmt.Sprintf("Compare the existing summary with the proposed summary. "+
		"Determine if they conflict. If conflict exists, provide short conflicting spans "+
		"from both summaries and a conflict_type such as direct_contradiction, staleness, "+
		"or scope_mismatch. Return valid JSON matching the schema."+
		"\n\nExisting summary:\n%s\n\nProposed summary:\n%s", existing, proposed)
}
