package uplift

import (
	"fmt"
	"strings"

	"github.com/querylift/backend/internal/domain"
)

var templates = map[domain.TaskType]string{
	domain.TaskQA:        "Provide a detailed answer to: %s. Include specific examples, cite sources, and format as %s.",
	domain.TaskSummarize: "Summarize the key points of: %s. Organize the summary into sections, cite sources, and format as %s.",
	domain.TaskCompare:   "Compare the following in detail: %s. Include the key differences and similarities, cite sources, and format as %s.",
	domain.TaskCode:      "Provide a working code example for: %s. Include step-by-step explanations, cite sources, and format as %s.",
}

// Template renders the deterministic rewrite for a task type. The fixed text
// carries no digits and no capitalised tokens, so it always passes the fact
// guard.
func Template(task domain.TaskType, query string, format domain.OutputFormat) string {
	tmpl, ok := templates[task]
	if !ok {
		tmpl = templates[domain.TaskQA]
	}
	if !format.Valid() {
		format = domain.FormatMarkdown
	}
	q := strings.TrimRight(strings.TrimSpace(query), ".?! ")
	return fmt.Sprintf(tmpl, q, format)
}

const systemPrompt = `You rewrite search queries so a retrieval system finds better evidence.
Rules:
- Preserve the user's intent exactly.
- Do not add facts, numbers, names, tickers or dates that the query does not contain.
- Add at most three short sentences.
- Always ask for sources to be cited.
Reply with the rewritten query only.`

var taskGuidance = map[domain.TaskType]string{
	domain.TaskQA:        "The user wants an answer to a question. Ask for a direct, specific answer with supporting examples.",
	domain.TaskSummarize: "The user wants a summary. Ask for the key points organised into short sections.",
	domain.TaskCompare:   "The user wants a comparison. Ask for the key differences and similarities across the same criteria.",
	domain.TaskCode:      "The user wants code. Ask for a working example with step-by-step explanation.",
}

var formatGuidance = map[domain.OutputFormat]string{
	domain.FormatMarkdown: "Ask for the answer formatted as markdown.",
	domain.FormatJSON:     "Ask for the answer formatted as json.",
	domain.FormatTable:    "Ask for the answer formatted as a table.",
}

func buildPrompt(query string, cls domain.Classification) string {
	var b strings.Builder
	b.WriteString(taskGuidance[taskOrDefault(cls.TaskType)])
	b.WriteString("\n")
	if g, ok := formatGuidance[cls.OutputFormat]; ok {
		b.WriteString(g)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nQuery: %s\n\nRewritten query:", query)
	return b.String()
}

func taskOrDefault(t domain.TaskType) domain.TaskType {
	if t.Valid() {
		return t
	}
	return domain.TaskQA
}
