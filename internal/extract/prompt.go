package extract

import (
	"fmt"
	"strings"

	"github.com/Keyring-Network/keyring-atlas/internal/agent"
	"github.com/Keyring-Network/keyring-atlas/internal/llm"
)

const systemPrompt = `You estimate monthly living costs for remote workers from web search evidence.
Answer with a single JSON object that matches this schema and nothing else:

%s

Rules:
- amount is the typical monthly cost for one person in the local currency.
- currency is the ISO 4217 code of amount.
- usd_amount is amount converted to US dollars.
- confidence (0-100) reflects how directly the evidence supports the figure: 80+ for several agreeing
  trusted sources, 50-79 for a single source or a range, below 50 when you are inferring.
- source is the domain the figure mainly comes from.
- Never invent evidence. If the evidence is thin, give your best estimate with a low confidence.`

func buildMessages(req agent.ExtractionRequest) []llm.Message {
	return []llm.Message{
		{Role: "system", Content: fmt.Sprintf(systemPrompt, schemaText(req.Category.Name))},
		{Role: "user", Content: userPrompt(req)},
	}
}

func userPrompt(req agent.ExtractionRequest) string {
	var b strings.Builder
	label := req.Category.DisplayName
	if label == "" {
		label = req.Category.Name
	}
	fmt.Fprintf(&b, "City: %s\nCountry: %s\nCategory: %s\n", req.City, req.Country, label)
	if req.Query != "" {
		fmt.Fprintf(&b, "Search query: %s\n", req.Query)
	}
	if len(req.Evidence.Facts) > 0 {
		b.WriteString("\nKnowledge panel:\n")
		for _, fact := range req.Evidence.Facts {
			fmt.Fprintf(&b, "- %s\n", fact)
		}
	}
	b.WriteString("\nSearch results:\n")
	if len(req.Evidence.Items) == 0 {
		b.WriteString("(none)\n")
	}
	for i, item := range req.Evidence.Items {
		trusted := ""
		if item.Trusted {
			trusted = " [trusted]"
		}
		fmt.Fprintf(&b, "%d. %s (%s)%s\n   %s\n", i+1, item.Title, item.Source, trusted, item.Snippet)
	}
	return b.String()
}
