package bundle

import (
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/briefd/internal/fetch"
)

// promptInput is everything the model sees for one run.
type promptInput struct {
	Instruction   string
	Sources       []fetch.Source // successful URL fetches
	SearchContext string         // formatted search results, may be empty
	Details       []fetch.Source // full text of top search hits
	Now           time.Time
}

func (in promptInput) hasSearch() bool { return in.SearchContext != "" }

// systemPrompt frames the model as a reader of the supplied text only and
// pins the current date so relative references ("today", "this week")
// resolve correctly.
func systemPrompt(in promptInput) string {
	var sb strings.Builder
	sb.WriteString(`You are a text extraction and summarization tool. You have NO knowledge of your own. You can ONLY read and summarize the text provided between the ========== markers below.

=== CRITICAL RULES ===
1. Every sentence you write MUST be directly based on the provided text.
2. If information is NOT in the provided text, it does not exist for you. Do not guess, assume, or fill in gaps from training data.
3. Headlines, titles and figures you mention must appear verbatim or nearly verbatim in the provided text.
4. If the text is mostly page chrome (menus, buttons, notices) with little real content, say that not enough meaningful content could be extracted from the provided pages.
5. Ignore navigation labels, button text, algorithm disclosures, copyright notices and "related news" counters.

=== MATCH THE REQUEST ===
- A single direct question (weather, a price, a score, a date): answer in one to three short sentences. Do not list unrelated items.
- A request to collect or summarize articles: for each real article, give the headline as it appears, then a brief summary of the text that follows it.
- A request for a list or comparison: use "- " bullets, one item per line, grouped as the user asks.
`)
	if in.hasSearch() {
		sb.WriteString("\nWeb search results are also provided. Use them to supplement the attached sources and say which information comes from web search.\n")
	}
	fmt.Fprintf(&sb, `
=== OUTPUT ===
- Match the language of the user's request.
- Plain text only: no markdown headings or bold markers.
- Separate sections with blank lines and use "- " for bullets.
- Current date and time: %s (%s). Treat this as ground truth for words like "today", "yesterday" or "this week".`,
		in.Now.Format("2006-01-02 15:04 MST"), in.Now.Weekday())
	return sb.String()
}

func userPrompt(in promptInput) string {
	var sb strings.Builder
	sb.WriteString("[Request]\n")
	sb.WriteString(in.Instruction)
	sb.WriteString("\n\nThe text below was extracted from web pages. Answer the request above using only this text.\n")

	if len(in.Sources) > 0 {
		sb.WriteString("\n")
		sb.WriteString(sourceBlocks("Attached Source", in.Sources))
		sb.WriteString("\n")
	}

	if in.hasSearch() {
		sb.WriteString("\n========== [Web Search Results] ==========\n")
		sb.WriteString(in.SearchContext)
		sb.WriteString("\n========== [End Web Search Results] ==========\n")
		if len(in.Details) > 0 {
			sb.WriteString("\n")
			sb.WriteString(sourceBlocks("Web Search Detail", in.Details))
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\n\n[Final Instruction]\n")
	sb.WriteString("Use only content found between the ========== markers above. Quote headlines exactly as written. Never add information that is not in the text. Answer in the form the request calls for.")
	return sb.String()
}

func sourceBlocks(label string, sources []fetch.Source) string {
	blocks := make([]string, len(sources))
	for i, s := range sources {
		blocks[i] = fmt.Sprintf("========== [%s %d] %s ==========\n%s\n========== [End %s %d] ==========",
			label, i+1, s.URL, s.Content, label, i+1)
	}
	return strings.Join(blocks, "\n\n")
}
