package agent

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/Keyring-Network/keyring-atlas/internal/search"
)

const (
	organicPoints    = 5
	organicCap       = 50
	knowledgePoints  = 20
	trustedPoints    = 10
	trustedCap       = 30
	maxQualityScore  = 100
	maxSnippetLength = 600
)

// trustedDomains are cost-of-living aggregators whose figures are cross-checked.
var trustedDomains = []string{
	"numbeo.com",
	"expatistan.com",
	"livingcost.org",
	"nomadlist.com",
	"worlddata.info",
}

// EvidenceItem is a cleaned search result.
type EvidenceItem struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Link    string `json:"link"`
	Source  string `json:"source"`
	Trusted bool   `json:"trusted"`
}

// Evidence is the cleaned form of one retrieval call.
type Evidence struct {
	Items []EvidenceItem `json:"items"`
	Facts []string       `json:"facts,omitempty"`
}

func (e Evidence) HasKnowledge() bool {
	return len(e.Facts) > 0
}

var stripPolicy = bluemonday.StrictPolicy()

// CleanEvidence strips markup and whitespace noise from a search response.
func CleanEvidence(resp search.Response) Evidence {
	out := Evidence{Items: make([]EvidenceItem, 0, len(resp.Organic))}
	for _, result := range resp.Organic {
		source := result.Source
		if source == "" {
			source = search.SourceOf(result.Link)
		}
		out.Items = append(out.Items, EvidenceItem{
			Title:   cleanText(result.Title),
			Snippet: truncate(cleanText(result.Description), maxSnippetLength),
			Link:    strings.TrimSpace(result.Link),
			Source:  source,
			Trusted: isTrustedSource(source),
		})
	}
	if resp.Knowledge != nil {
		for _, fact := range resp.Knowledge.Facts {
			if cleaned := cleanText(fact); cleaned != "" {
				out.Facts = append(out.Facts, cleaned)
			}
		}
	}
	return out
}

// ScoreEvidence rates an evidence bundle in [0,100]. Each term is capped on
// its own before the sum is capped.
func ScoreEvidence(evidence Evidence) int {
	organic := min(len(evidence.Items)*organicPoints, organicCap)
	knowledge := 0
	if evidence.HasKnowledge() {
		knowledge = knowledgePoints
	}
	trustedHits := 0
	for _, item := range evidence.Items {
		if item.Trusted {
			trustedHits++
		}
	}
	trusted := min(trustedHits*trustedPoints, trustedCap)
	return min(organic+knowledge+trusted, maxQualityScore)
}

func isTrustedSource(source string) bool {
	source = strings.ToLower(strings.TrimSpace(source))
	if source == "" {
		return false
	}
	for _, domain := range trustedDomains {
		if source == domain || strings.HasSuffix(source, "."+domain) {
			return true
		}
	}
	return false
}

func cleanText(value string) string {
	value = html.UnescapeString(stripPolicy.Sanitize(value))
	return strings.Join(strings.Fields(value), " ")
}

func truncate(value string, limit int) string {
	if limit <= 0 || len(value) <= limit {
		return value
	}
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit]) + "..."
}
