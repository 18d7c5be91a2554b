package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Brave queries the Brave Search web API.
type Brave struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewBrave(apiKey, baseURL string) *Brave {
	if baseURL == "" {
		baseURL = "https://api.search.brave.com/res/v1"
	}
	return &Brave{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

func (b *Brave) Search(ctx context.Context, query string, limit int) (Response, error) {
	if strings.TrimSpace(b.apiKey) == "" {
		return Response{}, errors.New("brave: API key is missing")
	}
	values := url.Values{}
	values.Set("q", query)
	values.Set("count", strconv.Itoa(clampLimit(limit)))
	endpoint := b.baseURL + "/web/search?" + values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Response{}, &StatusError{Provider: "brave", StatusCode: resp.StatusCode, Status: resp.Status}
	}

	var parsed struct {
		Web struct {
			Results []struct {
				Title       string   `json:"title"`
				URL         string   `json:"url"`
				Description string   `json:"description"`
				ExtraSnips  []string `json:"extra_snippets"`
			} `json:"results"`
		} `json:"web"`
		Infobox *struct {
			Results []struct {
				Title           string `json:"title"`
				LongDescription string `json:"long_desc"`
				Description     string `json:"description"`
			} `json:"results"`
		} `json:"infobox"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Response{}, fmt.Errorf("brave: decode response: %w", err)
	}

	out := Response{Organic: make([]Result, 0, len(parsed.Web.Results))}
	for _, item := range parsed.Web.Results {
		description := item.Description
		if len(item.ExtraSnips) > 0 {
			description = strings.Join(append([]string{description}, item.ExtraSnips...), " ")
		}
		out.Organic = append(out.Organic, Result{
			Title:       item.Title,
			Description: description,
			Link:        item.URL,
			Source:      SourceOf(item.URL),
		})
		if len(out.Organic) >= clampLimit(limit) {
			break
		}
	}
	if parsed.Infobox != nil && len(parsed.Infobox.Results) > 0 {
		box := parsed.Infobox.Results[0]
		facts := []string{}
		for _, value := range []string{box.Description, box.LongDescription} {
			if strings.TrimSpace(value) != "" {
				facts = append(facts, value)
			}
		}
		if len(facts) > 0 {
			out.Knowledge = &Knowledge{Title: box.Title, Facts: facts}
		}
	}
	return out, nil
}
