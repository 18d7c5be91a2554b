package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Serper queries the google.serper.dev JSON API.
type Serper struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewSerper(apiKey, baseURL string) *Serper {
	if baseURL == "" {
		baseURL = "https://google.serper.dev"
	}
	return &Serper{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

func (s *Serper) Search(ctx context.Context, query string, limit int) (Response, error) {
	if strings.TrimSpace(s.apiKey) == "" {
		return Response{}, errors.New("serper: API key is missing")
	}
	body, err := json.Marshal(map[string]any{
		"q":   query,
		"num": clampLimit(limit),
	})
	if err != nil {
		return Response{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("X-API-KEY", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Response{}, &StatusError{Provider: "serper", StatusCode: resp.StatusCode, Status: resp.Status}
	}

	var parsed struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
		KnowledgeGraph *struct {
			Title       string            `json:"title"`
			Description string            `json:"description"`
			Attributes  map[string]string `json:"attributes"`
		} `json:"knowledgeGraph"`
		AnswerBox *struct {
			Answer  string `json:"answer"`
			Snippet string `json:"snippet"`
		} `json:"answerBox"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Response{}, fmt.Errorf("serper: decode response: %w", err)
	}

	out := Response{Organic: make([]Result, 0, len(parsed.Organic))}
	for _, item := range parsed.Organic {
		out.Organic = append(out.Organic, Result{
			Title:       item.Title,
			Description: item.Snippet,
			Link:        item.Link,
			Source:      SourceOf(item.Link),
		})
		if len(out.Organic) >= clampLimit(limit) {
			break
		}
	}

	facts := []string{}
	title := ""
	if kg := parsed.KnowledgeGraph; kg != nil {
		title = kg.Title
		if kg.Description != "" {
			facts = append(facts, kg.Description)
		}
		keys := make([]string, 0, len(kg.Attributes))
		for key := range kg.Attributes {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			facts = append(facts, key+": "+kg.Attributes[key])
		}
	}
	if box := parsed.AnswerBox; box != nil {
		for _, value := range []string{box.Answer, box.Snippet} {
			if strings.TrimSpace(value) != "" {
				facts = append(facts, value)
			}
		}
	}
	if len(facts) > 0 {
		out.Knowledge = &Knowledge{Title: title, Facts: facts}
	}
	return out, nil
}
