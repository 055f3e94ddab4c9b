package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"evidence/internal/domain"
)

const defaultEndpoint = "https://api.openalex.org/works"

// ScholarlyClient queries the OpenAlex works API as the external web-search
// fallback for claims the local corpus cannot support.
type ScholarlyClient struct {
	endpoint string
	client   *http.Client
}

func NewScholarlyClient(endpoint string, timeout time.Duration) *ScholarlyClient {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ScholarlyClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type worksResponse struct {
	Results []workResult `json:"results"`
}

type workResult struct {
	Title           string `json:"title"`
	DOI             string `json:"doi"`
	PublicationYear int    `json:"publication_year"`
	Authorships     []struct {
		Author struct {
			DisplayName string `json:"display_name"`
		} `json:"author"`
	} `json:"authorships"`
	AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
}

func (c *ScholarlyClient) Search(ctx context.Context, query string) ([]domain.WebResult, error) {
	u := fmt.Sprintf("%s?search=%s&per-page=5", c.endpoint, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var works worksResponse
	if err := json.Unmarshal(body, &works); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make([]domain.WebResult, 0, len(works.Results))
	for _, w := range works.Results {
		var authors []string
		for _, a := range w.Authorships {
			if a.Author.DisplayName != "" {
				authors = append(authors, a.Author.DisplayName)
			}
		}
		results = append(results, domain.WebResult{
			Title:    w.Title,
			URL:      w.DOI,
			Abstract: reconstructAbstract(w.AbstractInvertedIndex),
			Authors:  authors,
			Year:     w.PublicationYear,
		})
	}
	return results, nil
}

// reconstructAbstract rebuilds plain text from OpenAlex's inverted index form.
func reconstructAbstract(inverted map[string][]int) string {
	if len(inverted) == 0 {
		return ""
	}
	maxPos := 0
	for _, positions := range inverted {
		for _, p := range positions {
			if p > maxPos {
				maxPos = p
			}
		}
	}
	words := make([]string, maxPos+1)
	for word, positions := range inverted {
		for _, p := range positions {
			words[p] = word
		}
	}
	out := ""
	for _, w := range words {
		if w == "" {
			continue
		}
		if out != "" {
			out += " "
		}
		out += w
	}
	return truncate(out, 500)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
