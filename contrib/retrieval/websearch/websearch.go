// Package websearch is a retrieval collaborator that scrapes DuckDuckGo's lite
// HTML results and has the oracle answer from the snippets.
package websearch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	ferrors "github.com/sweetpotato0/factflow/errors"
	"github.com/sweetpotato0/factflow/llm"
	"github.com/sweetpotato0/factflow/pkg/preprocess"
	"github.com/sweetpotato0/factflow/retrieval"
	"golang.org/x/time/rate"
)

const (
	defaultEndpoint = "https://lite.duckduckgo.com/lite/"
	userAgent       = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

const answerSystem = `You answer questions using only the numbered web search results provided.
Cite every claim with the result number in square brackets, e.g. [1] or [2].
If the results do not contain the answer, say so.`

// Result is one scraped search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Config configures the collaborator.
type Config struct {
	Endpoint   string
	MaxResults int
	// QPS caps requests to the search endpoint across goroutines.
	QPS    float64
	Client *http.Client
}

// Searcher scrapes results and summarises them with the oracle.
type Searcher struct {
	cfg     Config
	client  *http.Client
	oracle  llm.Client
	limiter *rate.Limiter
}

var _ retrieval.Retriever = (*Searcher)(nil)

// New returns a web-search collaborator. oracle may be nil, in which case
// the snippets are joined into the answer without summarisation.
func New(oracle llm.Client, cfg Config) *Searcher {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if cfg.QPS <= 0 {
		cfg.QPS = 1
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Searcher{
		cfg:     cfg,
		client:  client,
		oracle:  oracle,
		limiter: rate.NewLimiter(rate.Limit(cfg.QPS), 1),
	}
}

// Retrieve implements retrieval.Retriever.
func (s *Searcher) Retrieve(ctx context.Context, subQuery string) (*retrieval.SourceResult, error) {
	results, err := s.Search(ctx, subQuery)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return &retrieval.SourceResult{Answer: "", Sources: []string{}, Metadata: []map[string]any{}}, nil
	}

	docs := make([]string, 0, len(results))
	meta := make([]map[string]any, 0, len(results))
	var numbered strings.Builder
	for i, r := range results {
		doc := strings.TrimSpace(r.Title + "\n" + r.URL + "\n" + r.Snippet)
		docs = append(docs, doc)
		meta = append(meta, map[string]any{"title": r.Title, "url": r.URL, "rank": i + 1})
		fmt.Fprintf(&numbered, "[%d] %s\n", i+1, doc)
	}

	answer := ""
	if s.oracle != nil {
		resp, err := s.oracle.Generate(ctx, &llm.GenerateRequest{
			Stage:  "websearch",
			System: answerSystem,
			Prompt: fmt.Sprintf("Question: %s\n\nSearch results:\n%s", subQuery, numbered.String()),
		})
		if err != nil {
			return nil, fmt.Errorf("websearch: summarise: %w", err)
		}
		answer = strings.TrimSpace(resp.Text)
	} else {
		answer = strings.TrimSpace(numbered.String())
	}

	return &retrieval.SourceResult{Answer: answer, Sources: docs, Metadata: meta}, nil
}

// Search posts the query to the lite endpoint and parses the result table.
func (s *Searcher) Search(ctx context.Context, query string) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("websearch: empty query: %w", ferrors.ErrInvalidInput)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("websearch: %w", err)
	}

	form := url.Values{}
	form.Set("q", query)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("websearch: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("websearch: %s: %w", resp.Status, ferrors.ErrRateLimited)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("websearch: http %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("websearch: parse results: %w", err)
	}
	return parseResults(doc, s.cfg.MaxResults), nil
}

// parseResults reads result-link anchors and pairs each with the next
// result-snippet cell.
func parseResults(doc *goquery.Document, max int) []Result {
	links := doc.Find("a.result-link")
	snippets := doc.Find("td.result-snippet")

	var out []Result
	seen := make(map[string]struct{})
	links.EachWithBreak(func(i int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		href = resolveRedirect(strings.TrimSpace(href))
		title := preprocess.CleanBasic(a.Text())
		if href == "" || title == "" {
			return true
		}
		if _, dup := seen[href]; dup {
			return true
		}
		seen[href] = struct{}{}

		snippet := ""
		if i < snippets.Length() {
			snippet = preprocess.CleanBasic(snippets.Eq(i).Text())
		}
		out = append(out, Result{Title: title, URL: href, Snippet: snippet})
		return len(out) < max
	})
	return out
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg= redirect links.
func resolveRedirect(href string) string {
	if !strings.Contains(href, "uddg=") {
		return href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}
