package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/starford/scivault/internal/models"
)

// Default remote endpoints.
const (
	DefaultGraphQLURL = "https://uploader.irys.xyz/graphql"
	DefaultGatewayURL = "https://gateway.irys.xyz"
)

// maxEntryBytes caps a single fetched entry.
const maxEntryBytes = 256 << 20

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	Op         string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("storage: %s: unexpected status %s", e.Op, e.Status)
}

// Gateway talks to the remote store: tag queries over GraphQL and byte
// fetches over plain HTTP GET.
type Gateway struct {
	graphqlURL string
	gatewayURL string
	userAgent  string
	client     *http.Client
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) GatewayOption {
	return func(g *Gateway) { g.client = c }
}

// WithUserAgent sets the User-Agent header on every request.
func WithUserAgent(ua string) GatewayOption {
	return func(g *Gateway) { g.userAgent = ua }
}

// NewGateway creates a Gateway. Empty URLs fall back to the public endpoints.
func NewGateway(graphqlURL, gatewayURL string, opts ...GatewayOption) (*Gateway, error) {
	if graphqlURL == "" {
		graphqlURL = DefaultGraphQLURL
	}
	if gatewayURL == "" {
		gatewayURL = DefaultGatewayURL
	}
	for _, raw := range []string{graphqlURL, gatewayURL} {
		if _, err := url.ParseRequestURI(raw); err != nil {
			return nil, fmt.Errorf("storage: invalid url %q: %w", raw, err)
		}
	}
	g := &Gateway{
		graphqlURL: graphqlURL,
		gatewayURL: strings.TrimRight(gatewayURL, "/"),
		client:     http.DefaultClient,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Name implements Provider.
func (g *Gateway) Name() string { return "gateway" }

type graphqlRequest struct {
	Query string `json:"query"`
}

type graphqlResponse struct {
	Data struct {
		Transactions struct {
			Edges []struct {
				Node models.StorageEntry `json:"node"`
			} `json:"edges"`
		} `json:"transactions"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// BuildQuery renders q as a GraphQL transactions query.
func BuildQuery(q models.Query) string {
	var b strings.Builder
	b.WriteString("query {\n  transactions(\n    tags: [\n")
	for _, f := range q.Filters() {
		name, _ := json.Marshal(f.Name)
		values, _ := json.Marshal(f.Values)
		fmt.Fprintf(&b, "      { name: %s, values: %s }\n", name, values)
	}
	b.WriteString("    ]\n")
	if q.Limit > 0 {
		fmt.Fprintf(&b, "    first: %d\n", q.Limit)
	}
	if q.Descending {
		b.WriteString("    order: DESC\n")
	}
	b.WriteString("  ) {\n    edges {\n      node {\n        id\n        timestamp\n        tags {\n          name\n          value\n        }\n      }\n    }\n  }\n}\n")
	return b.String()
}

// Query implements Provider.
func (g *Gateway) Query(ctx context.Context, q models.Query) ([]models.StorageEntry, error) {
	body, err := json.Marshal(graphqlRequest{Query: BuildQuery(q)})
	if err != nil {
		return nil, fmt.Errorf("storage: encode query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.graphqlURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("storage: build query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	g.setUserAgent(req)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage: query: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Op: "query", StatusCode: resp.StatusCode, Status: resp.Status}
	}

	var out graphqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("storage: decode query response: %w", err)
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("storage: graphql: %s", out.Errors[0].Message)
	}
	entries := make([]models.StorageEntry, 0, len(out.Data.Transactions.Edges))
	for _, edge := range out.Data.Transactions.Edges {
		entries = append(entries, edge.Node)
	}
	return entries, nil
}

// Fetch implements Provider.
func (g *Gateway) Fetch(ctx context.Context, id string) ([]byte, error) {
	if id == "" || strings.ContainsAny(id, "/?#") {
		return nil, fmt.Errorf("storage: invalid id: %q", id)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.gatewayURL+"/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("storage: build fetch request: %w", err)
	}
	g.setUserAgent(req)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch %s: %w", id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Op: "fetch " + id, StatusCode: resp.StatusCode, Status: resp.Status}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxEntryBytes+1))
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", id, err)
	}
	if len(data) > maxEntryBytes {
		return nil, fmt.Errorf("storage: entry %s exceeds %d bytes", id, maxEntryBytes)
	}
	return data, nil
}

func (g *Gateway) setUserAgent(req *http.Request) {
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}
}
