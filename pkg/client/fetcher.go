package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rmax-ai/policycanvas/pkg/graph"
)

// DefaultFetchAttempts is how often a policy graph fetch is tried.
const DefaultFetchAttempts = 4

// PolicyFetcher loads policy graphs from a policy service with
// GET <endpoint>/policies/<id>/graph.
type PolicyFetcher struct {
	endpoint string
	http     *http.Client
	backoff  BackoffStrategy
	attempts int
}

// NewPolicyFetcher creates a fetcher for the policy service at endpoint.
func NewPolicyFetcher(endpoint string) *PolicyFetcher {
	return &PolicyFetcher{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     &http.Client{Timeout: 10 * time.Second},
		backoff:  DefaultBackoff(),
		attempts: DefaultFetchAttempts,
	}
}

// WithBackoff replaces the retry strategy and attempt count.
func (f *PolicyFetcher) WithBackoff(b BackoffStrategy, attempts int) *PolicyFetcher {
	f.backoff = b
	if attempts > 0 {
		f.attempts = attempts
	}
	return f
}

// FetchPolicyGraph fetches the graph of one policy. Network errors and 5xx
// replies are retried; 4xx replies are not.
func (f *PolicyFetcher) FetchPolicyGraph(ctx context.Context, policyID string) (graph.Graph, error) {
	if policyID == "" {
		return graph.Graph{}, errors.New("policy id is required")
	}
	target := fmt.Sprintf("%s/policies/%s/graph", f.endpoint, url.PathEscape(policyID))

	var g graph.Graph
	err := retry(ctx, f.backoff, f.attempts, func() (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return true, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := f.http.Do(req)
		if err != nil {
			return false, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("policy service responded with status: %d", resp.StatusCode)
			return resp.StatusCode < 500, err
		}

		g = graph.Graph{}
		if err := json.NewDecoder(resp.Body).Decode(&g); err != nil {
			return true, fmt.Errorf("failed to decode policy graph: %w", err)
		}
		return false, nil
	})
	if err != nil {
		return graph.Graph{}, fmt.Errorf("fetch policy %s: %w", policyID, err)
	}
	return g, nil
}
