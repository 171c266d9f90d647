// Package client talks to a running runbox server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/michaelbrown/runbox/internal/pipeline"
	"github.com/michaelbrown/runbox/internal/submission"
)

// DefaultEndpoint is used when neither a flag nor ENDPOINT is set.
const DefaultEndpoint = "http://localhost:3000/api/execute/"

// Endpoint resolves the execute URL: the flag value, else $ENDPOINT, else
// DefaultEndpoint.
func Endpoint(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv("ENDPOINT"); env != "" {
		return env
	}
	return DefaultEndpoint
}

type Client struct {
	endpoint string
	http     *http.Client
}

func New(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

// Execute posts a submission and decodes the reply. Non-2xx replies are not
// errors: the status is in the returned Response.
func (c *Client) Execute(ctx context.Context, req submission.Request) (*pipeline.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("posting submission: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var out pipeline.Response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out.Status == 0 {
		out.Status = resp.StatusCode
	}
	out.ID = resp.Header.Get("X-Execution-Id")
	return &out, nil
}

// Get fetches a JSON document relative to the server root of the endpoint,
// for example "/api/rubrics".
func (c *Client) Get(ctx context.Context, path string, v any) error {
	base := c.endpoint
	if i := strings.Index(base, "/api/"); i >= 0 {
		base = base[:i]
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
