// File: cmd/client.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/scriptforge/api/schemas"
	"github.com/xkilldash9x/scriptforge/internal/api"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// apiClient talks to a running `scriptforge serve`, which owns live executions.
type apiClient struct {
	base       string
	httpClient *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// serverURL derives a client URL from a listen address such as ":8080".
func serverURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

func (c *apiClient) listExecutions(ctx context.Context, filter schemas.ExecutionFilter) (*api.ExecutionPage, error) {
	q := url.Values{}
	if filter.ScriptID != "" {
		q.Set("script_id", filter.ScriptID)
	}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.Page > 0 {
		q.Set("page", strconv.Itoa(filter.Page))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	var page api.ExecutionPage
	if err := c.do(ctx, http.MethodGet, "/api/v1/executions?"+q.Encode(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *apiClient) getExecution(ctx context.Context, id string) (*schemas.Execution, error) {
	var exec schemas.Execution
	if err := c.do(ctx, http.MethodGet, "/api/v1/executions/"+url.PathEscape(id), &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

func (c *apiClient) executionLogs(ctx context.Context, id string) ([]schemas.LogEntry, error) {
	var logs []schemas.LogEntry
	if err := c.do(ctx, http.MethodGet, "/api/v1/executions/"+url.PathEscape(id)+"/logs", &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

func (c *apiClient) stopExecution(ctx context.Context, id string) (*schemas.Execution, error) {
	var exec schemas.Execution
	if err := c.do(ctx, http.MethodPost, "/api/v1/executions/"+url.PathEscape(id)+"/stop", &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

// do performs a request and unwraps the response envelope into out.
func (c *apiClient) do(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("server unreachable at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	var env struct {
		Status string              `json:"status"`
		Data   jsoniter.RawMessage `json:"data"`
		Error  string              `json:"error"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("unexpected response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, env.Error)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}
