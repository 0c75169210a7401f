package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// agentKeyHeader carries the shared secret on outbound platform calls. The
// same header authenticates the platform's callbacks into the gateway.
const agentKeyHeader = "X-Agent-Key"

// HTTPAgentClient is an HTTP implementation of the AgentPlatform interface.
type HTTPAgentClient struct {
	baseURL string
	secret  string
	client  *http.Client
}

// NewHTTPAgentClient creates a new HTTPAgentClient.
func NewHTTPAgentClient(baseURL, secret string, timeout time.Duration) *HTTPAgentClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPAgentClient{
		baseURL: baseURL,
		secret:  secret,
		client:  &http.Client{Timeout: timeout},
	}
}

// StartPhase1 hands the workflow to the platform's Phase-1 entry point.
func (c *HTTPAgentClient) StartPhase1(ctx context.Context, phase1 Phase1Request) error {
	requestBody, err := json.Marshal(phase1)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/phase1/start", bytes.NewBuffer(requestBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(agentKeyHeader, c.secret)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach agent platform: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("agent platform rejected phase-1 start: status code %d", resp.StatusCode)
	}
	return nil
}
