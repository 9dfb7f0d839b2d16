package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config holds the configuration for connecting to the risk API.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
	Chain  string // Default chain when a tool call names none, e.g. "ethereum"
}

// Client is a pure HTTP client for the risk API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a new API client.
func NewClient(cfg Config) *Client {
	if cfg.Chain == "" {
		cfg.Chain = "ethereum"
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Errors  []string `json:"errors"`
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(strings.TrimRight(c.cfg.APIURL, "/") + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			if len(apiErr.Errors) > 0 {
				return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, strings.Join(apiErr.Errors, "; "))
			}
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

func (c *Client) chainPath(chainName, kind string) string {
	if chainName == "" {
		chainName = c.cfg.Chain
	}
	return "/api/v1/chains/" + url.PathEscape(chainName) + "/" + kind + "/risk-profiles"
}

// AssessTransaction requests the risk profile of a pending transaction.
func (c *Client) AssessTransaction(ctx context.Context, chainName string, tx map[string]string, dappURL string) (json.RawMessage, error) {
	body := map[string]any{"transaction": tx}
	if dappURL != "" {
		body["metadata"] = map[string]string{"url": dappURL}
	}
	return c.doRequest(ctx, http.MethodPost, c.chainPath(chainName, "transactions"), nil, body)
}

// AssessMessage requests the risk profile of an EIP-712 typed message.
func (c *Client) AssessMessage(ctx context.Context, chainName string, typedData map[string]any, dappURL string) (json.RawMessage, error) {
	body := map[string]any{"message": typedData}
	if dappURL != "" {
		body["metadata"] = map[string]string{"url": dappURL}
	}
	return c.doRequest(ctx, http.MethodPost, c.chainPath(chainName, "messages"), nil, body)
}

// AssessUser requests the risk profile of a wallet, by address or ENS name.
func (c *Client) AssessUser(ctx context.Context, chainName, address, ens string) (json.RawMessage, error) {
	user := map[string]string{}
	if address != "" {
		user["address"] = address
	}
	if ens != "" {
		user["ens"] = ens
	}
	return c.doRequest(ctx, http.MethodPost, c.chainPath(chainName, "users"), nil, map[string]any{"user": user})
}

// RecentAssessments lists logged assessments, most recent first.
func (c *Client) RecentAssessments(ctx context.Context, subject string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if subject != "" {
		q.Set("subject", subject)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/api/v1/assessments", q, nil)
}
