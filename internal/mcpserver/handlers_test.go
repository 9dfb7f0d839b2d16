package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	h := NewHandlers(NewClient(Config{APIURL: ts.URL}))
	return h, ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

const blockedApproval = `{
	"chain": "ETHEREUM",
	"network": "MAINNET",
	"counterparty_details": {"name": "USD Coin"},
	"tx_type": "ERC20_APPROVAL",
	"risk_profiles": {
		"summary": {"result": "BLOCK", "counts": {"LOW": 0, "MEDIUM": 0, "HIGH": 2}},
		"data": [
			{"risk_profile_type": "HIGH", "risk_type": "APPROVAL_TO_EOA", "text": "You are giving approval to an EOA"},
			{"risk_profile_type": "HIGH", "risk_type": "LARGE_APPROVAL", "text": "Unlimited approval"}
		]
	},
	"simulation": {"status": "SUCCESS", "failure_text": "", "balances": [
		{"before": {"value": "1.5", "token": "ETH"}, "after": {"value": "1.49", "token": "ETH"}}
	]}
}`

// ============================================================
// Client tests
// ============================================================

func TestClient_PathsAndBodies(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = nil
		_ = json.Unmarshal(b, &gotBody)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL + "/"})
	ctx := context.Background()

	_, err := client.AssessTransaction(ctx, "", map[string]string{"from": "0x1"}, "https://app.example")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/chains/ethereum/transactions/risk-profiles", gotPath)
	assert.Equal(t, map[string]any{"url": "https://app.example"}, gotBody["metadata"])

	_, err = client.AssessMessage(ctx, "polygon", map[string]any{"primaryType": "Permit"}, "")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/chains/polygon/messages/risk-profiles", gotPath)
	assert.NotContains(t, gotBody, "metadata")

	_, err = client.AssessUser(ctx, "bsc", "", "vitalik.eth")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/chains/bsc/users/risk-profiles", gotPath)
	assert.Equal(t, map[string]any{"ens": "vitalik.eth"}, gotBody["user"])
}

func TestClient_RecentAssessmentsQuery(t *testing.T) {
	var gotQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"assessments":[]}`))
	}))
	defer ts.Close()

	_, err := NewClient(Config{APIURL: ts.URL}).RecentAssessments(context.Background(), "0xabc", 5)
	require.NoError(t, err)
	assert.Equal(t, "limit=5&subject=0xabc", gotQuery)
}

func TestClient_DoRequest_HTTPErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   []string
	}{
		{
			name:   "validation errors",
			status: http.StatusBadRequest,
			body:   `{"error":"validation_failed","message":"transaction.from: is required","errors":["transaction.from is required","transaction.to should be valid ethereum address"]}`,
			want:   []string{"400", "transaction.from is required; transaction.to should be valid ethereum address"},
		},
		{
			name:   "api message",
			status: http.StatusBadRequest,
			body:   `{"error":"validation_failed","message":"user.ens should be valid a ENS name"}`,
			want:   []string{"400", "user.ens should be valid a ENS name"},
		},
		{
			name:   "non json",
			status: http.StatusBadGateway,
			body:   "upstream timeout",
			want:   []string{"502", "upstream timeout"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			_, err := NewClient(Config{APIURL: ts.URL}).AssessUser(context.Background(), "", "0x1", "")
			require.Error(t, err)
			for _, w := range tt.want {
				assert.Contains(t, err.Error(), w)
			}
		})
	}
}

func TestClient_DoRequest_ConnectionRefused(t *testing.T) {
	client := NewClient(Config{APIURL: "http://127.0.0.1:1"})
	_, err := client.AssessUser(context.Background(), "", "0x1", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

// ============================================================
// Handler tests
// ============================================================

func TestHandleAssessTransaction(t *testing.T) {
	var got map[string]any
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(blockedApproval))
	}))
	defer cleanup()

	result, err := h.HandleAssessTransaction(context.Background(), makeRequest(map[string]any{
		"from": "0xabc",
		"to":   "0xdef",
		"data": "0x095ea7b3",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Verdict: BLOCK")
	assert.Contains(t, text, "Type: ERC20_APPROVAL")
	assert.Contains(t, text, "Counterparty: USD Coin")
	assert.Contains(t, text, "Findings (HIGH 2, MEDIUM 0, LOW 0)")
	assert.Contains(t, text, "[HIGH] APPROVAL_TO_EOA: You are giving approval to an EOA")
	assert.Contains(t, text, "Simulation: SUCCESS")
	assert.Contains(t, text, "1.5 ETH -> 1.49 ETH")

	tx := got["transaction"].(map[string]any)
	assert.Equal(t, "0", tx["value"], "value defaults to zero")
}

func TestHandleAssessTransaction_MissingFrom(t *testing.T) {
	h, cleanup := newTestSetup(http.NotFoundHandler())
	defer cleanup()

	result, err := h.HandleAssessTransaction(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "from is required")
}

func TestHandleAssessMessage(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"chain":"ETHEREUM","network":"MAINNET","message_type":"ERC20_APPROVAL",
			"risk_profiles":{"summary":{"result":"ALLOW","counts":{"LOW":0,"MEDIUM":0,"HIGH":0}},"data":[]}}`))
	}))
	defer cleanup()

	result, err := h.HandleAssessMessage(context.Background(), makeRequest(map[string]any{
		"typed_data": map[string]any{"primaryType": "Permit"},
	}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Verdict: ALLOW")
	assert.Contains(t, text, "Message: ERC20_APPROVAL")
	assert.Contains(t, text, "No findings.")
	assert.NotContains(t, text, "Simulation")
}

func TestHandleAssessMessage_RequiresObject(t *testing.T) {
	h, cleanup := newTestSetup(http.NotFoundHandler())
	defer cleanup()

	result, err := h.HandleAssessMessage(context.Background(), makeRequest(map[string]any{"typed_data": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleAssessUser(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"chain":"ETHEREUM","network":"MAINNET",
			"user":{"address":"0xd8da6bf26964af9d7eed9e03e53415d37aa96045","ens":"vitalik.eth","type":"EOA"},
			"risk_profiles":{"summary":{"result":"ALLOW"}}}`))
	}))
	defer cleanup()

	result, err := h.HandleAssessUser(context.Background(), makeRequest(map[string]any{"ens": "vitalik.eth"}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "User: 0xd8da6bf26964af9d7eed9e03e53415d37aa96045 (EOA)")
	assert.Contains(t, text, "ENS: vitalik.eth")
}

func TestHandleAssessUser_NeedsAddressOrENS(t *testing.T) {
	h, cleanup := newTestSetup(http.NotFoundHandler())
	defer cleanup()

	result, err := h.HandleAssessUser(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "address or ens is required")
}

func TestHandleAssessUser_APIError(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"validation_failed","message":"user.ens should be valid a ENS name"}`))
	}))
	defer cleanup()

	result, err := h.HandleAssessUser(context.Background(), makeRequest(map[string]any{"ens": "not-a-name"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "user.ens should be valid a ENS name")
}

func TestHandleRecentAssessments(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"assessments":[
			{"id":"a","kind":"transaction","chain":"ETHEREUM","subject":"0xabc","tx_type":"ERC20_APPROVAL","result":"BLOCK","created_at":"2026-01-01T00:00:00Z"},
			{"id":"b","kind":"user","chain":"POLYGON","subject":"","result":"ALLOW","created_at":"2026-01-01T00:01:00Z"}
		],"count":2}`))
	}))
	defer cleanup()

	result, err := h.HandleRecentAssessments(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Found 2 assessment(s)")
	assert.Contains(t, text, "1. 2026-01-01T00:00:00Z transaction on ETHEREUM: BLOCK")
	assert.Contains(t, text, "Subject: 0xabc")
	assert.Contains(t, text, "Type: ERC20_APPROVAL")
}

func TestFormatAssessment_NoVerdict(t *testing.T) {
	_, err := formatAssessment(json.RawMessage(`{"chain":"ETHEREUM"}`))
	assert.Error(t, err)
}

func TestFormatAssessmentList_Empty(t *testing.T) {
	text, err := formatAssessmentList(json.RawMessage(`{"assessments":[]}`))
	require.NoError(t, err)
	assert.Equal(t, "No assessments found.", text)
}

func TestNewMCPServer(t *testing.T) {
	s := NewMCPServer(Config{APIURL: "http://localhost:8080"})
	require.NotNil(t, s)
}
