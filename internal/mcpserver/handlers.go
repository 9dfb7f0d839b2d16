package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *Client) *Handlers {
	return &Handlers{client: client}
}

// HandleAssessTransaction profiles a pending transaction.
func (h *Handlers) HandleAssessTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from := req.GetString("from", "")
	if from == "" {
		return mcp.NewToolResultError("from is required"), nil
	}
	tx := map[string]string{
		"from":  from,
		"to":    req.GetString("to", ""),
		"value": req.GetString("value", "0"),
		"data":  req.GetString("data", ""),
	}

	raw, err := h.client.AssessTransaction(ctx, req.GetString("chain", ""), tx, req.GetString("url", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to assess transaction: %v", err)), nil
	}

	text, err := formatAssessment(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse assessment: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleAssessMessage profiles a typed message.
func (h *Handlers) HandleAssessMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typed, ok := req.GetArguments()["typed_data"].(map[string]any)
	if !ok {
		return mcp.NewToolResultError("typed_data is required and must be an object"), nil
	}

	raw, err := h.client.AssessMessage(ctx, req.GetString("chain", ""), typed, req.GetString("url", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to assess message: %v", err)), nil
	}

	text, err := formatAssessment(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse assessment: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleAssessUser profiles a wallet.
func (h *Handlers) HandleAssessUser(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := req.GetString("address", "")
	ens := req.GetString("ens", "")
	if address == "" && ens == "" {
		return mcp.NewToolResultError("address or ens is required"), nil
	}

	raw, err := h.client.AssessUser(ctx, req.GetString("chain", ""), address, ens)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to assess user: %v", err)), nil
	}

	text, err := formatAssessment(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse assessment: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleRecentAssessments lists the audit log.
func (h *Handlers) HandleRecentAssessments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 10)

	raw, err := h.client.RecentAssessments(ctx, req.GetString("subject", ""), limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list assessments: %v", err)), nil
	}

	text, err := formatAssessmentList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse assessments: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// --- Formatting ---

type finding struct {
	Level string `json:"risk_profile_type"`
	Kind  string `json:"risk_type"`
	Text  string `json:"text"`
}

type assessment struct {
	Chain        string `json:"chain"`
	Network      string `json:"network"`
	TxType       string `json:"tx_type"`
	MessageType  string `json:"message_type"`
	Counterparty struct {
		Name string `json:"name"`
	} `json:"counterparty_details"`
	User *struct {
		Address string  `json:"address"`
		ENS     *string `json:"ens"`
		Type    string  `json:"type"`
	} `json:"user"`
	RiskProfiles struct {
		Summary struct {
			Result string         `json:"result"`
			Counts map[string]int `json:"counts"`
		} `json:"summary"`
		Data []finding `json:"data"`
	} `json:"risk_profiles"`
	Simulation *struct {
		Status      string `json:"status"`
		FailureText string `json:"failure_text"`
		Balances    []struct {
			Before struct{ Value, Token string } `json:"before"`
			After  struct{ Value, Token string } `json:"after"`
		} `json:"balances"`
	} `json:"simulation"`
}

func formatAssessment(raw json.RawMessage) (string, error) {
	var a assessment
	if err := json.Unmarshal(raw, &a); err != nil {
		return "", err
	}
	if a.RiskProfiles.Summary.Result == "" {
		return "", fmt.Errorf("no verdict in response")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Verdict: %s\n", a.RiskProfiles.Summary.Result)
	if a.Chain != "" {
		fmt.Fprintf(&sb, "Chain: %s (%s)\n", a.Chain, a.Network)
	}
	if a.TxType != "" {
		fmt.Fprintf(&sb, "Type: %s\n", a.TxType)
	}
	if a.MessageType != "" {
		fmt.Fprintf(&sb, "Message: %s\n", a.MessageType)
	}
	if a.Counterparty.Name != "" {
		fmt.Fprintf(&sb, "Counterparty: %s\n", a.Counterparty.Name)
	}
	if a.User != nil {
		if a.User.Address != "" {
			fmt.Fprintf(&sb, "User: %s", a.User.Address)
			if a.User.Type != "" {
				fmt.Fprintf(&sb, " (%s)", a.User.Type)
			}
			sb.WriteString("\n")
		}
		if a.User.ENS != nil && *a.User.ENS != "" {
			fmt.Fprintf(&sb, "ENS: %s\n", *a.User.ENS)
		}
	}

	if len(a.RiskProfiles.Data) == 0 {
		sb.WriteString("\nNo findings.\n")
	} else {
		c := a.RiskProfiles.Summary.Counts
		fmt.Fprintf(&sb, "\nFindings (HIGH %d, MEDIUM %d, LOW %d):\n", c["HIGH"], c["MEDIUM"], c["LOW"])
		for _, f := range a.RiskProfiles.Data {
			fmt.Fprintf(&sb, "  [%s] %s: %s\n", f.Level, f.Kind, f.Text)
		}
	}

	if s := a.Simulation; s != nil && s.Status != "" {
		fmt.Fprintf(&sb, "\nSimulation: %s\n", s.Status)
		if s.FailureText != "" {
			fmt.Fprintf(&sb, "  %s\n", s.FailureText)
		}
		for _, b := range s.Balances {
			fmt.Fprintf(&sb, "  %s %s -> %s %s\n", b.Before.Value, b.Before.Token, b.After.Value, b.After.Token)
		}
	}

	return sb.String(), nil
}

func formatAssessmentList(raw json.RawMessage) (string, error) {
	var resp struct {
		Assessments []map[string]any `json:"assessments"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected assessments response format")
	}

	if len(resp.Assessments) == 0 {
		return "No assessments found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d assessment(s):\n\n", len(resp.Assessments))
	for i, a := range resp.Assessments {
		fmt.Fprintf(&sb, "%d. %s %s on %s: %s\n", i+1,
			getString(a, "created_at"), getString(a, "kind"), getString(a, "chain"), getString(a, "result"))
		if subject := getString(a, "subject"); subject != "" {
			fmt.Fprintf(&sb, "   Subject: %s\n", subject)
		}
		if txType := getString(a, "tx_type"); txType != "" {
			fmt.Fprintf(&sb, "   Type: %s\n", txType)
		}
	}
	return sb.String(), nil
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}
