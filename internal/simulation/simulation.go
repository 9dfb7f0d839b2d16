// Package simulation runs a pending transaction through the Tenderly
// simulator and reports the sender's balance changes.
package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"

	"github.com/LukasBures/olynthus/internal/calldata"
	"github.com/LukasBures/olynthus/internal/chain"
	"github.com/LukasBures/olynthus/internal/explorer"
	"github.com/LukasBures/olynthus/internal/logging"
	"github.com/LukasBures/olynthus/internal/risk"
	"github.com/LukasBures/olynthus/internal/traces"
	"github.com/LukasBures/olynthus/internal/units"
	"github.com/LukasBures/olynthus/internal/upstream"
)

// Status is the outcome of a simulation.
type Status string

const (
	Success Status = "SUCCESS"
	Failure Status = "FAILURE"
)

const (
	defaultGas      = 21000
	defaultGasPrice = "1000000000"

	// slugNotAllowed is returned by Tenderly when the account may not run
	// simulations right now. It is reported as a success without balances.
	slugNotAllowed = "intent_execution_not_allowed"

	unexpectedError = "unexpected error"
)

// Amount is a value in a token.
type Amount struct {
	Value string `json:"value"`
	Token string `json:"token"`
}

// Balance is one balance before and after the transaction.
type Balance struct {
	Before Amount `json:"before"`
	After  Amount `json:"after"`
}

// Result is the simulation block of a transaction assessment.
type Result struct {
	Status      Status    `json:"status"`
	FailureText string    `json:"failure_text"`
	Balances    []Balance `json:"balances"`
}

func succeeded(balances ...Balance) Result {
	if balances == nil {
		balances = []Balance{}
	}
	return Result{Status: Success, Balances: balances}
}

func failed(text string) Result {
	return Result{Status: Failure, FailureText: text, Balances: []Balance{}}
}

// Transaction is the transaction to simulate. Value is in ether.
type Transaction struct {
	From     string
	To       string
	Value    string
	Data     string
	Gas      string
	GasPrice string
}

// Tokens looks up token metadata. *multiplexer.Multiplexer satisfies it.
type Tokens interface {
	TokenInfo(ctx context.Context, c chain.Chain, n chain.Network, address string) (explorer.TokenInfo, bool)
}

// Simulator is what the engine needs from this package.
type Simulator interface {
	Simulate(ctx context.Context, tx Transaction, txType risk.TxType, c chain.Chain, n chain.Network) Result
}

// Client is a Tenderly simulator. Safe for concurrent use.
type Client struct {
	url     string
	http    *upstream.Client
	tokens  Tokens
	enabled bool
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// Disabled makes every simulation succeed with no balances.
func Disabled() Option {
	return func(c *Client) { c.enabled = false }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = logging.Component(l, "simulation") }
}

// New creates a client posting to url. The access key travels as an
// X-Access-Key header set on http.
func New(url string, http *upstream.Client, tokens Tokens, opts ...Option) *Client {
	c := &Client{
		url:     url,
		http:    http,
		tokens:  tokens,
		enabled: true,
		logger:  logging.Component(nil, "simulation"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type request struct {
	NetworkID      string      `json:"network_id"`
	From           string      `json:"from"`
	To             string      `json:"to"`
	Value          json.Number `json:"value"`
	Input          string      `json:"input"`
	Gas            int64       `json:"gas"`
	GasPrice       string      `json:"gas_price"`
	SaveIfFails    bool        `json:"save_if_fails"`
	Save           bool        `json:"save"`
	SimulationType string      `json:"simulation_type"`
}

type rawSlot struct {
	Original string `json:"original"`
	Dirty    string `json:"dirty"`
}

type response struct {
	Simulation struct {
		Status bool `json:"status"`
	} `json:"simulation"`
	Transaction struct {
		ErrorMessage    string `json:"error_message"`
		TransactionInfo struct {
			BalanceDiff []struct {
				Address  string `json:"address"`
				Original string `json:"original"`
				Dirty    string `json:"dirty"`
			} `json:"balance_diff"`
			StateDiff []struct {
				Raw []rawSlot `json:"raw"`
			} `json:"state_diff"`
		} `json:"transaction_info"`
	} `json:"transaction"`
}

type errorBody struct {
	Error struct {
		Slug    string `json:"slug"`
		Message string `json:"message"`
	} `json:"error"`
}

// Simulate never returns an error: every failure becomes a FAILURE result.
func (c *Client) Simulate(ctx context.Context, tx Transaction, txType risk.TxType, ch chain.Chain, n chain.Network) Result {
	if !c.enabled {
		return succeeded()
	}
	ctx, span := traces.StartSpan(ctx, "simulation.simulate",
		traces.Chain(string(ch)), traces.Network(string(n)), traces.TxType(string(txType)))
	defer span.End()

	body, err := buildRequest(tx, ch, n)
	if err != nil {
		c.logger.Debug("simulation request rejected", "from", tx.From, "error", err)
		return failed(unexpectedError)
	}

	var resp response
	if err := c.http.PostJSON(ctx, c.url, body, &resp); err != nil {
		return c.upstreamFailure(err)
	}

	res, err := c.decode(ctx, &resp, tx, txType, ch, n)
	if err != nil {
		c.logger.Warn("simulation result undecodable", "from", tx.From, "error", err)
		return failed(unexpectedError)
	}
	return res
}

func buildRequest(tx Transaction, ch chain.Chain, n chain.Network) (request, error) {
	value, err := units.Parse(tx.Value, units.EtherDecimals)
	if err != nil {
		return request{}, fmt.Errorf("value %q: %w", tx.Value, err)
	}
	input := tx.Data
	if input == "" {
		input = "0x"
	}
	gas, err := strconv.ParseInt(tx.Gas, 10, 64)
	if err != nil || gas == 0 {
		gas = defaultGas
	}
	gasPrice := tx.GasPrice
	if gasPrice == "" {
		gasPrice = defaultGasPrice
	}
	return request{
		NetworkID:      strconv.FormatInt(chain.ID(ch, n), 10),
		From:           tx.From,
		To:             tx.To,
		Value:          json.Number(value.String()),
		Input:          input,
		Gas:            gas,
		GasPrice:       gasPrice,
		SimulationType: "quick",
	}, nil
}

func (c *Client) upstreamFailure(err error) Result {
	var se *upstream.StatusError
	if !errors.As(err, &se) {
		c.logger.Warn("simulation unavailable", "error", err)
		return failed(unexpectedError)
	}
	var body errorBody
	if json.Unmarshal(se.Body, &body) != nil {
		return failed(unexpectedError)
	}
	if body.Error.Slug == slugNotAllowed {
		return succeeded()
	}
	return failed(body.Error.Message)
}

func (c *Client) decode(ctx context.Context, resp *response, tx Transaction, txType risk.TxType, ch chain.Chain, n chain.Network) (Result, error) {
	if !resp.Simulation.Status {
		return failed(resp.Transaction.ErrorMessage), nil
	}

	native, err := c.nativeBalance(resp, tx.From, ch)
	if err != nil {
		return Result{}, err
	}

	switch txType {
	case risk.ERC20Transfer:
		slot, ok := firstDecrease(resp)
		if !ok {
			return Result{}, errors.New("no decreasing storage slot")
		}
		token, _ := c.tokens.TokenInfo(ctx, ch, n, tx.To)
		decimals := token.Decimals
		if decimals == 0 {
			decimals = units.EtherDecimals
		}
		return succeeded(native, Balance{
			Before: Amount{Value: units.Format(slot.original, decimals), Token: token.Symbol},
			After:  Amount{Value: units.Format(slot.dirty, decimals), Token: token.Symbol},
		}), nil

	case risk.ERC721Transfer, risk.ERC1155Transfer:
		value, symbol := c.transferred(ctx, tx, ch, n)
		return succeeded(native, Balance{
			Before: Amount{Value: value, Token: symbol},
			After:  Amount{Value: "0", Token: symbol},
		}), nil
	}
	return succeeded(native), nil
}

func (c *Client) nativeBalance(resp *response, from string, ch chain.Chain) (Balance, error) {
	token := chain.NativeCurrency(ch)
	for _, d := range resp.Transaction.TransactionInfo.BalanceDiff {
		if !strings.EqualFold(d.Address, from) {
			continue
		}
		before, ok1 := new(big.Int).SetString(d.Original, 10)
		after, ok2 := new(big.Int).SetString(d.Dirty, 10)
		if !ok1 || !ok2 {
			return Balance{}, fmt.Errorf("balance of %s is not an integer", from)
		}
		return Balance{
			Before: Amount{Value: units.Format(before, units.EtherDecimals), Token: token},
			After:  Amount{Value: units.Format(after, units.EtherDecimals), Token: token},
		}, nil
	}
	return Balance{}, fmt.Errorf("no balance change for %s", from)
}

type slotChange struct {
	original, dirty *big.Int
}

// firstDecrease finds the first raw storage slot whose value went down,
// which for a token transfer is the sender's balance.
func firstDecrease(resp *response) (slotChange, bool) {
	for _, diff := range resp.Transaction.TransactionInfo.StateDiff {
		for _, raw := range diff.Raw {
			o, ok1 := parseHex(raw.Original)
			d, ok2 := parseHex(raw.Dirty)
			if ok1 && ok2 && o.Cmp(d) > 0 {
				return slotChange{original: o, dirty: d}, true
			}
		}
	}
	return slotChange{}, false
}

func parseHex(s string) (*big.Int, bool) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	if s == "" {
		return new(big.Int), true
	}
	return new(big.Int).SetString(s, 16)
}

// transferred is the NFT amount leaving the sender and the token symbol.
// safeBatchTransferFrom reports the sum of its amounts.
func (c *Client) transferred(ctx context.Context, tx Transaction, ch chain.Chain, n chain.Network) (string, string) {
	call, err := calldata.DecodeTransfer(tx.Data)
	if err != nil {
		return "0", ""
	}
	sel := calldata.SelectorOf(tx.Data)
	switch sel {
	case calldata.SafeBatchTransferFrom:
		total := new(big.Int)
		for _, a := range call.Amounts {
			total.Add(total, a)
		}
		return total.String(), ""
	case calldata.SafeTransferFromAmount, calldata.SafeTransferFromData:
		return call.Value.String(), ""
	}
	token, _ := c.tokens.TokenInfo(ctx, ch, n, tx.To)
	return call.Value.String(), token.Symbol
}
