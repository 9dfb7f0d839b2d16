package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/LukasBures/olynthus/internal/chain"
	"github.com/LukasBures/olynthus/internal/config"
	"github.com/LukasBures/olynthus/internal/explorer"
	"github.com/LukasBures/olynthus/internal/logging"
	"github.com/LukasBures/olynthus/internal/metrics"
)

// DefaultProbeTimeout bounds a liveness probe.
const DefaultProbeTimeout = 5 * time.Second

// Endpoints resolves provider URLs. *config.Config satisfies it.
type Endpoints interface {
	NodeURL(provider string, c chain.Chain, n chain.Network) string
	Explorer(c chain.Chain, n chain.Network) (config.Explorer, bool)
}

// Dialer opens a JSON-RPC client. It should not block on the network.
type Dialer func(ctx context.Context, rawurl string) (Node, error)

func dialEthclient(ctx context.Context, rawurl string) (Node, error) {
	return ethclient.DialContext(ctx, rawurl)
}

// Selection is the provider chosen for a call.
type Selection struct {
	Name     string
	Mode     Mode
	Node     Node
	Explorer *explorer.Client
}

// Pool owns provider clients. Clients are created on first use per
// (provider, chain, network) and kept for the pool's lifetime. Liveness is
// probed on every selection.
type Pool struct {
	endpoints    Endpoints
	dial         Dialer
	explorerOpts []explorer.Option
	probeTimeout time.Duration
	logger       *slog.Logger

	mu        sync.Mutex
	nodes     map[string]Node
	explorers map[string]*explorer.Client
}

// Option configures a Pool.
type Option func(*Pool)

// WithDialer replaces ethclient dialing; tests use it to inject fakes.
func WithDialer(d Dialer) Option {
	return func(p *Pool) { p.dial = d }
}

// WithExplorerOptions is passed to every explorer client the pool creates.
func WithExplorerOptions(opts ...explorer.Option) Option {
	return func(p *Pool) { p.explorerOpts = append(p.explorerOpts, opts...) }
}

// WithProbeTimeout sets the liveness probe timeout.
func WithProbeTimeout(d time.Duration) Option {
	return func(p *Pool) { p.probeTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.logger = logging.Component(l, "provider") }
}

// NewPool creates an empty pool over the given endpoints.
func NewPool(endpoints Endpoints, opts ...Option) *Pool {
	p := &Pool{
		endpoints:    endpoints,
		dial:         dialEthclient,
		probeTimeout: DefaultProbeTimeout,
		logger:       logging.Component(nil, "provider"),
		nodes:        make(map[string]Node),
		explorers:    make(map[string]*explorer.Client),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Select walks the category's priority list and returns the first provider
// that serves mode, is configured and answers its liveness probe. The block
// explorer is assumed live. Returns ErrNoProvider when nothing qualifies.
func (p *Pool) Select(ctx context.Context, c chain.Chain, n chain.Network, category Category, mode Mode) (*Selection, error) {
	names, ok := Priorities[category]
	if !ok {
		return nil, fmt.Errorf("%w: unknown category %q", ErrNoProvider, category)
	}

	for _, name := range names {
		if !Supports(name, mode) {
			continue
		}

		if name == BlockchainScan {
			ex := p.explorer(c, n)
			if ex == nil {
				p.record(category, name, "unconfigured")
				continue
			}
			p.record(category, name, "selected")
			return &Selection{Name: name, Mode: mode, Explorer: ex}, nil
		}

		node := p.node(ctx, name, c, n)
		if node == nil {
			p.record(category, name, "unconfigured")
			continue
		}
		if !p.alive(ctx, node, name, c, n) {
			p.record(category, name, "inactive")
			continue
		}
		p.record(category, name, "selected")
		return &Selection{Name: name, Mode: mode, Node: node}, nil
	}

	p.record(category, "", "none")
	return nil, fmt.Errorf("%w for %s on %s", ErrNoProvider, category, chain.Key(c, n))
}

// RPC selects a live JSON-RPC node for category.
func (p *Pool) RPC(ctx context.Context, c chain.Chain, n chain.Network, category Category) (Node, error) {
	sel, err := p.Select(ctx, c, n, category, ModeRPC)
	if err != nil {
		return nil, err
	}
	return sel.Node, nil
}

// Explorer selects the block-explorer client for the chain.
func (p *Pool) Explorer(ctx context.Context, c chain.Chain, n chain.Network) (*explorer.Client, error) {
	sel, err := p.Select(ctx, c, n, ContractDetails, ModeHTTPAPI)
	if err != nil {
		return nil, err
	}
	return sel.Explorer, nil
}

// Check reports whether at least one full node is live for the chain.
func (p *Pool) Check(ctx context.Context, c chain.Chain, n chain.Network) error {
	_, err := p.RPC(ctx, c, n, FullNode)
	return err
}

func (p *Pool) node(ctx context.Context, name string, c chain.Chain, n chain.Network) Node {
	key := name + "/" + chain.Key(c, n)

	p.mu.Lock()
	node, ok := p.nodes[key]
	p.mu.Unlock()
	if ok {
		return node
	}

	rawurl := p.endpoints.NodeURL(name, c, n)
	if rawurl == "" {
		return nil
	}
	node, err := p.dial(ctx, rawurl)
	if err != nil {
		p.logger.Warn("dial failed", "provider", name, "chain", c, "network", n, "error", err)
		return nil
	}

	// Redundant initialization under a race is harmless; keep the first.
	p.mu.Lock()
	if existing, ok := p.nodes[key]; ok {
		node = existing
	} else {
		p.nodes[key] = node
		p.logger.Debug("initialized provider", "provider", name, "chain", c, "network", n)
	}
	p.mu.Unlock()
	return node
}

func (p *Pool) explorer(c chain.Chain, n chain.Network) *explorer.Client {
	key := chain.Key(c, n)

	p.mu.Lock()
	defer p.mu.Unlock()
	if ex, ok := p.explorers[key]; ok {
		return ex
	}
	ep, ok := p.endpoints.Explorer(c, n)
	if !ok {
		return nil
	}
	ex := explorer.New(ep.URL, ep.APIKey, p.explorerOpts...)
	p.explorers[key] = ex
	return ex
}

func (p *Pool) alive(ctx context.Context, node Node, name string, c chain.Chain, n chain.Network) bool {
	pctx, cancel := context.WithTimeout(ctx, p.probeTimeout)
	defer cancel()
	if _, err := node.BlockNumber(pctx); err != nil {
		p.logger.Warn("provider is not active", "provider", name, "chain", c, "network", n, "error", err)
		return false
	}
	return true
}

func (p *Pool) record(category Category, name, outcome string) {
	metrics.ProviderSelectionsTotal.WithLabelValues(string(category), name, outcome).Inc()
}
