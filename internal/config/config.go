// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/LukasBures/olynthus/internal/chain"
)

// Dataset backends.
const (
	BackendMemory     = "memory"
	BackendPostgres   = "postgres"
	BackendClickHouse = "clickhouse"
)

// Node provider names, in the order they are documented.
const (
	ProviderArdaFullNode    = "arda_full_node"
	ProviderArdaArchiveNode = "arda_archive_node"
	ProviderArchiveNodeIO   = "archive_node_io"
	ProviderAnkr            = "ankr"
	ProviderInfura          = "infura"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string

	// Dataset store
	DatasetBackend string
	DatabaseURL    string
	ClickHouseURL  string

	// Node providers keyed by NodeKey(provider, chain, network).
	Nodes map[string]string

	// Block explorers keyed by chain.Key.
	Explorers            map[string]Explorer
	ExplorerRateLimit    int
	ExplorerRateInterval time.Duration

	// Collaborators
	DefiLlamaURL      string
	SimpleHashURL     string
	SimpleHashAPIKey  string
	TenderlyURL       string
	TenderlyAccessKey string
	SimulationEnabled bool
	UpstreamTimeout   time.Duration

	// Event sinks
	KafkaBrokers []string
	KafkaTopic   string

	// Tracing
	OTLPEndpoint string

	// Inbound rate limit, per client IP.
	RateLimitRPM int

	// Browser origins allowed to call the API. Empty allows all.
	CORSOrigins []string
}

// Explorer is an etherscan-compatible API endpoint.
type Explorer struct {
	URL    string
	APIKey string
}

const (
	DefaultPort                 = "8080"
	DefaultEnv                  = "development"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
	DefaultDatasetBackend       = BackendMemory
	DefaultExplorerRateLimit    = 5
	DefaultExplorerRateInterval = time.Second
	DefaultDefiLlamaURL         = "https://coins.llama.fi/"
	DefaultSimpleHashURL        = "https://api.simplehash.com/api/v0/nfts"
	DefaultUpstreamTimeout      = 10 * time.Second
	DefaultKafkaTopic           = "olynthus.assessments"
	DefaultRateLimitRPM         = 120
)

// NodeKey is the key of a node URL in Config.Nodes.
func NodeKey(provider string, c chain.Chain, n chain.Network) string {
	return provider + "/" + chain.Key(c, n)
}

// NodeURL returns the configured URL of a node provider, or "".
func (c *Config) NodeURL(provider string, ch chain.Chain, n chain.Network) string {
	return c.Nodes[NodeKey(provider, ch, n)]
}

// Explorer returns the explorer endpoint for a chain and network.
func (c *Config) Explorer(ch chain.Chain, n chain.Network) (Explorer, bool) {
	e, ok := c.Explorers[chain.Key(ch, n)]
	return e, ok && e.URL != ""
}

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", DefaultPort),
		Env:                  getEnv("ENV", DefaultEnv),
		LogLevel:             getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:            getEnv("LOG_FORMAT", DefaultLogFormat),
		DatasetBackend:       strings.ToLower(getEnv("DATASET_BACKEND", DefaultDatasetBackend)),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		ClickHouseURL:        os.Getenv("CLICKHOUSE_URL"),
		Nodes:                loadNodes(),
		Explorers:            loadExplorers(),
		ExplorerRateLimit:    int(getEnvInt64("SCAN_RATE_LIMIT", DefaultExplorerRateLimit)),
		ExplorerRateInterval: getEnvDuration("SCAN_RATE_INTERVAL", DefaultExplorerRateInterval),
		DefiLlamaURL:         getEnv("DEFILLAMA_COINS_API_URL", DefaultDefiLlamaURL),
		SimpleHashURL:        getEnv("SIMPLEHASH_API_URL", DefaultSimpleHashURL),
		SimpleHashAPIKey:     os.Getenv("SIMPLEHASH_API_KEY"),
		TenderlyURL:          os.Getenv("TENDERLY_API_URL"),
		TenderlyAccessKey:    os.Getenv("TENDERLY_ACCESS_KEY"),
		SimulationEnabled:    getEnvBool("SIMULATION_MODE", true),
		UpstreamTimeout:      getEnvDuration("UPSTREAM_TIMEOUT", DefaultUpstreamTimeout),
		KafkaBrokers:         splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:           getEnv("KAFKA_TOPIC", DefaultKafkaTopic),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPM:         int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		CORSOrigins:          splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	switch c.DatasetBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the %s dataset backend", BackendPostgres)
		}
	case BackendClickHouse:
		if c.ClickHouseURL == "" {
			return fmt.Errorf("CLICKHOUSE_URL is required for the %s dataset backend", BackendClickHouse)
		}
	default:
		return fmt.Errorf("DATASET_BACKEND must be one of memory, postgres, clickhouse (got %q)", c.DatasetBackend)
	}

	if c.ExplorerRateLimit <= 0 || c.ExplorerRateInterval <= 0 {
		return fmt.Errorf("SCAN_RATE_LIMIT and SCAN_RATE_INTERVAL must be positive")
	}
	if c.RateLimitRPM <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// KafkaEnabled reports whether assessment events go to Kafka.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

type nodeVar struct {
	provider string
	chain    chain.Chain
	network  chain.Network
	env      string
	// keyEnv, when set, is appended to the URL as a path segment.
	keyEnv string
}

var nodeVars = []nodeVar{
	{ProviderArdaFullNode, chain.Ethereum, chain.Mainnet, "NODE_ARDA_FULL_NODE_ETH_MAINNET", ""},
	{ProviderArdaArchiveNode, chain.Ethereum, chain.Mainnet, "NODE_ARDA_ARCHIVE_NODE_ETH_MAINNET", ""},
	{ProviderArchiveNodeIO, chain.Ethereum, chain.Mainnet, "NODE_ARCHIVE_NODE_IO_ETH_MAINNET", "NODE_ARCHIVE_NODE_IO_ETH_API_KEY"},
	{ProviderInfura, chain.Ethereum, chain.Mainnet, "NODE_INFURA_ETH_MAINNET_PREFIX", "NODE_INFURA_ETH_API_KEY"},
	{ProviderInfura, chain.Ethereum, chain.Goerli, "NODE_INFURA_ETH_GOERLI_PREFIX", "NODE_INFURA_ETH_API_KEY"},
	{ProviderAnkr, chain.Ethereum, chain.Mainnet, "NODE_ANKR_ETH_MAINNET", ""},
	{ProviderAnkr, chain.Ethereum, chain.Goerli, "NODE_ANKR_ETH_GOERLI", ""},
	{ProviderAnkr, chain.BSC, chain.Mainnet, "NODE_ANKR_BSC_MAINNET", ""},
	{ProviderAnkr, chain.BSC, chain.Testnet, "NODE_ANKR_BSC_TESTNET", ""},
	{ProviderAnkr, chain.Polygon, chain.Mainnet, "NODE_ANKR_POLYGON_MAINNET", ""},
	{ProviderAnkr, chain.Polygon, chain.Testnet, "NODE_ANKR_POLYGON_TESTNET", ""},
}

func loadNodes() map[string]string {
	nodes := make(map[string]string)
	for _, v := range nodeVars {
		u := os.Getenv(v.env)
		if u == "" {
			continue
		}
		if v.keyEnv != "" {
			key := os.Getenv(v.keyEnv)
			if key == "" {
				continue
			}
			u = strings.TrimRight(u, "/") + "/" + key
		}
		nodes[NodeKey(v.provider, v.chain, v.network)] = u
	}
	return nodes
}

type explorerVar struct {
	chain   chain.Chain
	network chain.Network
	env     string
	keyEnv  string
}

var explorerVars = []explorerVar{
	{chain.Ethereum, chain.Mainnet, "SCAN_ETHERSCAN_MAINNET", "SCAN_ETHERSCAN_API_KEY"},
	{chain.Ethereum, chain.Goerli, "SCAN_ETHERSCAN_GOERLI", "SCAN_ETHERSCAN_API_KEY"},
	{chain.BSC, chain.Mainnet, "SCAN_BSCSCAN_MAINNET", "SCAN_BSCSCAN_API_KEY"},
	{chain.BSC, chain.Testnet, "SCAN_BSCSCAN_TESTNET", "SCAN_BSCSCAN_API_KEY"},
	{chain.Polygon, chain.Mainnet, "SCAN_POLYGONSCAN_MAINNET", "SCAN_POLYGON_API_KEY"},
	{chain.Polygon, chain.Mumbai, "SCAN_POLYGONSCAN_MUMBAI", "SCAN_POLYGON_API_KEY"},
}

func loadExplorers() map[string]Explorer {
	explorers := make(map[string]Explorer)
	for _, v := range explorerVars {
		if u := os.Getenv(v.env); u != "" {
			explorers[chain.Key(v.chain, v.network)] = Explorer{URL: u, APIKey: os.Getenv(v.keyEnv)}
		}
	}
	return explorers
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("1s") or bare milliseconds ("1000").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
