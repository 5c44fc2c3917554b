package config

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Marketen/poi-radio/internal/application/domain"
)

// Config holds runtime configuration for the poi-radio service.
type Config struct {
	GraphNodeStatusURL  string
	RegistrySubgraphURL string
	NetworkSubgraphURL  string

	PrivateKey     *ecdsa.PrivateKey
	IndexerAddress string // empty: resolved from the registry subgraph

	Topics             []string
	PollInterval       time.Duration
	WaitBlocks         uint64
	PanicIfPOIDiverged bool
	Networks           domain.NetworkRegistry

	RadioName     string
	ListenAddr    string
	BootNodes     []string
	MaxMessageAge time.Duration

	BeaconNodeURL string
	BeaconNetwork string
	EthRPCURLs    map[string]string

	MetricsAddr string
}

// networksFile is the TOML layout of NETWORKS_FILE:
//
//	[networks]
//	mainnet = 4
//	base = 10
type networksFile struct {
	Networks map[string]uint64 `toml:"networks"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	if cfg.GraphNodeStatusURL, err = required("GRAPH_NODE_STATUS_ENDPOINT"); err != nil {
		return nil, err
	}
	if cfg.RegistrySubgraphURL, err = required("REGISTRY_SUBGRAPH_ENDPOINT"); err != nil {
		return nil, err
	}
	if cfg.NetworkSubgraphURL, err = required("NETWORK_SUBGRAPH_ENDPOINT"); err != nil {
		return nil, err
	}

	keyHex, err := required("PRIVATE_KEY")
	if err != nil {
		return nil, err
	}
	cfg.PrivateKey, err = crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid PRIVATE_KEY: %w", err)
	}

	cfg.IndexerAddress = strings.ToLower(env("INDEXER_ADDRESS", ""))
	cfg.Topics = splitList(env("TOPICS", ""))

	sec, err := positiveInt("POLL_INTERVAL_SECONDS", "5")
	if err != nil {
		return nil, err
	}
	cfg.PollInterval = time.Duration(sec) * time.Second

	wait, err := positiveInt("WAIT_BLOCKS", "2")
	if err != nil {
		return nil, err
	}
	cfg.WaitBlocks = uint64(wait)

	panicStr := env("PANIC_IF_POI_DIVERGED", "false")
	cfg.PanicIfPOIDiverged, err = strconv.ParseBool(panicStr)
	if err != nil {
		return nil, fmt.Errorf("invalid PANIC_IF_POI_DIVERGED: %q", panicStr)
	}

	cfg.Networks = domain.DefaultNetworks()
	if path := env("NETWORKS_FILE", ""); path != "" {
		extra, err := loadNetworks(path)
		if err != nil {
			return nil, err
		}
		cfg.Networks = cfg.Networks.Merge(extra)
	}

	cfg.RadioName = env("RADIO_NAME", "poi-radio")
	cfg.ListenAddr = env("LISTEN_ADDR", "0.0.0.0:60000")
	cfg.BootNodes = splitList(env("BOOT_NODES", ""))

	age, err := positiveInt("MESSAGE_MAX_AGE_SECONDS", "3600")
	if err != nil {
		return nil, err
	}
	cfg.MaxMessageAge = time.Duration(age) * time.Second

	cfg.BeaconNodeURL = env("BEACON_NODE_URL", "")
	cfg.BeaconNetwork = env("BEACON_NETWORK", "mainnet")

	cfg.EthRPCURLs, err = parseNetworkURLs(env("ETH_RPC_URLS", ""))
	if err != nil {
		return nil, err
	}

	cfg.MetricsAddr = env("METRICS_ADDR", "")

	return cfg, nil
}

func env(name, def string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	return v
}

func required(name string) (string, error) {
	v := env(name, "")
	if v == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return v, nil
}

func positiveInt(name, def string) (int, error) {
	s := env(name, def)
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, s)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseNetworkURLs parses "mainnet=https://a,gnosis=https://b".
func parseNetworkURLs(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, entry := range splitList(s) {
		network, url, ok := strings.Cut(entry, "=")
		network, url = strings.TrimSpace(network), strings.TrimSpace(url)
		if !ok || network == "" || url == "" {
			return nil, fmt.Errorf("invalid ETH_RPC_URLS entry %q (expected network=url)", entry)
		}
		out[network] = url
	}
	return out, nil
}

func loadNetworks(path string) (domain.NetworkRegistry, error) {
	var file networksFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("read NETWORKS_FILE %s: %w", path, err)
	}
	for name, interval := range file.Networks {
		if interval == 0 {
			return nil, fmt.Errorf("network %q in %s has a zero interval", name, path)
		}
	}
	return domain.NetworkRegistry(file.Networks), nil
}
