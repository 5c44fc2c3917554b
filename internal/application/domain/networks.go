package domain

import "sort"

// NetworkRegistry maps a network name to its examination interval, the number
// of blocks between two claims.
type NetworkRegistry map[string]uint64

// DefaultNetworks is the built-in examination schedule.
func DefaultNetworks() NetworkRegistry {
	return NetworkRegistry{
		"goerli":          2,
		"mainnet":         4,
		"gnosis":          5,
		"hardhat":         5,
		"arbitrum-one":    5,
		"arbitrum-goerli": 5,
		"avalanche":       5,
		"polygon":         5,
		"celo":            5,
		"optimism":        5,
	}
}

// Interval returns the examination interval for network. Unknown networks and
// networks configured with a zero interval are reported as not found.
func (r NetworkRegistry) Interval(network string) (uint64, bool) {
	interval, ok := r[network]
	if !ok || interval == 0 {
		return 0, false
	}
	return interval, true
}

// Merge returns a copy of r with the entries of other added or overridden.
func (r NetworkRegistry) Merge(other NetworkRegistry) NetworkRegistry {
	merged := make(NetworkRegistry, len(r)+len(other))
	for name, interval := range r {
		merged[name] = interval
	}
	for name, interval := range other {
		merged[name] = interval
	}
	return merged
}

// Names returns the registered network names in sorted order.
func (r NetworkRegistry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
