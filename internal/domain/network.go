package domain

import "strings"

// Network identifies a supported blockchain network.
type Network string

const (
	NetworkETH   Network = "ETH"
	NetworkBSC   Network = "BSC"
	NetworkMATIC Network = "MATIC"
	NetworkARB   Network = "ARB"
	NetworkAVAX  Network = "AVAX"
)

// AllNetworks lists every supported network in a stable order.
var AllNetworks = []Network{NetworkETH, NetworkBSC, NetworkMATIC, NetworkARB, NetworkAVAX}

// ParseNetwork normalizes a user-supplied network identifier. It returns
// ErrUnsupportedNetwork for anything outside the supported set.
func ParseNetwork(s string) (Network, error) {
	n := Network(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllNetworks {
		if n == known {
			return n, nil
		}
	}
	return "", ErrUnsupportedNetwork
}

// NativeSymbol returns the ticker of the network's native coin.
func (n Network) NativeSymbol() string {
	switch n {
	case NetworkETH:
		return "ETH"
	case NetworkBSC:
		return "BNB"
	case NetworkMATIC:
		return "POL"
	case NetworkARB:
		return "ETH"
	case NetworkAVAX:
		return "AVAX"
	default:
		return string(n)
	}
}

// NativeDecimals returns the decimals of the network's native coin. All
// supported EVM networks use 18.
func (n Network) NativeDecimals() int {
	return 18
}
