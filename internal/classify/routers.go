package classify

import (
	"strings"
	"sync"

	"github.com/chainpulse/walletmon/internal/domain"
)

// defaultRouters seeds the known swap-router/DEX contract set per network.
// Addresses are stored lowercase.
var defaultRouters = map[domain.Network][]string{
	domain.NetworkETH: {
		"0x7a250d5630b4cf539739df2c5dacb4c659f2488d", // Uniswap V2 router
		"0xe592427a0aece92de3edee1f18e0157c05861564", // Uniswap V3 router
		"0x3fc91a3afd70395cd496c647d5a6cc9d4b2b7fad", // Uniswap universal router
		"0xd9e1ce17f2641f24ae83637ab66a2cca9c378b9f", // SushiSwap router
		"0x1111111254eeb25477b68fb85ed929f73a960582", // 1inch v5
	},
	domain.NetworkBSC: {
		"0x10ed43c718714eb63d5aa57b78b54704e256024e", // PancakeSwap V2 router
		"0x1111111254eeb25477b68fb85ed929f73a960582",
	},
	domain.NetworkMATIC: {
		"0xa5e0829caced8ffdd4de3c43696c57f7d7a678ff", // QuickSwap router
		"0xe592427a0aece92de3edee1f18e0157c05861564",
		"0x1111111254eeb25477b68fb85ed929f73a960582",
	},
	domain.NetworkARB: {
		"0xc873fecbd354f5a56e00e710b90ef4201db2448d", // Camelot router
		"0xe592427a0aece92de3edee1f18e0157c05861564",
		"0x1111111254eeb25477b68fb85ed929f73a960582",
	},
	domain.NetworkAVAX: {
		"0x60ae616a2155ee3d9a68541ba4544862310933d4", // Trader Joe router
		"0x1111111254eeb25477b68fb85ed929f73a960582",
	},
}

// RouterSet holds the known swap-router addresses per network. It is safe
// for concurrent use; the classifier reads it while operators may extend it
// at runtime.
type RouterSet struct {
	mu      sync.RWMutex
	routers map[domain.Network]map[string]bool
}

// NewRouterSet builds a RouterSet from the built-in defaults plus extra
// per-network addresses (e.g. from configuration).
func NewRouterSet(extra map[domain.Network][]string) *RouterSet {
	rs := &RouterSet{routers: make(map[domain.Network]map[string]bool)}
	for n, addrs := range defaultRouters {
		for _, a := range addrs {
			rs.add(n, a)
		}
	}
	for n, addrs := range extra {
		for _, a := range addrs {
			rs.add(n, a)
		}
	}
	return rs
}

func (rs *RouterSet) add(network domain.Network, addr string) {
	set, ok := rs.routers[network]
	if !ok {
		set = make(map[string]bool)
		rs.routers[network] = set
	}
	set[strings.ToLower(addr)] = true
}

// Add registers an additional router address at runtime.
func (rs *RouterSet) Add(network domain.Network, addr string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.add(network, addr)
}

// Contains reports whether addr is a known router on the given network.
func (rs *RouterSet) Contains(network domain.Network, addr string) bool {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.routers[network][strings.ToLower(addr)]
}
