package uop

import "github.com/ethereum/go-ethereum/common"

// EntryPointInfo binds a configured EntryPoint address to the UO version
// it serves, per spec §3 ("The EntryPoint address selects which UO version
// applies (configured per address at startup)").
type EntryPointInfo struct {
	Address common.Address
	Version Version
}

// Registry resolves configured EntryPoint addresses to their version.
type Registry struct {
	byAddress map[common.Address]Version
}

// NewRegistry builds a Registry from the relay's configured EntryPoints.
func NewRegistry(entries []EntryPointInfo) *Registry {
	r := &Registry{byAddress: make(map[common.Address]Version, len(entries))}
	for _, e := range entries {
		r.byAddress[e.Address] = e.Version
	}
	return r
}

// DefaultRegistry returns the canonical v0.6/v0.7 deployments.
func DefaultRegistry() *Registry {
	return NewRegistry([]EntryPointInfo{
		{Address: common.HexToAddress(EntryPointV06Address), Version: V06},
		{Address: common.HexToAddress(EntryPointV07Address), Version: V07},
	})
}

// Resolve returns the version for addr and whether it is a known EntryPoint.
func (r *Registry) Resolve(addr common.Address) (Version, bool) {
	v, ok := r.byAddress[addr]
	return v, ok
}

// Addresses returns every configured EntryPoint address.
func (r *Registry) Addresses() []common.Address {
	out := make([]common.Address, 0, len(r.byAddress))
	for addr := range r.byAddress {
		out = append(out, addr)
	}
	return out
}
