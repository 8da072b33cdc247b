// Package auth validates gateway callers by API key, bearer token, or
// source IP allowlist, per spec §4.8.
package auth

import (
	"net"
	"strings"

	"github.com/t402-io/paymaster-relay/internal/relayerr"
)

// Identity is the caller resolved by a successful check.
type Identity struct {
	Key  string
	Tier string // maps to a policy tag in internal/policy
}

// Authenticator validates a request's credentials. A zero-value
// Authenticator (no keys, no bearer tokens, no CIDRs configured) allows
// every request through as the anonymous identity, matching an
// auth-disabled deployment.
type Authenticator struct {
	apiKeys    map[string]Identity
	bearers    map[string]Identity
	allowedNet []*net.IPNet
}

// New builds an Authenticator. Any of the three inputs may be empty.
func New(apiKeys map[string]Identity, bearers map[string]Identity, allowedCIDRs []string) (*Authenticator, error) {
	nets := make([]*net.IPNet, 0, len(allowedCIDRs))
	for _, cidr := range allowedCIDRs {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, relayerr.NewInternal(err)
		}
		nets = append(nets, n)
	}
	return &Authenticator{apiKeys: apiKeys, bearers: bearers, allowedNet: nets}, nil
}

func (a *Authenticator) enabled() bool {
	return len(a.apiKeys) > 0 || len(a.bearers) > 0
}

// Authenticate resolves the caller's Identity from an API key header value,
// an Authorization header value, and the caller's remote IP. Any of the
// three may be empty/zero if not supplied by the transport.
func (a *Authenticator) Authenticate(apiKey, authorizationHeader, remoteIP string) (Identity, error) {
	if !a.enabled() {
		return Identity{Key: "anonymous"}, nil
	}

	if !a.ipAllowed(remoteIP) {
		return Identity{}, relayerr.NewUnauthorized()
	}

	if apiKey != "" {
		if id, ok := a.apiKeys[apiKey]; ok {
			return id, nil
		}
		return Identity{}, relayerr.NewUnauthorized()
	}

	if token, ok := strings.CutPrefix(authorizationHeader, "Bearer "); ok {
		if id, ok := a.bearers[token]; ok {
			return id, nil
		}
		return Identity{}, relayerr.NewUnauthorized()
	}

	return Identity{}, relayerr.NewUnauthorized()
}

// ipAllowed reports whether remoteIP is permitted. When no CIDRs are
// configured every address is allowed; the allowlist is an additional
// restriction layered on top of key/token checks, not a replacement.
func (a *Authenticator) ipAllowed(remoteIP string) bool {
	if len(a.allowedNet) == 0 {
		return true
	}
	ip := net.ParseIP(remoteIP)
	if ip == nil {
		return false
	}
	for _, n := range a.allowedNet {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
