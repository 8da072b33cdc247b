// Package signer produces the paymaster's sponsorship signature over a
// UserOperation hash, either with a local ECDSA key or via a remote
// TEE/KMS dual-signature protocol, per spec §4.4.
package signer

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Request carries everything a Backend might need to produce a
// sponsorship signature. UserSignature and Timestamp are only consulted
// by backends that run the dual-signature protocol; the local backend
// ignores them.
type Request struct {
	UserOpHash    common.Hash
	UserSignature []byte
	Timestamp     int64
}

// Backend signs UserOperation hashes on behalf of the paymaster.
type Backend interface {
	// Sign returns a 65-byte (r, s, v) signature over req.UserOpHash.
	Sign(ctx context.Context, req Request) ([]byte, error)
	// Address is the on-chain address the signature recovers to.
	Address() common.Address
	// Healthy reports whether the backend is currently able to sign.
	Healthy() bool
	// Name identifies the backend for logging and metrics.
	Name() string
}
