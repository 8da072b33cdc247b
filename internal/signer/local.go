package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// secp256k1HalfN is half the order of the secp256k1 curve group. Ethereum
// signatures are only canonical when s is at most this value; a signer
// that always produces the lower-s root avoids producing a second, equally
// valid signature over the same digest (EIP-2).
var secp256k1HalfN = new(big.Int).Rsh(crypto.S256().Params().N, 1)

// Local signs with an in-process ECDSA private key, per spec §4.4's local
// backend.
type Local struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewLocal builds a Local signer from a hex-encoded secp256k1 private key,
// with or without a leading "0x".
func NewLocal(privateKeyHex string) (*Local, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid signer private key: %w", err)
	}
	return &Local{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

func (l *Local) Sign(ctx context.Context, req Request) ([]byte, error) {
	sig, err := crypto.Sign(req.UserOpHash.Bytes(), l.key)
	if err != nil {
		return nil, fmt.Errorf("sign user operation hash: %w", err)
	}
	normalizeMalleability(sig)
	sig[64] += 27
	return sig, nil
}

func (l *Local) Address() common.Address { return l.address }

func (l *Local) Healthy() bool { return l.key != nil }

func (l *Local) Name() string { return "local" }

// normalizeMalleability rewrites sig in place so its s component is in the
// lower half of the curve order, flipping the recovery bit to compensate.
// sig must be the 65-byte (r, s, v) output of crypto.Sign with v still 0/1.
func normalizeMalleability(sig []byte) {
	s := new(big.Int).SetBytes(sig[32:64])
	if s.Cmp(secp256k1HalfN) <= 0 {
		return
	}
	flipped := new(big.Int).Sub(crypto.S256().Params().N, s)
	flipped.FillBytes(sig[32:64])
	sig[64] ^= 1
}
