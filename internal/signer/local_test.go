package signer

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestLocalSignRecoversToAddress(t *testing.T) {
	s, err := NewLocal(testKeyHex)
	require.NoError(t, err)

	var userOpHash common.Hash
	copy(userOpHash[:], crypto.Keccak256([]byte("deterministic-test-digest")))

	sig, err := s.Sign(context.Background(), Request{UserOpHash: userOpHash})
	require.NoError(t, err)
	require.Len(t, sig, 65)

	recoverable := append([]byte{}, sig...)
	recoverable[64] -= 27
	pub, err := crypto.SigToPub(userOpHash.Bytes(), recoverable)
	require.NoError(t, err)
	require.Equal(t, s.Address(), crypto.PubkeyToAddress(*pub))
}

func TestLocalSignAlwaysProducesLowerS(t *testing.T) {
	s, err := NewLocal(testKeyHex)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		var h common.Hash
		copy(h[:], crypto.Keccak256([]byte{byte(i)}))
		sig, err := s.Sign(context.Background(), Request{UserOpHash: h})
		require.NoError(t, err)

		sVal := new(big.Int).SetBytes(sig[32:64])
		require.LessOrEqual(t, sVal.Cmp(secp256k1HalfN), 0)
		require.True(t, sig[64] == 27 || sig[64] == 28)
	}
}

func TestLocalHealthyAndName(t *testing.T) {
	s, err := NewLocal(testKeyHex)
	require.NoError(t, err)
	require.True(t, s.Healthy())
	require.Equal(t, "local", s.Name())
}

func TestNewLocalRejectsMalformedKey(t *testing.T) {
	_, err := NewLocal("not-a-valid-hex-key")
	require.Error(t, err)
}
