package uop

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestHashStableAcrossEncodeDecode(t *testing.T) {
	u, err := Decode(v06Wire())
	require.NoError(t, err)

	entryPoint := common.HexToAddress(EntryPointV06Address)
	h1, err := Hash(u, entryPoint, 1)
	require.NoError(t, err)

	u2, err := Decode(Encode(u))
	require.NoError(t, err)
	h2, err := Hash(u2, entryPoint, 1)
	require.NoError(t, err)

	require.Equal(t, h1, h2)
}

func TestHashDecimalHexEquivalence(t *testing.T) {
	hexWire := v06Wire()
	decWire := v06Wire()
	decWire.CallGasLimit = "100000"

	uHex, err := Decode(hexWire)
	require.NoError(t, err)
	uDec, err := Decode(decWire)
	require.NoError(t, err)

	entryPoint := common.HexToAddress(EntryPointV06Address)
	h1, err := Hash(uHex, entryPoint, 1)
	require.NoError(t, err)
	h2, err := Hash(uDec, entryPoint, 1)
	require.NoError(t, err)

	require.Equal(t, h1, h2)
}

func TestHashDependsOnChainID(t *testing.T) {
	u, err := Decode(v06Wire())
	require.NoError(t, err)
	entryPoint := common.HexToAddress(EntryPointV06Address)

	h1, err := Hash(u, entryPoint, 1)
	require.NoError(t, err)
	h2, err := Hash(u, entryPoint, 2)
	require.NoError(t, err)

	require.NotEqual(t, h1, h2)
}

func TestHashV07WithFactoryAndPaymaster(t *testing.T) {
	w := v06Wire()
	w.InitCode = ""
	w.PaymasterAndData = ""
	w.Factory = "0x1234567890123456789012345678901234567890"
	w.FactoryData = "0xaabbcc"
	w.Paymaster = "0x0987654321098765432109876543210987654321"
	w.PaymasterVerificationGasLimit = "0x186A0"
	w.PaymasterPostOpGasLimit = "0x186A0"
	w.PaymasterData = "0x1234"

	u, err := Decode(w)
	require.NoError(t, err)
	require.Equal(t, V07, u.Version)

	entryPoint := common.HexToAddress(EntryPointV07Address)
	h, err := Hash(u, entryPoint, 1)
	require.NoError(t, err)
	require.NotEqual(t, common.Hash{}, h)
}
