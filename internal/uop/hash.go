package uop

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	uint256Type, _ = abi.NewType("uint256", "", nil)
	addressType, _ = abi.NewType("address", "", nil)
	bytes32Type, _ = abi.NewType("bytes32", "", nil)
)

func toBytes32(b []byte) [32]byte {
	var out [32]byte
	copy(out[:], b)
	return out
}

// Hash computes the EntryPoint-defined UserOperation hash: standard
// ABI-encoded tuple hash, then wrapped with entryPoint and chainId and
// hashed again. This is NOT packed encoding — that distinction is
// load-bearing (it must match on-chain EntryPoint output bit for bit).
func Hash(u *UserOperation, entryPoint common.Address, chainID int64) (common.Hash, error) {
	var initCodeHash, callDataHash, paymasterHash [32]byte

	switch u.Version {
	case V06:
		initCodeHash = toBytes32(crypto.Keccak256(u.InitCode))
		callDataHash = toBytes32(crypto.Keccak256(u.CallData))
		paymasterHash = toBytes32(crypto.Keccak256(u.PaymasterAndData))

		args := abi.Arguments{
			{Type: addressType}, {Type: uint256Type}, {Type: bytes32Type}, {Type: bytes32Type},
			{Type: uint256Type}, {Type: uint256Type}, {Type: uint256Type},
			{Type: uint256Type}, {Type: uint256Type}, {Type: bytes32Type},
		}
		packed, err := args.Pack(
			u.Sender, u.Nonce, initCodeHash, callDataHash,
			u.CallGasLimit, u.VerificationGasLimit, u.PreVerificationGas,
			u.MaxFeePerGas, u.MaxPriorityFeePerGas, paymasterHash,
		)
		if err != nil {
			return common.Hash{}, fmt.Errorf("pack v0.6 user operation: %w", err)
		}
		return outerHash(crypto.Keccak256(packed), entryPoint, chainID), nil

	case V07:
		initCode := initCodeBytesV07(u)
		initCodeHash = toBytes32(crypto.Keccak256(initCode))
		callDataHash = toBytes32(crypto.Keccak256(u.CallData))
		paymasterAndData := paymasterBytesV07(u)
		paymasterHash = toBytes32(crypto.Keccak256(paymasterAndData))

		accountGasLimits := PackAccountGasLimits(u.VerificationGasLimit, u.CallGasLimit)
		gasFees := PackGasFees(u.MaxPriorityFeePerGas, u.MaxFeePerGas)

		args := abi.Arguments{
			{Type: addressType}, {Type: uint256Type}, {Type: bytes32Type}, {Type: bytes32Type},
			{Type: bytes32Type}, {Type: uint256Type}, {Type: bytes32Type}, {Type: bytes32Type},
		}
		packed, err := args.Pack(
			u.Sender, u.Nonce, initCodeHash, callDataHash,
			accountGasLimits, u.PreVerificationGas, gasFees, paymasterHash,
		)
		if err != nil {
			return common.Hash{}, fmt.Errorf("pack v0.7 user operation: %w", err)
		}
		return outerHash(crypto.Keccak256(packed), entryPoint, chainID), nil
	}

	return common.Hash{}, fmt.Errorf("unknown UserOperation version")
}

func outerHash(inner []byte, entryPoint common.Address, chainID int64) common.Hash {
	args := abi.Arguments{{Type: bytes32Type}, {Type: addressType}, {Type: uint256Type}}
	packed, err := args.Pack(toBytes32(inner), entryPoint, big.NewInt(chainID))
	if err != nil {
		// Pack only fails on type mismatch, which cannot happen with these
		// fixed, already-validated argument shapes.
		panic(err)
	}
	return common.BytesToHash(crypto.Keccak256(packed))
}

// initCodeBytesV07 reconstructs the v0.6-shaped initCode field (factory
// address concatenated with factoryData) the EntryPoint hash expects, from
// the split v0.7 factory/factoryData fields.
func initCodeBytesV07(u *UserOperation) []byte {
	if !u.HasFactory {
		return nil
	}
	out := make([]byte, 0, 20+len(u.FactoryData))
	out = append(out, u.Factory.Bytes()...)
	out = append(out, u.FactoryData...)
	return out
}

// paymasterBytesV07 reconstructs the v0.6-shaped paymasterAndData field
// from the split v0.7 paymaster fields.
func paymasterBytesV07(u *UserOperation) []byte {
	if !u.HasPaymaster {
		return nil
	}
	out := make([]byte, 0, 20+16+16+len(u.PaymasterData))
	out = append(out, u.Paymaster.Bytes()...)
	out = append(out, fillBytes16(zeroIfNil(u.PaymasterVerificationGasLimit))...)
	out = append(out, fillBytes16(zeroIfNil(u.PaymasterPostOpGasLimit))...)
	out = append(out, u.PaymasterData...)
	return out
}

func zeroIfNil(n *big.Int) *big.Int {
	if n == nil {
		return big.NewInt(0)
	}
	return n
}
