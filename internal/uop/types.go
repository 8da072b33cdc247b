// Package uop implements the ERC-4337 UserOperation wire format for both
// v0.6 (unpacked) and v0.7 (packed) EntryPoint revisions: parsing, splicing,
// and the EntryPoint-defined signing hash.
package uop

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Version identifies which EntryPoint revision a UserOperation targets.
type Version int

const (
	V06 Version = iota
	V07
)

// EntryPoint addresses recognized at startup (configurable; these are the
// canonical deployments).
const (
	EntryPointV06Address = "0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789"
	EntryPointV07Address = "0x0000000071727De22E5E9d8BAf0edAc6f37da032"
)

// DefaultMaxGasLimit bounds every *GasLimit field absent an override.
const DefaultMaxGasLimit = 10_000_000

// UserOperation is the internal representation shared by both wire
// versions. Fields that don't apply to a version are left at their zero
// value; Version says which set is meaningful.
type UserOperation struct {
	Version Version

	Sender   common.Address
	Nonce    *big.Int
	CallData []byte

	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int

	Signature []byte

	// v0.6 fields
	InitCode         []byte
	PaymasterAndData []byte

	// v0.7 fields
	Factory                       common.Address
	HasFactory                    bool
	FactoryData                   []byte
	Paymaster                     common.Address
	HasPaymaster                  bool
	PaymasterVerificationGasLimit *big.Int
	PaymasterPostOpGasLimit       *big.Int
	PaymasterData                 []byte
}

// HasInitCode reports whether this operation deploys its sender account.
func (u *UserOperation) HasInitCode() bool {
	if u.Version == V07 {
		return u.HasFactory
	}
	return len(u.InitCode) > 0
}

// HasPaymasterData reports whether a paymaster has been spliced in.
func (u *UserOperation) HasPaymasterData() bool {
	if u.Version == V07 {
		return u.HasPaymaster
	}
	return len(u.PaymasterAndData) > 0
}
