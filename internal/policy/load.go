package policy

import (
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pelletier/go-toml/v2"
)

// policyTable mirrors one named table of the declarative policy-file
// format of spec §6.
type policyTable struct {
	Senders                 []string `toml:"senders"`
	DeniedSenders           []string `toml:"denied_senders"`
	AllowedTargets          []string `toml:"allowed_targets"`
	SelfDestructTargets     []string `toml:"self_destruct_targets"`
	MaxVerificationGas      string   `toml:"max_verification_gas"`
	MaxCallGas              string   `toml:"max_call_gas"`
	MaxCostPerOperationETH  string   `toml:"max_cost_per_operation_eth"`
	MaxOperationsPerHour    int      `toml:"max_operations_per_hour"`
	MaxOperationsPerDay     int      `toml:"max_operations_per_day"`
	AllowContractDeployment bool     `toml:"allow_contract_deployment"`
	AllowSelfDestruct       bool     `toml:"allow_self_destruct"`
}

// globalSection is the shape of the two special [blacklist]/[whitelist]
// tables, which apply across all named policies.
type globalSection struct {
	Addresses []string `toml:"addresses"`
}

func addressSet(addrs []string) map[common.Address]bool {
	out := make(map[common.Address]bool, len(addrs))
	for _, a := range addrs {
		out[common.HexToAddress(a)] = true
	}
	return out
}

func bigFromDecimal(s string) *big.Int {
	if s == "" {
		return nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil
	}
	return n
}

// weiFromETH converts a decimal ETH string to wei (1 ETH = 1e18 wei).
func weiFromETH(s string) *big.Int {
	if s == "" {
		return nil
	}
	f, _, err := big.ParseFloat(s, 10, 256, big.ToNearestEven)
	if err != nil {
		return nil
	}
	weiPerEth := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	f.Mul(f, weiPerEth)
	out, _ := f.Int(nil)
	return out
}

func (t policyTable) toPolicy(name string) *Policy {
	return &Policy{
		Name:                    name,
		AllowedSenders:          addressSet(t.Senders),
		DeniedSenders:           addressSet(t.DeniedSenders),
		AllowedTargets:          addressSet(t.AllowedTargets),
		SelfDestructTargets:     addressSet(t.SelfDestructTargets),
		MaxVerificationGas:      bigFromDecimal(t.MaxVerificationGas),
		MaxCallGas:              bigFromDecimal(t.MaxCallGas),
		MaxCostWei:              weiFromETH(t.MaxCostPerOperationETH),
		MaxOperationsPerHour:    t.MaxOperationsPerHour,
		MaxOperationsPerDay:     t.MaxOperationsPerDay,
		AllowContractDeployment: t.AllowContractDeployment,
		AllowSelfDestruct:       t.AllowSelfDestruct,
	}
}

// Load reads and parses a policy file at path into a RuleSet.
func Load(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return Parse(data)
}

// Parse decodes raw TOML bytes into a RuleSet. The file is a flat set of
// named top-level tables, so it is decoded generically first and then
// each table re-marshaled into the typed shape appropriate to its name —
// this lets an arbitrary number of named policies share the document with
// the two fixed special sections.
func Parse(data []byte) (*RuleSet, error) {
	var doc map[string]interface{}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}

	rs := &RuleSet{
		Named:     make(map[string]*Policy),
		Blacklist: map[common.Address]bool{},
		Whitelist: map[common.Address]bool{},
	}

	for name, section := range doc {
		reencoded, err := toml.Marshal(section)
		if err != nil {
			return nil, fmt.Errorf("re-encode policy section %q: %w", name, err)
		}

		switch name {
		case "blacklist":
			var g globalSection
			if err := toml.Unmarshal(reencoded, &g); err != nil {
				return nil, fmt.Errorf("parse [blacklist]: %w", err)
			}
			rs.Blacklist = addressSet(g.Addresses)
		case "whitelist":
			var g globalSection
			if err := toml.Unmarshal(reencoded, &g); err != nil {
				return nil, fmt.Errorf("parse [whitelist]: %w", err)
			}
			rs.Whitelist = addressSet(g.Addresses)
		default:
			var t policyTable
			if err := toml.Unmarshal(reencoded, &t); err != nil {
				return nil, fmt.Errorf("parse policy section %q: %w", name, err)
			}
			p := t.toPolicy(name)
			if name == "default" {
				rs.Default = p
			} else {
				rs.Named[name] = p
			}
		}
	}

	if rs.Default == nil {
		rs.Default = (policyTable{}).toPolicy("default")
	}
	return rs, nil
}
