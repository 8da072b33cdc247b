package policy

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/t402-io/paymaster-relay/internal/relayerr"
	"github.com/t402-io/paymaster-relay/internal/uop"
)

func testUO(sender common.Address) *uop.UserOperation {
	return &uop.UserOperation{
		Version:              uop.V06,
		Sender:               sender,
		Nonce:                big.NewInt(0),
		CallData:             []byte{},
		CallGasLimit:         big.NewInt(100_000),
		VerificationGasLimit: big.NewInt(100_000),
		PreVerificationGas:   big.NewInt(21_000),
		MaxFeePerGas:         big.NewInt(1_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(1_000_000_000),
		InitCode:             []byte{},
		PaymasterAndData:     []byte{},
		Signature:            []byte{},
	}
}

func baseRuleSet() *RuleSet {
	return &RuleSet{
		Default:   &Policy{Name: "default"},
		Named:     map[string]*Policy{},
		Blacklist: map[common.Address]bool{},
		Whitelist: map[common.Address]bool{},
	}
}

func TestEvaluateAcceptsByDefault(t *testing.T) {
	sender := common.HexToAddress("0x1111111111111111111111111111111111111111")
	e := New(baseRuleSet())
	req := &Request{UO: testUO(sender)}
	require.NoError(t, e.Evaluate(req, e.Resolve("")))
}

func TestEvaluateDenyListWinsOverAllowList(t *testing.T) {
	sender := common.HexToAddress("0x2222222222222222222222222222222222222222")
	rs := baseRuleSet()
	rs.Default.AllowedSenders = map[common.Address]bool{sender: true}
	rs.Default.DeniedSenders = map[common.Address]bool{sender: true}

	e := New(rs)
	req := &Request{UO: testUO(sender)}
	err := e.Evaluate(req, e.Resolve(""))
	require.Error(t, err)
	require.True(t, relayerr.Is(err, relayerr.PolicyRejected))
}

func TestEvaluateGlobalBlacklistAppliesAcrossPolicies(t *testing.T) {
	sender := common.HexToAddress("0x3333333333333333333333333333333333333333")
	rs := baseRuleSet()
	rs.Blacklist[sender] = true
	rs.Named["premium"] = &Policy{Name: "premium"}

	e := New(rs)
	req := &Request{UO: testUO(sender), PolicyTag: "premium"}
	err := e.Evaluate(req, e.Resolve("premium"))
	require.Error(t, err)
}

func TestEvaluateAllowListRejectsUnlistedSender(t *testing.T) {
	sender := common.HexToAddress("0x4444444444444444444444444444444444444444")
	other := common.HexToAddress("0x5555555555555555555555555555555555555555")
	rs := baseRuleSet()
	rs.Default.AllowedSenders = map[common.Address]bool{other: true}

	e := New(rs)
	err := e.Evaluate(&Request{UO: testUO(sender)}, e.Resolve(""))
	require.Error(t, err)
	require.True(t, relayerr.Is(err, relayerr.PolicyRejected))
}

func TestEvaluateRejectsGasAboveCap(t *testing.T) {
	sender := common.HexToAddress("0x6666666666666666666666666666666666666666")
	rs := baseRuleSet()
	rs.Default.MaxVerificationGas = big.NewInt(50_000)

	e := New(rs)
	err := e.Evaluate(&Request{UO: testUO(sender)}, e.Resolve(""))
	require.Error(t, err)
}

func TestEvaluateRejectsCostAboveCap(t *testing.T) {
	sender := common.HexToAddress("0x7777777777777777777777777777777777777777")
	rs := baseRuleSet()
	rs.Default.MaxCostWei = big.NewInt(1)

	e := New(rs)
	err := e.Evaluate(&Request{UO: testUO(sender)}, e.Resolve(""))
	require.Error(t, err)
}

func TestEvaluateRejectsContractDeploymentWhenDisallowed(t *testing.T) {
	sender := common.HexToAddress("0x8888888888888888888888888888888888888888")
	rs := baseRuleSet()
	e := New(rs)

	u := testUO(sender)
	u.InitCode = []byte{0x01, 0x02, 0x03}

	err := e.Evaluate(&Request{UO: u}, e.Resolve(""))
	require.Error(t, err)
	require.True(t, relayerr.Is(err, relayerr.PolicyRejected))
}

func TestEvaluateRateCapHourlyBoundary(t *testing.T) {
	sender := common.HexToAddress("0x9999999999999999999999999999999999999999")
	rs := baseRuleSet()
	rs.Default.MaxOperationsPerHour = 2

	e := New(rs)
	fixed := time.Unix(1_700_000_000, 0)
	e.now = func() time.Time { return fixed }

	req := &Request{UO: testUO(sender)}
	require.NoError(t, e.Evaluate(req, e.Resolve("")))
	require.NoError(t, e.Evaluate(req, e.Resolve("")))
	err := e.Evaluate(req, e.Resolve(""))
	require.Error(t, err)
	require.True(t, relayerr.Is(err, relayerr.PolicyRejected))
}

func TestEvaluateRateCapResetsAfterWindow(t *testing.T) {
	sender := common.HexToAddress("0xaAAA111111111111111111111111111111111111")
	rs := baseRuleSet()
	rs.Default.MaxOperationsPerHour = 1

	e := New(rs)
	now := time.Unix(1_700_000_000, 0)
	e.now = func() time.Time { return now }

	req := &Request{UO: testUO(sender)}
	require.NoError(t, e.Evaluate(req, e.Resolve("")))
	require.Error(t, e.Evaluate(req, e.Resolve("")))

	now = now.Add(time.Hour + time.Second)
	require.NoError(t, e.Evaluate(req, e.Resolve("")))
}

func TestReloadSwapsActiveRuleSetAtomically(t *testing.T) {
	sender := common.HexToAddress("0xbBBB222222222222222222222222222222222222")
	e := New(baseRuleSet())
	require.NoError(t, e.Evaluate(&Request{UO: testUO(sender)}, e.Resolve("")))

	next := baseRuleSet()
	next.Blacklist[sender] = true
	e.Reload(next)

	err := e.Evaluate(&Request{UO: testUO(sender)}, e.Resolve(""))
	require.Error(t, err)
}

func TestResolveFallsBackToDefaultForUnknownTag(t *testing.T) {
	rs := baseRuleSet()
	e := New(rs)
	require.Same(t, rs.Default, e.Resolve("does-not-exist"))
}

func TestParseReadsNamedPoliciesAndGlobalSections(t *testing.T) {
	doc := []byte(`
[default]
max_operations_per_hour = 100

[premium]
senders = ["0xcccc222222222222222222222222222222222222"]
max_verification_gas = "500000"
max_cost_per_operation_eth = "0.01"
allow_contract_deployment = true

[blacklist]
addresses = ["0xdddd222222222222222222222222222222222222"]

[whitelist]
addresses = ["0xcccc222222222222222222222222222222222222"]
`)
	rs, err := Parse(doc)
	require.NoError(t, err)
	require.NotNil(t, rs.Default)
	require.Equal(t, 100, rs.Default.MaxOperationsPerHour)

	premium, ok := rs.Named["premium"]
	require.True(t, ok)
	require.True(t, premium.AllowContractDeployment)
	require.Equal(t, big.NewInt(500_000), premium.MaxVerificationGas)
	require.Equal(t, big.NewInt(10_000_000_000_000_000), premium.MaxCostWei)

	require.True(t, rs.Blacklist[common.HexToAddress("0xdddd222222222222222222222222222222222222")])
	require.True(t, rs.Whitelist[common.HexToAddress("0xcccc222222222222222222222222222222222222")])
}

func TestParseRejectsMalformedDocument(t *testing.T) {
	_, err := Parse([]byte("not = [valid toml"))
	require.Error(t, err)
}
