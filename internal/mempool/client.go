// Package mempool is the facade over the external bundler's mempool, per
// spec §4.9. The gateway never runs its own mempool; it hands finished
// UserOperations to whichever ERC-4337 bundler the deployment points at.
package mempool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/t402-io/paymaster-relay/internal/relayerr"
	"github.com/t402-io/paymaster-relay/internal/uop"
)

// Methods are the bundler JSON-RPC method names this client calls.
var Methods = struct {
	SendUserOperation     string
	GetUserOperationByHash string
	GetUserOperationReceipt string
	SupportedEntryPoints  string
}{
	SendUserOperation:       "eth_sendUserOperation",
	GetUserOperationByHash:  "eth_getUserOperationByHash",
	GetUserOperationReceipt: "eth_getUserOperationReceipt",
	SupportedEntryPoints:    "eth_supportedEntryPoints",
}

// Receipt mirrors the bundler's UserOperation receipt shape.
type Receipt struct {
	UserOpHash    common.Hash
	Sender        common.Address
	Paymaster     *common.Address
	ActualGasCost *big.Int
	Success       bool
	Reason        string
	TxHash        common.Hash
	BlockNumber   *big.Int
}

// Client is a JSON-RPC client over a single bundler endpoint.
type Client struct {
	url        string
	entryPoint common.Address
	httpClient *http.Client
	requestID  int
}

func New(bundlerURL string, entryPoint common.Address) *Client {
	return &Client{
		url:        bundlerURL,
		entryPoint: entryPoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// submitTimeout bounds a single Submit call.
const submitTimeout = 10 * time.Second

// Submit hands a fully signed UserOperation to the bundler and returns the
// hash the bundler assigned it.
func (c *Client) Submit(ctx context.Context, u *uop.UserOperation) (common.Hash, error) {
	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()
	wire := uop.Encode(u)

	var result string
	if err := c.call(ctx, Methods.SendUserOperation, []interface{}{wire, c.entryPoint.Hex()}, &result); err != nil {
		return common.Hash{}, err
	}
	return common.HexToHash(result), nil
}

// GetUserOperationReceipt polls the bundler once for a UserOperation's
// receipt. A nil Receipt with a nil error means the operation has not yet
// landed.
func (c *Client) GetUserOperationReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	var result struct {
		UserOpHash    string `json:"userOpHash"`
		Sender        string `json:"sender"`
		Paymaster     string `json:"paymaster,omitempty"`
		ActualGasCost string `json:"actualGasCost"`
		Success       bool   `json:"success"`
		Reason        string `json:"reason,omitempty"`
		Receipt       struct {
			TransactionHash string `json:"transactionHash"`
			BlockNumber     string `json:"blockNumber"`
		} `json:"receipt"`
	}

	if err := c.call(ctx, Methods.GetUserOperationReceipt, []interface{}{hash.Hex()}, &result); err != nil {
		return nil, err
	}
	if result.UserOpHash == "" {
		return nil, nil
	}

	receipt := &Receipt{
		UserOpHash:    common.HexToHash(result.UserOpHash),
		Sender:        common.HexToAddress(result.Sender),
		ActualGasCost: hexToBigInt(result.ActualGasCost),
		Success:       result.Success,
		Reason:        result.Reason,
		TxHash:        common.HexToHash(result.Receipt.TransactionHash),
		BlockNumber:   hexToBigInt(result.Receipt.BlockNumber),
	}
	if result.Paymaster != "" && result.Paymaster != "0x" {
		p := common.HexToAddress(result.Paymaster)
		receipt.Paymaster = &p
	}
	return receipt, nil
}

// WaitForReceipt polls for a receipt until one lands or the context is
// cancelled.
func (c *Client) WaitForReceipt(ctx context.Context, hash common.Hash, pollInterval time.Duration) (*Receipt, error) {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.GetUserOperationReceipt(ctx, hash)
		if err != nil {
			return nil, err
		}
		if receipt != nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, relayerr.NewInternal(fmt.Errorf("waiting for receipt %s: %w", hash.Hex(), ctx.Err()))
		case <-ticker.C:
		}
	}
}

func hexToBigInt(s string) *big.Int {
	n, ok := new(big.Int).SetString(trimHexPrefix(s), 16)
	if !ok {
		return big.NewInt(0)
	}
	return n
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// SupportedEntryPoints returns the EntryPoint addresses the bundler serves.
func (c *Client) SupportedEntryPoints(ctx context.Context) ([]common.Address, error) {
	var result []string
	if err := c.call(ctx, Methods.SupportedEntryPoints, []interface{}{}, &result); err != nil {
		return nil, err
	}
	out := make([]common.Address, len(result))
	for i, a := range result {
		out[i] = common.HexToAddress(a)
	}
	return out, nil
}

// Forward relays a method this gateway doesn't implement itself straight
// through to the bundler, verbatim, returning its raw JSON result. This is
// what backs the eth_/rundler_/debug_ passthrough prefixes in internal/rpc.
func (c *Client) Forward(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
	var parsed []interface{}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &parsed); err != nil {
			return nil, relayerr.NewInvalidInput("params must be a JSON array", nil)
		}
	}

	var result json.RawMessage
	if err := c.call(ctx, method, parsed, &result); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}
	return result, nil
}

// call issues a single JSON-RPC request and maps transport/protocol
// failures onto the shared error taxonomy as mempool rejections.
func (c *Client) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	c.requestID++
	reqBody := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      c.requestID,
		"method":  method,
		"params":  params,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return relayerr.NewInternal(fmt.Errorf("marshal bundler request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return relayerr.NewInternal(fmt.Errorf("build bundler request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return relayerr.NewMempoolRejected(fmt.Sprintf("bundler unreachable: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return relayerr.NewMempoolRejected(fmt.Sprintf("bundler HTTP %d: %s", resp.StatusCode, string(raw)))
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return relayerr.NewInternal(fmt.Errorf("decode bundler response: %w", err))
	}
	if rpcResp.Error != nil {
		return relayerr.NewMempoolRejected(fmt.Sprintf("bundler rejected operation (%d): %s", rpcResp.Error.Code, rpcResp.Error.Message))
	}
	if result != nil && len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return relayerr.NewInternal(fmt.Errorf("unmarshal bundler result: %w", err))
		}
	}
	return nil
}
