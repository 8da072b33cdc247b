package rpc

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/t402-io/paymaster-relay/internal/relayerr"
)

func decodeResponse(t *testing.T, raw []byte) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(raw, &resp))
	return resp
}

func TestDispatchRoutesPMMethodToHandler(t *testing.T) {
	r := NewRouter(nil)
	r.Register("pm_sponsorUserOperation", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return map[string]string{"status": "ok"}, nil
	})

	resp := decodeResponse(t, r.Dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"pm_sponsorUserOperation","params":[]}`)))
	require.Nil(t, resp.Error)
	require.NotNil(t, resp.Result)
}

func TestDispatchForwardsEthMethodsToPassthrough(t *testing.T) {
	var forwardedMethod string
	r := NewRouter(func(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
		forwardedMethod = method
		return "0xdeadbeef", nil
	})

	resp := decodeResponse(t, r.Dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","id":2,"method":"eth_sendUserOperation","params":[]}`)))
	require.Nil(t, resp.Error)
	require.Equal(t, "eth_sendUserOperation", forwardedMethod)
}

func TestDispatchRejectsUnknownMethod(t *testing.T) {
	r := NewRouter(nil)
	resp := decodeResponse(t, r.Dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","id":3,"method":"totally_unknown","params":[]}`)))
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestDispatchRejectsMissingJSONRPCVersion(t *testing.T) {
	r := NewRouter(nil)
	resp := decodeResponse(t, r.Dispatch(context.Background(), []byte(`{"id":4,"method":"pm_sponsorUserOperation"}`)))
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeInvalidRequest, resp.Error.Code)
}

func TestDispatchMapsRelayErrorToStableRPCCode(t *testing.T) {
	r := NewRouter(nil)
	r.Register("pm_sponsorUserOperation", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return nil, relayerr.NewPolicyRejected("max_call_gas")
	})

	resp := decodeResponse(t, r.Dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","id":5,"method":"pm_sponsorUserOperation"}`)))
	require.NotNil(t, resp.Error)
	require.Equal(t, relayerr.NewPolicyRejected("x").RPCCode(), resp.Error.Code)
}

func TestDispatchHandlesBatchRequests(t *testing.T) {
	r := NewRouter(nil)
	r.Register("pm_sponsorUserOperation", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return "ok", nil
	})

	raw := r.Dispatch(context.Background(), []byte(`[
		{"jsonrpc":"2.0","id":1,"method":"pm_sponsorUserOperation"},
		{"jsonrpc":"2.0","id":2,"method":"nope"}
	]`))
	var responses []Response
	require.NoError(t, json.Unmarshal(raw, &responses))
	require.Len(t, responses, 2)
	require.Nil(t, responses[0].Error)
	require.NotNil(t, responses[1].Error)
}

func TestDispatchRejectsInvalidJSON(t *testing.T) {
	r := NewRouter(nil)
	resp := decodeResponse(t, r.Dispatch(context.Background(), []byte(`not json`)))
	require.NotNil(t, resp.Error)
	require.Equal(t, CodeParseError, resp.Error.Code)
}
