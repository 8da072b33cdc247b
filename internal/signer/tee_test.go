package signer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/t402-io/paymaster-relay/internal/relayerr"
)

func remoteSigFor(t *testing.T, userOpHash common.Hash) string {
	t.Helper()
	key, err := crypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	sig, err := crypto.Sign(userOpHash.Bytes(), key)
	require.NoError(t, err)
	normalizeMalleability(sig)
	sig[64] += 27
	return "0x" + common.Bytes2Hex(sig)
}

func TestTEESignReturnsRemoteSignature(t *testing.T) {
	var userOpHash common.Hash
	copy(userOpHash[:], crypto.Keccak256([]byte("s1-end-to-end")))
	wantSig := remoteSigFor(t, userOpHash)

	var gotNonce uint64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			json.NewEncoder(w).Encode(teeNonceResponse{Nonce: 0})
			return
		}
		var req teeSignRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		atomic.StoreUint64(&gotNonce, req.Nonce)
		json.NewEncoder(w).Encode(teeSignResponse{Signature: wantSig})
	}))
	defer srv.Close()

	tee, err := NewTEE(TEEConfig{Endpoint: srv.URL, AccountID: "acct-1", LocalKeyHex: testKeyHex})
	require.NoError(t, err)

	sig, err := tee.Sign(context.Background(), Request{
		UserOpHash:    userOpHash,
		UserSignature: []byte{0xde, 0xad, 0xbe, 0xef},
		Timestamp:     1_700_000_000,
	})
	require.NoError(t, err)
	require.Equal(t, common.FromHex(wantSig), sig)
	require.Equal(t, uint64(1), atomic.LoadUint64(&gotNonce))
}

func TestTEESignNonceIsMonotonic(t *testing.T) {
	var nonces []uint64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			json.NewEncoder(w).Encode(teeNonceResponse{Nonce: 0})
			return
		}
		var req teeSignRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		nonces = append(nonces, req.Nonce)
		json.NewEncoder(w).Encode(teeSignResponse{Signature: "0x" + common.Bytes2Hex(make([]byte, 65))})
	}))
	defer srv.Close()

	tee, err := NewTEE(TEEConfig{Endpoint: srv.URL, AccountID: "acct-1", LocalKeyHex: testKeyHex})
	require.NoError(t, err)

	var h common.Hash
	for i := 0; i < 3; i++ {
		_, err := tee.Sign(context.Background(), Request{UserOpHash: h, Timestamp: 1})
		require.NoError(t, err)
	}
	require.Equal(t, []uint64{1, 2, 3}, nonces)
}

func TestTEESignRetriesOnServerError(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			json.NewEncoder(w).Encode(teeNonceResponse{Nonce: 0})
			return
		}
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(teeSignResponse{Signature: "0x" + common.Bytes2Hex(make([]byte, 65))})
	}))
	defer srv.Close()

	tee, err := NewTEE(TEEConfig{Endpoint: srv.URL, AccountID: "acct-1", LocalKeyHex: testKeyHex})
	require.NoError(t, err)

	_, err = tee.Sign(context.Background(), Request{Timestamp: 1})
	require.NoError(t, err)
	require.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	require.True(t, tee.Healthy())
}

func TestTEESignDoesNotRetryOnClientRejection(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			json.NewEncoder(w).Encode(teeNonceResponse{Nonce: 0})
			return
		}
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	tee, err := NewTEE(TEEConfig{Endpoint: srv.URL, AccountID: "acct-1", LocalKeyHex: testKeyHex})
	require.NoError(t, err)

	_, err = tee.Sign(context.Background(), Request{Timestamp: 1})
	require.Error(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&attempts))
	require.True(t, relayerr.Is(err, relayerr.SignerRejected))
	// A rejecting-but-responsive TEE isn't an unhealthy backend.
	require.True(t, tee.Healthy())
}

func TestTEESignMarksUnhealthyAfterExhaustingRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			json.NewEncoder(w).Encode(teeNonceResponse{Nonce: 0})
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tee, err := NewTEE(TEEConfig{Endpoint: srv.URL, AccountID: "acct-1", LocalKeyHex: testKeyHex})
	require.NoError(t, err)

	_, err = tee.Sign(context.Background(), Request{Timestamp: 1})
	require.Error(t, err)
	require.False(t, relayerr.Is(err, relayerr.SignerRejected))
	require.False(t, tee.Healthy())
}

func TestTEERecoversLastNonceFromServer(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gotPath = r.URL.Path
			json.NewEncoder(w).Encode(teeNonceResponse{Nonce: 41})
			return
		}
		var req teeSignRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, uint64(42), req.Nonce)
		json.NewEncoder(w).Encode(teeSignResponse{Signature: "0x" + common.Bytes2Hex(make([]byte, 65))})
	}))
	defer srv.Close()

	tee, err := NewTEE(TEEConfig{Endpoint: srv.URL, AccountID: "acct-1", LocalKeyHex: testKeyHex})
	require.NoError(t, err)
	require.Equal(t, "/nonce", gotPath)

	_, err = tee.Sign(context.Background(), Request{Timestamp: 1})
	require.NoError(t, err)
}

func TestTEERecoverLastNonceFallsBackWhenUnreachable(t *testing.T) {
	tee, err := NewTEE(TEEConfig{Endpoint: "http://127.0.0.1:0", AccountID: "acct-1", LocalKeyHex: testKeyHex})
	require.NoError(t, err)
	require.NotZero(t, tee.nonce)
}
