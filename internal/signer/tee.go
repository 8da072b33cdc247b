package signer

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/t402-io/paymaster-relay/internal/relayerr"
)

const (
	teeRequestTimeout = 5 * time.Second
	teeMaxRetries     = 3
	teeRetryBaseDelay = 100 * time.Millisecond
)

// TEEConfig configures the remote dual-signature backend.
type TEEConfig struct {
	Endpoint    string
	AccountID   string
	LocalKeyHex string // signs the header commitment; also the recovered "paymaster address"
	HTTPClient  *http.Client
}

// TEE signs UserOperation hashes through a remote attested signer. The
// paymaster's own key signs a header commitment binding the user's
// signature, account, nonce and timestamp together; the remote side
// recovers the paymaster address from that commitment, independently
// verifies the user's signature, and returns its own signature over the
// UserOperation hash. Per spec §4.4, the local half of the protocol never
// sees or needs the end-user's private key.
type TEE struct {
	cfg        TEEConfig
	headerKey  *ecdsa.PrivateKey
	address    common.Address
	httpClient *http.Client

	mu      sync.Mutex
	nonce   uint64
	healthy bool
}

func NewTEE(cfg TEEConfig) (*TEE, error) {
	keyHex := strings.TrimPrefix(cfg.LocalKeyHex, "0x")
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid TEE header key: %w", err)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: teeRequestTimeout}
	}

	ctx, cancel := context.WithTimeout(context.Background(), teeRequestTimeout)
	defer cancel()

	return &TEE{
		cfg:        cfg,
		headerKey:  key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
		httpClient: client,
		nonce:      recoverLastNonce(ctx, client, cfg.Endpoint, cfg.AccountID),
		healthy:    true,
	}, nil
}

type teeNonceResponse struct {
	Nonce uint64 `json:"nonce"`
}

// recoverLastNonce asks the TEE for the last nonce it accepted for this
// account, so a restarted relay doesn't reuse a nonce the TEE has already
// seen. Any failure to reach or parse the TEE's answer falls back to the
// current Unix time in seconds. That fallback is not compared with the
// nonces issued before the restart: it is only ahead of them when fewer
// nonces were issued than seconds have passed since the earlier seed.
func recoverLastNonce(ctx context.Context, client *http.Client, endpoint, accountID string) uint64 {
	fallback := uint64(time.Now().Unix())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/nonce?accountId="+url.QueryEscape(accountID), nil)
	if err != nil {
		return fallback
	}
	resp, err := client.Do(req)
	if err != nil {
		return fallback
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fallback
	}

	var out teeNonceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fallback
	}
	return out.Nonce
}

type teeSignRequest struct {
	UserOpHash    string `json:"userOpHash"`
	AccountID     string `json:"accountId"`
	UserSignature string `json:"userSignature"`
	Header        string `json:"header"`
	Nonce         uint64 `json:"nonce"`
	Timestamp     int64  `json:"timestamp"`
}

type teeSignResponse struct {
	Signature string `json:"signature"`
	Error     string `json:"error,omitempty"`
}

// Sign runs the dual-signature protocol: it builds the header commitment
// over a monotonic nonce, POSTs it to the remote TEE, and returns the
// signature the TEE emits over req.UserOpHash. req.UserSignature is the end
// user's own UO signature, bound into the header so the TEE can verify it
// independently of the paymaster.
func (t *TEE) Sign(ctx context.Context, req Request) ([]byte, error) {
	t.mu.Lock()
	t.nonce++
	nonce := t.nonce
	t.mu.Unlock()

	// The nonce is issued: finish the exchange even if the caller's context
	// is cancelled, so the TEE sees this nonce resolved before later ones.
	ctx = context.WithoutCancel(ctx)

	header, err := t.signHeader(req.UserOpHash, req.UserSignature, nonce, req.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("build TEE header commitment: %w", err)
	}

	teeReq := teeSignRequest{
		UserOpHash:    req.UserOpHash.Hex(),
		AccountID:     t.cfg.AccountID,
		UserSignature: "0x" + common.Bytes2Hex(req.UserSignature),
		Header:        "0x" + common.Bytes2Hex(header),
		Nonce:         nonce,
		Timestamp:     req.Timestamp,
	}

	var lastErr error
	for attempt := 0; attempt < teeMaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(teeRetryBaseDelay << (attempt - 1))
		}
		sig, err := t.call(ctx, teeReq)
		if err == nil {
			t.mu.Lock()
			t.healthy = true
			t.mu.Unlock()
			return sig, nil
		}
		lastErr = err
		if !isTransportErr(err) {
			// The TEE responded and rejected the request outright; it's
			// not transient, so don't retry and don't mark the backend
			// unhealthy — it's doing its job. Return it unwrapped so
			// relayerr.Is can classify it downstream.
			return nil, lastErr
		}
	}
	t.mu.Lock()
	t.healthy = false
	t.mu.Unlock()
	return nil, fmt.Errorf("TEE sign request failed after %d attempts: %w", teeMaxRetries, lastErr)
}

// signHeader builds keccak256(userOpHash || accountId || keccak256(userSignature) || nonce || timestamp)
// using tight byte-packing (not standard ABI encoding) as described by
// spec §4.4's dual-signature protocol, then signs it with the paymaster's
// local key.
func (t *TEE) signHeader(userOpHash common.Hash, userSignature []byte, nonce uint64, timestamp int64) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(userOpHash.Bytes())
	buf.WriteString(t.cfg.AccountID)
	userSigHash := crypto.Keccak256(userSignature)
	buf.Write(userSigHash)
	var nonceBytes [8]byte
	putUint64BE(nonceBytes[:], nonce)
	buf.Write(nonceBytes[:])
	var tsBytes [8]byte
	putUint64BE(tsBytes[:], uint64(timestamp))
	buf.Write(tsBytes[:])

	digest := crypto.Keccak256(buf.Bytes())
	sig, err := crypto.Sign(digest, t.headerKey)
	if err != nil {
		return nil, err
	}
	normalizeMalleability(sig)
	sig[64] += 27
	return sig, nil
}

func (t *TEE) call(ctx context.Context, req teeSignRequest) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal TEE request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build TEE request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Paymaster-Signature", req.Header)
	httpReq.Header.Set("X-Paymaster-Address", t.address.Hex())

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, &transportErr{err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &transportErr{fmt.Errorf("TEE returned %d: %s", resp.StatusCode, string(respBody))}
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, relayerr.NewSignerRejected(fmt.Sprintf("TEE rejected request (%d): %s", resp.StatusCode, string(respBody)))
	}

	var out teeSignResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode TEE response: %w", err)
	}
	if out.Error != "" {
		return nil, relayerr.NewSignerRejected(out.Error)
	}
	return common.FromHex(out.Signature), nil
}

type transportErr struct{ err error }

func (t *transportErr) Error() string { return t.err.Error() }
func (t *transportErr) Unwrap() error { return t.err }

func isTransportErr(err error) bool {
	_, ok := err.(*transportErr)
	return ok
}

func putUint64BE(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

func (t *TEE) Address() common.Address { return t.address }

func (t *TEE) Healthy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.healthy
}

func (t *TEE) Name() string { return "tee" }
