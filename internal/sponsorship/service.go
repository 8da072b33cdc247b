// Package sponsorship orchestrates pm_sponsorUserOperation end to end, per
// spec §4.6: decode, validate, rate-limit, police, sign, splice, submit.
package sponsorship

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/t402-io/paymaster-relay/internal/mempool"
	"github.com/t402-io/paymaster-relay/internal/policy"
	"github.com/t402-io/paymaster-relay/internal/ratelimit"
	"github.com/t402-io/paymaster-relay/internal/relayerr"
	"github.com/t402-io/paymaster-relay/internal/signer"
	"github.com/t402-io/paymaster-relay/internal/uop"
	"github.com/t402-io/paymaster-relay/internal/validator"
)

// Validity is how long a sponsorship commitment is good for once signed.
const Validity = 5 * time.Minute

// Request is the inbound ask: an unsigned (or partially signed)
// UserOperation plus the entry point and optional policy tag it should be
// evaluated against.
type Request struct {
	Wire       *uop.Wire
	EntryPoint common.Address
	PolicyTag  string
}

// Result is what the caller gets back on success.
type Result struct {
	UserOperation *uop.Wire
	UserOpHash    common.Hash
	Submitted     bool
}

// Service wires together every component in the sponsorship pipeline.
type Service struct {
	Validator *validator.Validator
	Policy    *policy.Engine
	RateLimit ratelimit.Limiter
	Signer    signer.Backend
	Mempool   *mempool.Client
	ChainID   int64

	now func() time.Time
}

func New(v *validator.Validator, p *policy.Engine, rl ratelimit.Limiter, s signer.Backend, mp *mempool.Client, chainID int64) *Service {
	return &Service{
		Validator: v,
		Policy:    p,
		RateLimit: rl,
		Signer:    s,
		Mempool:   mp,
		ChainID:   chainID,
		now:       time.Now,
	}
}

// Sponsor runs the full pipeline and, on success, submits the sponsored
// UserOperation to the mempool.
func (s *Service) Sponsor(ctx context.Context, req Request) (*Result, error) {
	u, err := uop.Decode(req.Wire)
	if err != nil {
		return nil, relayerr.NewInvalidInput(err.Error(), nil)
	}

	if err := s.Validator.Validate(u, req.EntryPoint); err != nil {
		return nil, err
	}

	if s.RateLimit != nil {
		allowed, _, err := s.RateLimit.Allow(ctx, u.Sender.Hex())
		if err != nil {
			return nil, relayerr.NewInternal(err)
		}
		if !allowed {
			return nil, relayerr.NewRateLimited()
		}
	}

	p := s.Policy.Resolve(req.PolicyTag)
	if err := s.Policy.Evaluate(&policy.Request{UO: u, EntryPoint: req.EntryPoint, PolicyTag: req.PolicyTag}, p); err != nil {
		return nil, err
	}

	userOpHash, err := uop.Hash(u, req.EntryPoint, s.ChainID)
	if err != nil {
		return nil, relayerr.NewInternal(err)
	}

	now := s.now()
	window := uop.ValidityWindow{
		ValidAfter: uint64(now.Unix()),
		ValidUntil: uint64(now.Add(Validity).Unix()),
	}

	sig, err := s.Signer.Sign(ctx, signer.Request{
		UserOpHash:    userOpHash,
		UserSignature: u.Signature,
		Timestamp:     now.Unix(),
	})
	if err != nil {
		if relayerr.Is(err, relayerr.SignerUnavailable) || relayerr.Is(err, relayerr.SignerRejected) {
			return nil, err
		}
		return nil, relayerr.NewSignerUnavailable(err)
	}

	uop.Splice(u, s.Signer.Address(), window, sig)

	// Splicing paymasterData changes the packed UO, so the hash the
	// bundler/EntryPoint will actually see differs from userOpHash above
	// (which is what the paymaster signed). Recompute it for the caller.
	finalHash, err := uop.Hash(u, req.EntryPoint, s.ChainID)
	if err != nil {
		return nil, relayerr.NewInternal(err)
	}

	if _, err := s.Mempool.Submit(ctx, u); err != nil {
		return nil, err
	}

	return &Result{
		UserOperation: uop.Encode(u),
		UserOpHash:    finalHash,
		Submitted:     true,
	}, nil
}
