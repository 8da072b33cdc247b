package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/t402-io/paymaster-relay/internal/health"
	"github.com/t402-io/paymaster-relay/internal/relayerr"
	"github.com/t402-io/paymaster-relay/internal/sponsorship"
	"github.com/t402-io/paymaster-relay/internal/uop"
)

// handleHealth runs every registered component check (signer, mempool,
// cache) and returns the aggregate status of the service. Per spec §4.8
// it answers 200 only while every component is Ready; Degraded or Failed
// components fail the health check outright.
func (s *Server) handleHealth(c *gin.Context) {
	resp := s.checker.Run(c.Request.Context(), 5*time.Second)

	status := http.StatusOK
	if resp.State != health.Ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

// handleReady runs the same aggregate check as handleHealth but with a
// looser gate suited to load-balancer/orchestrator readiness probes: a
// Degraded component (still serving, just past its failure-streak
// threshold) keeps the instance in rotation, only Failed takes it out.
func (s *Server) handleReady(c *gin.Context) {
	resp := s.checker.Run(c.Request.Context(), 5*time.Second)

	status := http.StatusOK
	if resp.State == health.Failed {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

// handleRPC serves the JSON-RPC 2.0 envelope: single objects and batch
// arrays both go through rpc.Router.Dispatch.
func (s *Server) handleRPC(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	resp := s.router.Dispatch(c.Request.Context(), body)
	c.Data(http.StatusOK, "application/json", resp)
}

// sponsorUserOperationParams is the positional params array of
// pm_sponsorUserOperation: [userOp, entryPoint, context?].
type sponsorUserOperationParams struct {
	UserOp     *uop.Wire
	EntryPoint common.Address
	PolicyTag  string
}

func parseSponsorParams(raw json.RawMessage) (sponsorUserOperationParams, error) {
	var positional []json.RawMessage
	if err := json.Unmarshal(raw, &positional); err != nil {
		return sponsorUserOperationParams{}, relayerr.NewInvalidInput("params must be a JSON array", nil)
	}
	if len(positional) < 2 {
		return sponsorUserOperationParams{}, relayerr.NewInvalidInput("params must include [userOp, entryPoint]", nil)
	}

	var wire uop.Wire
	if err := json.Unmarshal(positional[0], &wire); err != nil {
		return sponsorUserOperationParams{}, relayerr.NewInvalidInput("malformed userOp: "+err.Error(), nil)
	}

	var entryPointHex string
	if err := json.Unmarshal(positional[1], &entryPointHex); err != nil {
		return sponsorUserOperationParams{}, relayerr.NewInvalidInput("entryPoint must be a hex address string", nil)
	}

	p := sponsorUserOperationParams{UserOp: &wire, EntryPoint: common.HexToAddress(entryPointHex)}
	if len(positional) >= 3 {
		var ctxObj struct {
			PolicyTag string `json:"policyTag"`
		}
		if err := json.Unmarshal(positional[2], &ctxObj); err == nil {
			p.PolicyTag = ctxObj.PolicyTag
		}
	}
	return p, nil
}

// handleSponsorUserOperation is the pm_sponsorUserOperation RPC handler.
func (s *Server) handleSponsorUserOperation(ctx context.Context, params json.RawMessage) (interface{}, error) {
	p, err := parseSponsorParams(params)
	if err != nil {
		return nil, err
	}

	result, err := s.service.Sponsor(ctx, sponsorship.Request{
		Wire:       p.UserOp,
		EntryPoint: p.EntryPoint,
		PolicyTag:  p.PolicyTag,
	})
	if err != nil {
		s.recordSponsorshipOutcome(err)
		return nil, err
	}
	s.metrics.RecordSponsorship("accepted")
	return result.UserOpHash.Hex(), nil
}

// sponsorRequestBody is the REST facade's JSON request shape, equivalent
// to pm_sponsorUserOperation's positional params.
type sponsorRequestBody struct {
	UserOperation *uop.Wire `json:"user_op" binding:"required"`
	EntryPoint    string    `json:"entry_point" binding:"required"`
	PolicyTag     string    `json:"policyTag"`
}

func sponsorResponseBody(result *sponsorship.Result) gin.H {
	return gin.H{
		"userOperation": result.UserOperation,
		"userOpHash":    result.UserOpHash.Hex(),
		"submitted":     result.Submitted,
	}
}

// handleSponsorREST is the REST facade over the same sponsorship
// pipeline the JSON-RPC handler uses, for callers that prefer plain HTTP.
func (s *Server) handleSponsorREST(c *gin.Context) {
	var body sponsorRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.service.Sponsor(c.Request.Context(), sponsorship.Request{
		Wire:       body.UserOperation,
		EntryPoint: common.HexToAddress(body.EntryPoint),
		PolicyTag:  body.PolicyTag,
	})
	if err != nil {
		s.recordSponsorshipOutcome(err)
		s.writeRelayError(c, err)
		return
	}

	s.metrics.RecordSponsorship("accepted")
	c.JSON(http.StatusOK, sponsorResponseBody(result))
}

func (s *Server) recordSponsorshipOutcome(err error) {
	if re, ok := err.(*relayerr.RelayError); ok {
		s.metrics.RecordSponsorship(string(re.Kind))
		if re.Kind == relayerr.PolicyRejected {
			if rule, ok := re.Detail["rule"].(string); ok {
				s.metrics.RecordPolicyRejection(rule)
			}
		}
		return
	}
	s.metrics.RecordSponsorship("internal_error")
}

func (s *Server) writeRelayError(c *gin.Context, err error) {
	if re, ok := err.(*relayerr.RelayError); ok {
		c.JSON(re.HTTPStatus(), gin.H{"error": re.Message, "kind": re.Kind, "detail": re.Detail})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
