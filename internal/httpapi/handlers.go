package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/agentkernel/kernel/internal/kernel"
)

// actionRequest is the wire shape for POST /v1/actions: a JSON rendering
// of kernel.Intent, since Intent itself has fields (InvokeArgs []any,
// State map[string]any) that are already JSON-friendly.
type actionRequest struct {
	Kind             string         `json:"kind" binding:"required"`
	PrincipalID      string         `json:"principal_id" binding:"required"`
	Reasoning        string         `json:"reasoning"`
	ArtifactID       string         `json:"artifact_id"`
	ArtifactType     string         `json:"artifact_type"`
	Content          string         `json:"content"`
	Executable       bool           `json:"executable"`
	Code             string         `json:"code"`
	Price            int64          `json:"price"`
	AccessContractID string         `json:"access_contract_id"`
	State            map[string]any `json:"state"`
	Metadata         map[string]any `json:"metadata"`
	OldString        string         `json:"old_string"`
	NewString        string         `json:"new_string"`
	InvokeArgs       []any          `json:"invoke_args"`
	Topic            string         `json:"topic"`
}

func (s *Server) handleExecuteAction(c *gin.Context) {
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := s.world.ExecuteAction(kernel.Intent{
		Kind:             kernel.IntentKind(req.Kind),
		PrincipalID:      req.PrincipalID,
		Reasoning:        req.Reasoning,
		ArtifactID:       req.ArtifactID,
		ArtifactType:     req.ArtifactType,
		Content:          req.Content,
		Executable:       req.Executable,
		Code:             req.Code,
		Price:            req.Price,
		AccessContractID: req.AccessContractID,
		State:            req.State,
		Metadata:         req.Metadata,
		OldString:        req.OldString,
		NewString:        req.NewString,
		InvokeArgs:       req.InvokeArgs,
		Topic:            req.Topic,
	})

	status := http.StatusOK
	if !result.Success {
		status = statusForErrorCode(result.ErrorCode)
	}
	c.JSON(status, result)
}

// statusForErrorCode maps the kernel's wire-stable error codes onto HTTP
// status codes, the way the teacher's middleware.ErrorHandler maps its
// own domain errors onto response codes rather than always returning 500.
func statusForErrorCode(code string) int {
	switch code {
	case "NOT_FOUND":
		return http.StatusNotFound
	case "NOT_AUTHORIZED":
		return http.StatusForbidden
	case "INSUFFICIENT_FUNDS", "QUOTA_EXCEEDED", "RATE_LIMITED":
		return http.StatusTooManyRequests
	case "INVALID_ARGUMENT", "INVALID_TYPE", "SYNTAX_ERROR":
		return http.StatusBadRequest
	case "TIMEOUT":
		return http.StatusGatewayTimeout
	case "DELETED":
		return http.StatusGone
	default:
		return http.StatusUnprocessableEntity
	}
}

func (s *Server) handleGetArtifact(c *gin.Context) {
	result := s.world.ExecuteAction(kernel.Intent{
		Kind:        kernel.IntentRead,
		PrincipalID: c.Query("as"),
		ArtifactID:  c.Param("id"),
	})
	status := http.StatusOK
	if !result.Success {
		status = statusForErrorCode(result.ErrorCode)
	}
	c.JSON(status, result)
}

func (s *Server) handleGetBalances(c *gin.Context) {
	principal := c.Param("principal")
	c.JSON(http.StatusOK, gin.H{
		"principal": principal,
		"scrip":     s.world.Ledger().GetScrip(principal),
		"resources": s.world.Ledger().Balances(principal),
	})
}

type mintSubmissionRequest struct {
	PrincipalID string `json:"principal_id" binding:"required"`
	ArtifactID  string `json:"artifact_id" binding:"required"`
	Bid         int64  `json:"bid" binding:"required"`
}

func (s *Server) handleSubmitForMint(c *gin.Context) {
	var req mintSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	submissionID, err := s.world.SubmitForMint(req.PrincipalID, req.ArtifactID, req.Bid)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"submission_id": submissionID})
}

func (s *Server) handleMintHistory(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	c.JSON(http.StatusOK, gin.H{"history": s.world.MintHistory(limit)})
}

func (s *Server) handleEvents(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	c.JSON(http.StatusOK, gin.H{"events": s.world.RecentEvents(limit)})
}
