// Package httpapi wires the Sync Reconciler and VMUR Workflow onto an
// HTTP surface. The Aggregator Dispatcher has no HTTP routes.
//
// Grounded on the teacher's examples/webserver/main.go: a gin.Engine
// with trusted-proxy hardening, one handler per endpoint binding a
// request struct, backend-derived signals read off the request rather
// than trusted from the body.
package httpapi

import (
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	internalerrors "github.com/neighborhood-lab/care-commons-sub013/internal/errors"
	"github.com/neighborhood-lab/care-commons-sub013/internal/sync"
	"github.com/neighborhood-lab/care-commons-sub013/internal/telemetry"
	"github.com/neighborhood-lab/care-commons-sub013/internal/vmur"
	"github.com/neighborhood-lab/care-commons-sub013/pkg/models"
)

// Server bundles the domain workflows behind the HTTP API.
type Server struct {
	reconciler *sync.Reconciler
	vmurs      *vmur.Workflow
	telemetry  *telemetry.Telemetry
}

// New builds a Server. telemetry may not be nil — every request is
// logged through it, and the push handler records its batch size.
func New(reconciler *sync.Reconciler, vmurs *vmur.Workflow, tel *telemetry.Telemetry) *Server {
	return &Server{reconciler: reconciler, vmurs: vmurs, telemetry: tel}
}

// Router builds the gin.Engine, trusting only loopback as a proxy
// (same hardening as the teacher's webserver example).
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.loggingMiddleware())
	_ = r.SetTrustedProxies([]string{"127.0.0.1"})

	v1 := r.Group("/api/v1")
	v1.GET("/sync/pull", s.handlePull)
	v1.POST("/sync/push", s.handlePush)
	v1.POST("/vmur", s.handleVMURCreate)
	v1.POST("/vmur/:id/approve", s.handleVMURApprove)
	v1.POST("/vmur/:id/deny", s.handleVMURDeny)

	return r
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.telemetry.Logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

type pullQuery struct {
	CaregiverID  string `form:"caregiverId" binding:"required"`
	LastPulledAt string `form:"lastPulledAt"`
}

func (s *Server) handlePull(c *gin.Context) {
	var q pullQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	since := time.Time{}
	if q.LastPulledAt != "" {
		parsed, err := time.Parse(time.RFC3339, q.LastPulledAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "lastPulledAt must be RFC3339"})
			return
		}
		since = parsed
	}

	page, err := s.reconciler.Pull(c.Request.Context(), models.CaregiverID(q.CaregiverID), since)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

type pushChange struct {
	EntityType      string                `json:"entityType" binding:"required"`
	EntityID        string                `json:"entityId" binding:"required"`
	Operation       string                `json:"operation" binding:"required"`
	ClientTimestamp time.Time             `json:"clientTimestamp" binding:"required"`
	SequenceInBatch int                   `json:"sequenceInBatch"`
	Payload         sync.TimeEntryPayload `json:"payload"`
}

type pushRequest struct {
	DeviceID string       `json:"deviceId" binding:"required"`
	Changes  []pushChange `json:"changes" binding:"required"`
}

func (s *Server) handlePush(c *gin.Context) {
	var req pushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	changes := make([]sync.Change, len(req.Changes))
	for i, ch := range req.Changes {
		changes[i] = sync.Change{
			EntityType:      ch.EntityType,
			EntityID:        models.VisitID(ch.EntityID),
			Operation:       ch.Operation,
			ClientTimestamp: ch.ClientTimestamp,
			SequenceInBatch: ch.SequenceInBatch,
			Payload:         ch.Payload,
		}
	}

	result, err := s.reconciler.Push(c.Request.Context(), models.DeviceID(req.DeviceID), changes)
	if err != nil {
		writeError(c, err)
		return
	}
	if s.telemetry != nil {
		s.telemetry.Metrics.SyncBatchSizes.Observe(float64(len(changes)))
	}
	c.JSON(http.StatusOK, result)
}

type vmurCreateRequest struct {
	VMURID                 string         `json:"vmurId" binding:"required"`
	RecordID               string         `json:"recordId" binding:"required"`
	ReasonCode             string         `json:"reasonCode" binding:"required"`
	Justification          string         `json:"justification"`
	CorrectedData          map[string]any `json:"correctedData"`
	ChangeSummary          string         `json:"changeSummary"`
	Requester              string         `json:"requester" binding:"required"`
	RequesterHasVMURCreate bool           `json:"requesterHasVmurCreate"`
}

func (s *Server) handleVMURCreate(c *gin.Context) {
	var req vmurCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	v, err := s.vmurs.Create(c.Request.Context(), vmur.CreateInput{
		VMURID: req.VMURID, RecordID: models.RecordID(req.RecordID), ReasonCode: req.ReasonCode,
		Justification: req.Justification, CorrectedData: req.CorrectedData, ChangeSummary: req.ChangeSummary,
		Requester: req.Requester, RequesterHasVMURCreate: req.RequesterHasVMURCreate, Now: time.Now(),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

type vmurDecisionRequest struct {
	Actor           string `json:"actor" binding:"required"`
	Notes           string `json:"notes"`
	HasApprovalRole bool   `json:"hasApprovalRole"`
}

func (s *Server) handleVMURApprove(c *gin.Context) {
	var req vmurDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	v, forked, err := s.vmurs.Approve(c.Request.Context(), c.Param("id"), req.HasApprovalRole, req.Actor, req.Notes, time.Now())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"vmur": v, "forkedRecord": forked})
}

func (s *Server) handleVMURDeny(c *gin.Context) {
	var req vmurDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	v, err := s.vmurs.Deny(c.Request.Context(), c.Param("id"), req.Actor, req.Notes)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// writeError maps the module's error Kind taxonomy onto HTTP status
// codes (spec.md §7).
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var kind internalerrors.Kind
	var moduleErr *internalerrors.Error
	if stderrors.As(err, &moduleErr) {
		kind = moduleErr.Kind
		switch kind {
		case internalerrors.KindInputValidation:
			status = http.StatusBadRequest
		case internalerrors.KindInvalidTransition, internalerrors.KindConflict, internalerrors.KindLocked:
			status = http.StatusConflict
		case internalerrors.KindVerificationFailed, internalerrors.KindTamperDetected:
			status = http.StatusUnprocessableEntity
		case internalerrors.KindPermissionDenied, internalerrors.KindAuthenticationFailed:
			status = http.StatusForbidden
		case internalerrors.KindNotFound:
			status = http.StatusNotFound
		case internalerrors.KindAggregatorRetriable, internalerrors.KindAggregatorTerminal:
			status = http.StatusBadGateway
		}
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": string(kind)})
}
