package handlers

import (
	"errors"
	"net/http"
	"sync"

	"evalhub/internal/models"
	"evalhub/internal/services"
	"evalhub/internal/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AssignmentHandler exposes the orchestrator over HTTP. Batch results,
// including their manual-delivery queues, are held in memory keyed by batch
// id; the queue lives until its last entry is confirmed or the process
// restarts, matching the UI-session lifetime of the confirmation dialog.
type AssignmentHandler struct {
	log     *zap.Logger
	orch    *services.Orchestrator
	catalog *models.TestCatalog

	mu      sync.Mutex
	batches map[string]*services.BatchResult
}

func NewAssignmentHandler(log *zap.Logger, orch *services.Orchestrator, catalog *models.TestCatalog) *AssignmentHandler {
	return &AssignmentHandler{
		log:     log,
		orch:    orch,
		catalog: catalog,
		batches: make(map[string]*services.BatchResult),
	}
}

type assignRequest struct {
	TestID  string   `json:"test_id" binding:"required"`
	UserIDs []uint   `json:"user_ids"`
	Emails  []string `json:"emails"`
}

// ListTests returns the assignable test catalog.
func (h *AssignmentHandler) ListTests(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tests": h.catalog.Tests})
}

// Create runs one orchestration batch.
func (h *AssignmentHandler) Create(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	test := h.catalog.Find(req.TestID)
	if test == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown test id"})
		return
	}

	refs := make([]services.RecipientRef, 0, len(req.UserIDs)+len(req.Emails))
	for _, id := range req.UserIDs {
		refs = append(refs, services.RecipientRef{UserID: id})
	}
	for _, email := range req.Emails {
		if !utils.IsValidEmail(email) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email: " + email})
			return
		}
		refs = append(refs, services.RecipientRef{Email: email})
	}
	if len(refs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no recipients given"})
		return
	}

	admin := c.MustGet("user").(*models.User)
	result, err := h.orch.Assign(c.Request.Context(), test, refs, admin.ID)
	if err != nil {
		h.log.Error("Assignment batch failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "assignment failed"})
		return
	}

	// Only batches with pending manual deliveries are retained; everything
	// else is fully reported in the response and needs no follow-up calls.
	if result.Manual.Len() > 0 {
		h.mu.Lock()
		h.batches[result.BatchID] = result
		h.mu.Unlock()
	}

	c.JSON(http.StatusOK, gin.H{
		"batch_id":              result.BatchID,
		"succeeded":             result.Succeeded,
		"needs_manual_delivery": result.NeedsManual,
		"failed":                result.Failed,
		"outcomes":              result.Outcomes,
	})
}

func (h *AssignmentHandler) batch(id string) *services.BatchResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.batches[id]
}

// NextManual returns the next manual-delivery entry of a batch, presented
// one at a time.
func (h *AssignmentHandler) NextManual(c *gin.Context) {
	result := h.batch(c.Param("batch"))
	if result == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown batch"})
		return
	}

	entry, ok := result.Manual.Next()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"remaining": 0})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"remaining": result.Manual.Len(),
		"entry":     entry,
	})
}

// ConfirmManual records that an administrator delivered the instructions
// out-of-band and removes the entry from the queue.
func (h *AssignmentHandler) ConfirmManual(c *gin.Context) {
	result := h.batch(c.Param("batch"))
	if result == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown batch"})
		return
	}

	admin := c.MustGet("user").(*models.User)
	err := result.Manual.Confirm(c.Request.Context(), c.Param("handle"), admin.ID)
	if errors.Is(err, services.ErrEntryNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown handle"})
		return
	}
	if err != nil {
		h.log.Error("Manual delivery confirmation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "confirmation failed"})
		return
	}

	remaining := result.Manual.Len()
	if remaining == 0 {
		// Confirming the last entry is the end of the batch's lifecycle;
		// drop it so the map does not grow without bound.
		h.mu.Lock()
		delete(h.batches, c.Param("batch"))
		h.mu.Unlock()
	}
	c.JSON(http.StatusOK, gin.H{"remaining": remaining})
}
