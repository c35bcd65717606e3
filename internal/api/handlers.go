package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quotaledger/quotaledger/internal/errors"
	"github.com/quotaledger/quotaledger/internal/models"
)

// writeError maps err onto a status code: validation 400, unknown ids 404,
// store or oracle unavailability 503, anything else 500.
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	kind := "internal"
	switch {
	case errors.IsValidation(err):
		status, kind = http.StatusBadRequest, "validation"
	case errors.IsNotFound(err):
		status, kind = http.StatusNotFound, "not_found"
	case errors.IsRetryable(err), errors.Is(err, context.DeadlineExceeded):
		status, kind = http.StatusServiceUnavailable, "unavailable"
	}

	endpoint := c.FullPath()
	if status >= http.StatusInternalServerError {
		s.logger.ErrorWithContext(c.Request.Context(), "request failed",
			"endpoint", endpoint, "status", status, "error", err.Error())
	}
	s.metrics.RecordError(kind, endpoint, c.Request.Method)
	c.JSON(status, ErrorResponse{Error: kind, Message: err.Error(), Code: status})
}

// bind decodes the JSON body into v, answering 400 on failure.
func (s *Server) bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		s.writeError(c, errors.Invalid("body", "%v", err))
		return false
	}
	return true
}

// handleHealth reports whether the store is reachable.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := s.engine.SyncState()
	body := gin.H{
		"timestamp":  time.Now().UTC(),
		"reconcile":  status.Running,
		"circuit":    status.Circuit,
		"store":      "ok",
		"status":     "healthy",
		"last_sync":  nil,
		"sync_pairs": len(status.States),
	}
	if status.LastReport != nil {
		body["last_sync"] = status.LastReport.FinishedAt
	}
	if err := s.engine.Health(ctx); err != nil {
		body["status"] = "unhealthy"
		body["store"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleCreateQuota(c *gin.Context) {
	var req models.CreateQuotaRequest
	if !s.bind(c, &req) {
		return
	}
	q, err := s.engine.CreateQuota(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, q)
}

// handleListQuotas accepts one of ?all, ?group= or ?user=.
func (s *Server) handleListQuotas(c *gin.Context) {
	_, all := c.GetQuery("all")
	filter := models.QuotaFilter{
		All:   all,
		Group: c.Query("group"),
		User:  c.Query("user"),
	}
	quotas, err := s.engine.ListQuota(c.Request.Context(), filter)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, quotas)
}

func (s *Server) handleGetQuota(c *gin.Context) {
	q, err := s.engine.GetQuota(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (s *Server) handleModifyQuota(c *gin.Context) {
	var patch models.QuotaPatch
	if !s.bind(c, &patch) {
		return
	}
	q, err := s.engine.ModifyQuota(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (s *Server) handleDeleteQuota(c *gin.Context) {
	id := c.Param("id")
	if err := s.engine.DeleteQuota(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "id": id})
}

// CheckRequest is the body of an admission check. An omitted count means
// one unit; only an explicit zero asks for a read-only decision.
type CheckRequest struct {
	User   string `json:"user"`
	Flavor string `json:"flavor"`
	Count  uint32 `json:"count"`
}

// handleCheck answers 200 for both allowed and denied decisions.
func (s *Server) handleCheck(c *gin.Context) {
	req := CheckRequest{Count: 1}
	if !s.bind(c, &req) {
		return
	}
	d, err := s.engine.CheckAdmission(c.Request.Context(), req.User, req.Flavor, req.Count)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// CreateBudgetRequest is the body of a new budget.
type CreateBudgetRequest struct {
	User  string `json:"user"`
	Limit int64  `json:"limit"`
}

func (s *Server) handleCreateBudget(c *gin.Context) {
	var req CreateBudgetRequest
	if !s.bind(c, &req) {
		return
	}
	b, err := s.engine.CreateBudget(c.Request.Context(), req.User, req.Limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

func (s *Server) handleListBudgets(c *gin.Context) {
	budgets, err := s.engine.ListBudgets(c.Request.Context(), c.Query("user"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, budgets)
}

func (s *Server) handleGetBudget(c *gin.Context) {
	b, err := s.engine.GetBudget(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (s *Server) handleModifyBudget(c *gin.Context) {
	var patch models.BudgetPatch
	if !s.bind(c, &patch) {
		return
	}
	b, err := s.engine.ModifyBudget(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (s *Server) handleDeleteBudget(c *gin.Context) {
	id := c.Param("id")
	if err := s.engine.DeleteBudget(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "id": id})
}

// CreateFlavorRequest is the body of a new flavor.
type CreateFlavorRequest struct {
	Name  string `json:"name"`
	Group string `json:"group"`
}

func (s *Server) handleCreateFlavor(c *gin.Context) {
	var req CreateFlavorRequest
	if !s.bind(c, &req) {
		return
	}
	f, err := s.engine.CreateFlavor(c.Request.Context(), req.Name, req.Group)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, f)
}

func (s *Server) handleListFlavors(c *gin.Context) {
	flavors, err := s.engine.ListFlavors(c.Request.Context(), c.Query("group"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, flavors)
}

func (s *Server) handleGetFlavor(c *gin.Context) {
	f, err := s.engine.GetFlavor(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

func (s *Server) handleDeleteFlavor(c *gin.Context) {
	id := c.Param("id")
	if err := s.engine.DeleteFlavor(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "id": id})
}

func (s *Server) handleGetReservation(c *gin.Context) {
	r, err := s.engine.GetReservation(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) handleReleaseReservation(c *gin.Context) {
	id := c.Param("id")
	if err := s.engine.ReleaseReservation(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "released", "id": id})
}

func (s *Server) handleConfirmReservation(c *gin.Context) {
	id := c.Param("id")
	if err := s.engine.ConfirmReservation(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "confirmed", "id": id})
}

func (s *Server) handleListOver(c *gin.Context) {
	records, err := s.engine.ListOverBudget(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func (s *Server) handleTriggerSync(c *gin.Context) {
	report, err := s.engine.TriggerSync(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleSyncState(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.SyncState())
}
