package apihttp

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"tiller/internal/agent"
	"tiller/internal/decision"
	"tiller/internal/logger"
	"tiller/internal/mode"
	"tiller/internal/store"
)

// Router exposes the decision-orchestration API.
type Router struct {
	Service *agent.Service
	Modes   *mode.Registry
	Audit   store.DecisionLog
}

func NewRouter(service *agent.Service, modes *mode.Registry, audit store.DecisionLog) *Router {
	return &Router{Service: service, Modes: modes, Audit: audit}
}

// Register mounts the API routes on the given group.
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.POST("/requests", r.handleProcessRequest)
	group.POST("/decisions/:id/approve", r.handleApprove)
	group.GET("/decisions/pending", r.handlePending)
	group.GET("/decisions", r.handleListDecisions)
	group.GET("/decisions/:id", r.handleDecisionByID)
	group.POST("/autonomous/start", r.handleAutonomousStart)
	group.POST("/autonomous/stop", r.handleAutonomousStop)
	group.GET("/autonomous/status", r.handleAutonomousStatus)
	group.GET("/modes/:user_id", r.handleGetMode)
	group.PUT("/modes/:user_id/preferences", r.handleUpdatePreferences)
}

func (r *Router) handleProcessRequest(c *gin.Context) {
	var req agent.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and text are required"})
		return
	}
	if req.Channel == "" {
		req.Channel = "web"
	}
	payload, err := r.Service.ProcessRequest(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payload)
}

type approveRequest struct {
	UserID string `json:"user_id"`
}

func (r *Router) handleApprove(c *gin.Context) {
	var req approveRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	res, err := r.Service.ApproveAndExecute(c.Request.Context(), c.Param("id"), req.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (r *Router) handlePending(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": r.Service.PendingDecisions(userID)})
}

func (r *Router) handleListDecisions(c *gin.Context) {
	if r.Audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "decision log not enabled"})
		return
	}
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	recs, err := r.Audit.ListRecent(c.Request.Context(), userID, limit)
	if err != nil {
		logger.Errorf("[api] list decisions failed user=%s err=%v", userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": recs})
}

func (r *Router) handleDecisionByID(c *gin.Context) {
	if r.Audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "decision log not enabled"})
		return
	}
	rec, err := r.Audit.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		logger.Warnf("[api] decision detail failed id=%s err=%v", c.Param("id"), err)
		c.JSON(http.StatusNotFound, gin.H{"error": "decision not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decision": rec})
}

type autonomousRequest struct {
	UserID string `json:"user_id"`
}

func (r *Router) handleAutonomousStart(c *gin.Context) {
	var req autonomousRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	cfg, err := r.Service.StartAutonomous(c.Request.Context(), req.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	logger.Infof("[api] autonomous started user=%s", req.UserID)
	c.JSON(http.StatusOK, gin.H{"mode": cfg.Mode, "active": cfg.Active})
}

func (r *Router) handleAutonomousStop(c *gin.Context) {
	var req autonomousRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	cfg, err := r.Service.StopAutonomous(c.Request.Context(), req.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	logger.Infof("[api] autonomous stopped user=%s", req.UserID)
	c.JSON(http.StatusOK, gin.H{"mode": cfg.Mode, "active": cfg.Active})
}

func (r *Router) handleAutonomousStatus(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		c.JSON(http.StatusOK, gin.H{"active_loops": r.Service.ActiveLoops()})
		return
	}
	cfg := r.Modes.Get(c.Request.Context(), userID)
	c.JSON(http.StatusOK, gin.H{
		"mode":         cfg.Mode,
		"active":       cfg.Active,
		"loop_running": r.Service.LoopRunning(userID),
	})
}

func (r *Router) handleGetMode(c *gin.Context) {
	cfg := r.Modes.Get(c.Request.Context(), c.Param("user_id"))
	c.JSON(http.StatusOK, cfg)
}

func (r *Router) handleUpdatePreferences(c *gin.Context) {
	var prefs mode.Preferences
	if err := c.ShouldBindJSON(&prefs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg := r.Modes.UpdatePreferences(c.Request.Context(), c.Param("user_id"), prefs)
	c.JSON(http.StatusOK, cfg)
}

// writeError maps the decision error taxonomy onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	var (
		vErr *decision.ValidationError
		cErr *decision.ConflictError
	)
	switch {
	case errors.As(err, &vErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": vErr.Error(), "field": vErr.Field})
	case errors.As(err, &cErr):
		resp := gin.H{"error": cErr.Error()}
		if cErr.RetryAfter > 0 {
			resp["retry_after_seconds"] = int(cErr.RetryAfter.Seconds())
			c.Header("Retry-After", strconv.Itoa(int(cErr.RetryAfter.Seconds())))
		}
		c.JSON(http.StatusTooManyRequests, resp)
	case errors.Is(err, decision.ErrUnauthorized):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case decision.IsTransient(err):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
