package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/Valgeir99/distributed-optimization-solver/pkgs/coordinator"
	"github.com/Valgeir99/distributed-optimization-solver/pkgs/ledger"
	"github.com/Valgeir99/distributed-optimization-solver/pkgs/registry"
	"github.com/Valgeir99/distributed-optimization-solver/pkgs/storage"
)

const agentIDHeader = "X-Agent-ID"

// Server is the HTTP surface agents talk to. All protocol decisions live in
// the coordinator; handlers translate between HTTP and protocol errors.
type Server struct {
	coord    *coordinator.Coordinator
	registry *registry.Registry
	ledger   *ledger.Ledger

	srv *http.Server
}

// NewServer wires the API routes.
func NewServer(host string, port int, coord *coordinator.Coordinator, reg *registry.Registry, led *ledger.Ledger, debug bool) *Server {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{coord: coord, registry: reg, ledger: led}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/health", s.handleHealth)
	router.POST("/register", s.handleRegister)

	problems := router.Group("/problem_instances")
	{
		problems.GET("/info", s.handleInstancesInfo)
		problems.GET("/download/:name", s.handleInstanceDownload)
		problems.GET("/status/:name", s.handleInstanceStatus)
	}

	solutions := router.Group("/solutions")
	{
		solutions.POST("/submit/:name", s.handleSubmit)
		solutions.GET("/submit/status/:id", s.handleSubmitStatus)
		solutions.GET("/validate/download/:name", s.handleValidationTask)
		solutions.POST("/validate/:id", s.handleValidate)
		solutions.GET("/best/download/:name", s.handleBestDownload)
		solutions.GET("/history/:id", s.handleHistory)
	}

	s.srv = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: router,
	}
	return s
}

// Start serves requests in the background.
func (s *Server) Start() {
	go func() {
		log.Infof("API server listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("API server error: %v", err)
		}
	}()
}

// Stop drains in-flight requests and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the route tree for in-process testing.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debugf("%s %s -> %d (%v)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleRegister(c *gin.Context) {
	agentID, err := s.coord.RegisterAgent()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent_id": agentID})
}

type instanceInfo struct {
	Name              string `json:"name"`
	Description       string `json:"description"`
	Minimize          bool   `json:"minimize"`
	RewardBudget      int64  `json:"reward_budget"`
	RewardAccumulated int64  `json:"reward_accumulated"`
	Active            bool   `json:"active"`
}

func (s *Server) handleInstancesInfo(c *gin.Context) {
	instances, err := s.registry.SampleInstances()
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]instanceInfo, 0, len(instances))
	for _, inst := range instances {
		out = append(out, instanceInfo{
			Name:              inst.Name,
			Description:       inst.Description,
			Minimize:          inst.Minimize,
			RewardBudget:      inst.RewardBudget,
			RewardAccumulated: inst.RewardAccumulated,
			Active:            inst.Active,
		})
	}
	c.JSON(http.StatusOK, gin.H{"problem_instances": out})
}

func (s *Server) handleInstanceDownload(c *gin.Context) {
	inst, err := s.registry.GetInstance(c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.FileAttachment(inst.FileLocation, inst.Name)
}

func (s *Server) handleInstanceStatus(c *gin.Context) {
	name := c.Param("name")
	inst, err := s.registry.GetInstance(name)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := gin.H{
		"name":               inst.Name,
		"active":             inst.Active,
		"reward_budget":      inst.RewardBudget,
		"reward_accumulated": inst.RewardAccumulated,
	}
	if best, err := s.ledger.CurrentBest(name); err == nil && best != nil {
		resp["best_objective_value"] = best.ObjectiveValue
		resp["best_solution_id"] = best.SolutionID
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleBestDownload(c *gin.Context) {
	best, err := s.ledger.CurrentBest(c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	if best == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no accepted solution for this instance yet"})
		return
	}
	c.FileAttachment(best.FileLocation, best.SolutionID+".sol")
}

type submitRequest struct {
	ObjectiveValue float64 `json:"objective_value" binding:"required"`
	SolutionData   string  `json:"solution_data" binding:"required"`
}

func (s *Server) handleSubmit(c *gin.Context) {
	agentID := c.GetHeader(agentIDHeader)
	if agentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing " + agentIDHeader + " header"})
		return
	}

	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sol, err := s.coord.Submit(c.Param("name"), agentID, req.ObjectiveValue, []byte(req.SolutionData))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"submission_id":       sol.ID,
		"validation_end_time": sol.ValidationEndTime.Format(time.RFC3339),
	})
}

func (s *Server) handleSubmitStatus(c *gin.Context) {
	sol, err := s.coord.Status(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	status := "pending"
	if sol.Accepted != nil {
		if *sol.Accepted {
			status = "accepted"
		} else {
			status = "rejected"
		}
	}
	resp := gin.H{
		"submission_id":  sol.ID,
		"status":         status,
		"accepted_count": sol.AcceptedCount,
		"rejected_count": sol.RejectedCount,
		"reward":         sol.RewardAccumulated,
	}
	if sol.ObjectiveValue != nil {
		resp["objective_value"] = *sol.ObjectiveValue
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleValidationTask(c *gin.Context) {
	agentID := c.GetHeader(agentIDHeader)
	if agentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing " + agentIDHeader + " header"})
		return
	}

	sol, err := s.coord.PendingValidationFor(c.Param("name"), agentID)
	if err != nil {
		respondError(c, err)
		return
	}
	data, err := s.coord.ReadArtifact(sol.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := gin.H{
		"submission_id":       sol.ID,
		"solution_data":       string(data),
		"validation_end_time": sol.ValidationEndTime.Format(time.RFC3339),
	}
	if sol.ObjectiveValue != nil {
		resp["claimed_objective_value"] = *sol.ObjectiveValue
	}
	c.JSON(http.StatusOK, resp)
}

type validateRequest struct {
	Response       *bool   `json:"response" binding:"required"`
	ObjectiveValue float64 `json:"objective_value"`
}

func (s *Server) handleValidate(c *gin.Context) {
	agentID := c.GetHeader(agentIDHeader)
	if agentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing " + agentIDHeader + " header"})
		return
	}

	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.coord.Vote(c.Param("id"), agentID, *req.Response, req.ObjectiveValue); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "vote recorded"})
}

func (s *Server) handleHistory(c *gin.Context) {
	entries, err := s.ledger.History(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}

// respondError maps protocol errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, coordinator.ErrUnknownAgent):
		status = http.StatusUnauthorized
	case errors.Is(err, coordinator.ErrUnknownInstance),
		errors.Is(err, coordinator.ErrUnknownSubmission),
		errors.Is(err, coordinator.ErrNoValidationTask),
		errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, coordinator.ErrInstanceInactive),
		errors.Is(err, coordinator.ErrDuplicateSubmitter),
		errors.Is(err, coordinator.ErrWindowClosed),
		errors.Is(err, coordinator.ErrSelfValidation),
		errors.Is(err, coordinator.ErrDuplicateVote):
		status = http.StatusConflict
	case errors.Is(err, coordinator.ErrShuttingDown):
		status = http.StatusServiceUnavailable
	case errors.Is(err, storage.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
