package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

var (
	// SubmissionsTotal counts solution submissions by instance
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solver_submissions_total",
		Help: "Total number of solution submissions received",
	}, []string{"instance"})

	// SubmissionsRejectedTotal counts submissions rejected at intake
	SubmissionsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solver_submissions_rejected_total",
		Help: "Total number of submissions rejected before a validation window opened",
	}, []string{"reason"})

	// VotesTotal counts validation votes by result
	VotesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solver_validation_votes_total",
		Help: "Total number of validation votes recorded",
	}, []string{"result"})

	// ResolutionsTotal counts window resolutions by outcome
	ResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solver_window_resolutions_total",
		Help: "Total number of validation windows resolved",
	}, []string{"outcome"})

	// EarlyResolutionsTotal counts windows resolved before expiry
	EarlyResolutionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "solver_window_early_resolutions_total",
		Help: "Total number of validation windows resolved before the timer expired",
	})

	// ActiveWindows tracks currently open validation windows
	ActiveWindows = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "solver_active_validation_windows",
		Help: "Number of validation windows currently open",
	})

	// RewardsPaidTotal counts reward units paid out by kind
	RewardsPaidTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solver_rewards_paid_total",
		Help: "Total reward units paid out to agents",
	}, []string{"kind"})

	// SettlementsDegradedTotal counts settlements clamped by budget exhaustion
	SettlementsDegradedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "solver_settlements_degraded_total",
		Help: "Total number of settlements that could not be paid in full",
	})

	// BestPromotionsTotal counts best-solution promotions
	BestPromotionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solver_best_promotions_total",
		Help: "Total number of best solution promotions",
	}, []string{"instance"})

	// InstancesActive tracks problem instances still accepting submissions
	InstancesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "solver_problem_instances_active",
		Help: "Number of problem instances currently accepting submissions",
	})

	// RegisteredAgents tracks registered agent nodes
	RegisteredAgents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "solver_registered_agents",
		Help: "Number of registered agent nodes",
	})
)

// Server exposes prometheus metrics over HTTP
type Server struct {
	srv *http.Server
}

// NewServer creates a metrics server listening on the given port
func NewServer(port int) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		srv: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}
}

// Start serves metrics in the background
func (s *Server) Start() {
	go func() {
		log.Infof("Metrics server listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("Metrics server error: %v", err)
		}
	}()
}

// Stop shuts the metrics server down
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		log.Warnf("Metrics server shutdown: %v", err)
	}
}
