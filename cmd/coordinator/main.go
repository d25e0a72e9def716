package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Valgeir99/distributed-optimization-solver/config"
	"github.com/Valgeir99/distributed-optimization-solver/pkgs/api"
	"github.com/Valgeir99/distributed-optimization-solver/pkgs/coordinator"
	"github.com/Valgeir99/distributed-optimization-solver/pkgs/events"
	"github.com/Valgeir99/distributed-optimization-solver/pkgs/ledger"
	"github.com/Valgeir99/distributed-optimization-solver/pkgs/metrics"
	"github.com/Valgeir99/distributed-optimization-solver/pkgs/redis"
	"github.com/Valgeir99/distributed-optimization-solver/pkgs/registry"
	"github.com/Valgeir99/distributed-optimization-solver/pkgs/settlement"
	"github.com/Valgeir99/distributed-optimization-solver/pkgs/storage"
)

func main() {
	if err := config.LoadConfig(); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	settings := config.SettingsObj

	if err := os.MkdirAll(settings.DataDir, 0o755); err != nil {
		log.Fatalf("Failed to create data dir: %v", err)
	}

	store, err := storage.Open(settings.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	reg := registry.New(store, settings.RandomProblemInstancePoolSize)
	if _, err := os.Stat(settings.ProblemInstancesDir); err == nil {
		loaded, err := reg.LoadFromDir(settings.ProblemInstancesDir, settings.CoordinatorID,
			settings.DefaultRewardBudget, settings.DefaultMinimize)
		if err != nil {
			log.Fatalf("Failed to load problem instances: %v", err)
		}
		log.Infof("Loaded %d problem instances from %s", loaded, settings.ProblemInstancesDir)
	} else {
		log.Warnf("Problem instances dir %s not found, starting with existing catalog only", settings.ProblemInstancesDir)
	}

	if active, err := reg.GetActiveInstances(); err == nil {
		metrics.InstancesActive.Set(float64(len(active)))
	}
	if count, err := store.CountAgents(); err == nil {
		metrics.RegisteredAgents.Set(float64(count))
	}

	var emitter *events.Emitter
	var redisClient = redis.NewRedisClient()
	var keys *redis.KeyBuilder
	if settings.EventsEnabled {
		emitter = events.NewEmitter(&events.EmitterConfig{
			CoordinatorID: settings.CoordinatorID,
		})
		if err := emitter.Start(); err != nil {
			log.Fatalf("Failed to start event emitter: %v", err)
		}
		if redisClient != nil {
			publisher := events.NewPublisher(redisClient)
			if err := emitter.Subscribe(publisher.AsSubscriber()); err != nil {
				log.Warnf("Failed to attach redis publisher: %v", err)
			}
		}
	}
	if redisClient != nil {
		keys = redis.NewKeyBuilder(settings.CoordinatorID)
	}

	coord, err := coordinator.New(coordinator.Config{
		ValidationDuration:    settings.SolutionValidationDuration,
		ConsensusRatio:        settings.SolutionValidationConsensusRatio,
		SubmissionReward:      settings.SuccessfulSolutionSubmissionReward,
		ValidationReward:      settings.SolutionValidationReward,
		MinValidationTimeLeft: settings.MinValidationTimeLeft,
		ActiveSolutionsDir:    settings.ActiveSolutionsDir,
		BestSolutionsDir:      settings.BestSolutionsDir,
	}, store, reg, ledger.New(store), settlement.New(), emitter, redisClient, keys)
	if err != nil {
		log.Fatalf("Failed to create coordinator: %v", err)
	}

	// validation windows persisted by a previous run pick up where they left off
	if err := coord.ResumePendingWindows(); err != nil {
		log.Fatalf("Failed to resume pending validation windows: %v", err)
	}

	var metricsSrv *metrics.Server
	if settings.MetricsEnabled {
		metricsSrv = metrics.NewServer(settings.MetricsPort)
		metricsSrv.Start()
	}

	apiSrv := api.NewServer(settings.APIHost, settings.APIPort, coord, reg, ledger.New(store), settings.DebugMode)
	apiSrv.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Infof("Received %v, shutting down", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// stop intake first, then wait for in-flight window resolutions
	if err := apiSrv.Stop(shutdownCtx); err != nil {
		log.Warnf("API shutdown: %v", err)
	}
	if err := coord.Stop(shutdownCtx); err != nil {
		log.Warnf("Coordinator shutdown: %v", err)
	}
	if emitter != nil {
		emitter.Stop()
	}
	if metricsSrv != nil {
		metricsSrv.Stop()
	}
	if redisClient != nil {
		redisClient.Close()
	}

	log.Info("Shutdown complete, pending validation windows persisted")
}
