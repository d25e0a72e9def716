package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/Valgeir99/distributed-optimization-solver/config"
	"github.com/Valgeir99/distributed-optimization-solver/pkgs/agent"
)

func main() {
	malicious := flag.Bool("malicious", false, "vote and claim dishonestly, for protocol testing")
	flag.Parse()

	if err := config.LoadConfig(); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	settings := config.SettingsObj

	a := agent.New(settings.CoordinatorURL, agent.Options{
		MaxSolveTime: settings.MaxSolveTime,
		IdleBackoff:  settings.AgentIdleBackoff,
		Malicious:    *malicious,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("Received %v, stopping agent", sig)
		cancel()
	}()

	if *malicious {
		log.Warn("Running in malicious mode")
	}

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Agent stopped: %v", err)
	}
	log.Info("Agent stopped")
}
