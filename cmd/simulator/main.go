package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"gator-chat/simulator"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	log := zap.S().With("component", "simulator-main")

	_ = godotenv.Load()

	config := simulator.DefaultSimConfig()
	if url := os.Getenv("ENGINE_URL"); url != "" {
		config.EngineURL = url
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.JWTSecret = secret
	}
	if n, err := strconv.Atoi(os.Getenv("SIM_USERS")); err == nil && n > 0 {
		config.NumUsers = n
	}
	if d, err := time.ParseDuration(os.Getenv("SIM_DURATION")); err == nil && d > 0 {
		config.SimulationTime = d
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, config.SimulationTime)
	defer cancel()

	sim := simulator.NewSimulator(config)
	if err := sim.Run(ctx); err != nil {
		log.Fatalw("Simulation failed", "error", err)
	}

	m := sim.GetMetrics()
	log.Infow("Final metrics",
		"users", m.TotalUsers,
		"direct", m.DirectMessages,
		"group", m.GroupMessages,
		"scheduled", m.ScheduledMessages,
		"pushes", m.PushesReceived,
		"reconnects", m.Reconnects,
		"averageLatency", m.AverageLatency,
		"errors", m.ErrorCount,
		"requestsPerSecond", m.RequestsPerSecond,
	)
}
