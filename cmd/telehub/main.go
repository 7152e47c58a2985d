package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"

	"telehub/config"
	"telehub/engine"
	"telehub/messaging"
	"telehub/protocol"
	"telehub/robot"
	"telehub/shell"
	"telehub/statecache"
	"telehub/store"
	"telehub/www"
)

var Version = "dev"

func main() {
	flags := pflag.NewFlagSet("telehub", pflag.ExitOnError)
	showVersion := flags.Bool("version", false, "print version and exit")
	configPath := flags.StringP("config", "c", "telehub.yaml", "path to config file")
	simulation := flags.Bool("simulation", false, "start the telemetry simulator at startup")
	logFile := flags.String("log-file", "", "write logs to this rotating file (overrides log.file)")
	flags.Parse(os.Args[1:])

	if *showVersion {
		fmt.Println("telehub", Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *simulation {
		cfg.Simulator.Autostart = true
	}
	if *logFile != "" {
		cfg.Log.File = *logFile
	}
	if cfg.Log.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
		}
		defer rotator.Close()
		log.SetOutput(io.MultiWriter(os.Stderr, rotator))
	}

	// Database
	db, err := store.Open(&cfg.Database)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	log.Printf("telehub: database open (%s)", db.Driver())
	if n, err := db.CloseStaleShellSessions(); err != nil {
		log.Printf("telehub: close stale shell sessions: %v", err)
	} else if n > 0 {
		log.Printf("telehub: closed %d shell sessions left open by a previous run", n)
	}

	// Robot state and simulator
	storeOpts := []robot.Option{robot.WithNames(cfg.Robot.RobotName, cfg.Robot.TeamName)}
	if cfg.Robot.StrictIndexes {
		storeOpts = append(storeOpts, robot.WithStrictIndexes())
	}
	robotStore := robot.NewStore(storeOpts...)
	sim := robot.NewSimulator(robotStore, cfg.Simulator.Interval)

	// Redis mirror
	var (
		mirror     engine.StateMirror
		transcript www.TranscriptSource
	)
	if cfg.Redis.Address != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		redisStore := statecache.NewRedisStore(redisClient, cfg.Messaging.HubID)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisStore.Ping(ctx); err != nil {
			log.Printf("telehub: redis not available (%v), running without cache", err)
		} else {
			log.Printf("telehub: redis connected (%s)", cfg.Redis.Address)
			m := statecache.NewMirror(redisStore, cfg.Redis.MirrorInterval, cfg.Redis.SnapshotTTL, cfg.Redis.TranscriptLines)
			m.Start()
			defer m.Stop()
			mirror = m
			transcript = redisStore
		}
		cancel()
	}

	// Messaging client
	var msgClient *messaging.Client
	client := messaging.NewClient(&cfg.Messaging)
	switch err := client.Connect(); {
	case errors.Is(err, messaging.ErrDisabled):
		log.Printf("telehub: messaging disabled")
	case err != nil:
		log.Printf("telehub: messaging connect failed (%v)", err)
		msgClient = client
	default:
		log.Printf("telehub: messaging connected (%s)", cfg.Messaging.Backend)
		msgClient = client
	}
	defer client.Close()

	// Engine
	eng := engine.New(engine.Config{
		AppConfig: cfg,
		DB:        db,
		Store:     robotStore,
		Simulator: sim,
		Shell:     shell.NewSession(shell.SSHDialer{}, shell.WithTiming(cfg.Shell)),
		MsgClient: msgClient,
		Mirror:    mirror,
	})
	eng.Start()
	defer eng.Stop()

	// Telemetry feed (inbound) and snapshots/heartbeats (outbound). These
	// are wired even while the broker is unreachable; the client subscribes
	// on connect and the publishers retry each interval.
	if msgClient != nil {
		m := cfg.Messaging
		ingestor := protocol.NewIngestor(messaging.NewHubHandler(robotStore, eng), messaging.HubFilter(m.HubID))
		for _, topic := range []string{m.TelemetryTopic, m.CommandTopic} {
			if err := msgClient.Subscribe(topic, ingestor.HandleRaw); err != nil {
				log.Printf("telehub: subscribe %s failed: %v", topic, err)
			} else {
				log.Printf("telehub: listening on %s", topic)
			}
		}

		publisher := messaging.NewSnapshotPublisher(msgClient, robotStore, m.HubID, m.SnapshotTopic, m.PublishInterval)
		publisher.Start()
		defer publisher.Stop()

		heartbeater := messaging.NewHeartbeater(msgClient, m.HubID, m.SnapshotTopic, m.HeartbeatInterval, eng.HeartbeatStatus)
		heartbeater.Start()
		defer heartbeater.Stop()
	}

	// Web server
	handler, stopWeb := www.NewRouter(eng, transcript)

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		log.Printf("telehub: web server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("web server: %v", err)
		}
	}()

	log.Printf("telehub: ready")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("telehub: shutting down...")
	stopWeb()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	log.Printf("telehub: stopped")
}
