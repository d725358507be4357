// probe connects to the collaboration server, joins the given rooms, and
// streams normalized events to the console. It exercises the full client
// stack: transport, reconnection, room membership, presence, and
// post-reconnect reconciliation.
//
// Usage: go run ./cmd/probe --config configs/probe.local.yaml --rooms p1,p2
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/taskroom/realtime/internal/api"
	"github.com/taskroom/realtime/internal/config"
	"github.com/taskroom/realtime/internal/connection"
	"github.com/taskroom/realtime/internal/events"
	"github.com/taskroom/realtime/internal/metrics"
	"github.com/taskroom/realtime/internal/presence"
	"github.com/taskroom/realtime/internal/reconcile"
	"github.com/taskroom/realtime/internal/rooms"
	"github.com/taskroom/realtime/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/probe.example.yaml", "path to config file")
	roomList := flag.String("rooms", "", "comma-separated project rooms to join")
	verbose := flag.Bool("verbose", false, "print full event JSON")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("probe", version.String())
		return
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	// Metrics registry and HTTP endpoint
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: mux,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("metrics server listening", "addr", metricsSrv.Addr, "path", cfg.Metrics.Path)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	// REST client for authoritative refetches
	apiClient := api.NewClient(cfg.Server.RestURL, cfg.Server.Token, api.WithLogger(logger))

	// Event plumbing
	bus := events.NewBus()

	connMgr := connection.NewManager(connection.ManagerConfig{
		URL:               cfg.Server.WSURL,
		Token:             cfg.Server.Token,
		AckTimeout:        cfg.Connection.AckTimeout,
		PingTimeout:       cfg.Connection.PingTimeout,
		WriteTimeout:      cfg.Connection.WriteTimeout,
		ReconnectBaseWait: cfg.Connection.ReconnectBaseWait,
		ReconnectMaxWait:  cfg.Connection.ReconnectMaxWait,
		MessageBufferSize: cfg.Connection.MessageBufferSize,
	}, logger, connection.WithMetrics(m))

	router := events.NewRouter(connMgr.Messages(), logger,
		events.WithBus(bus),
		events.WithMetrics(m),
	)

	roomMgr := rooms.NewManager(connMgr, logger)
	roomMgr.Register(router)

	tracker := presence.NewTracker(presence.Config{
		TypingTTL:     cfg.Presence.TypingTTL,
		SweepInterval: cfg.Presence.SweepInterval,
	}, logger)
	tracker.Register(router)

	coordinator := reconcile.NewCoordinator(reconcile.Config{
		RetryBaseWait: cfg.Reconcile.RetryBaseWait,
		RetryMaxWait:  cfg.Reconcile.RetryMaxWait,
		SweepInterval: cfg.Reconcile.SweepInterval,
	}, logger, reconcile.WithMetrics(m))

	// Reconcile fetchers refetch every joined room.
	coordinator.Register(reconcile.DomainPresence, reconcile.FetcherFunc(func(ctx context.Context) error {
		for _, room := range roomMgr.Rooms() {
			entries, err := apiClient.GetRoomPresence(ctx, room.RoomID)
			if err != nil {
				return err
			}
			tracker.ApplySnapshot(room.RoomID, entries)
		}
		return nil
	}))
	coordinator.Register(reconcile.DomainMembers, reconcile.FetcherFunc(func(ctx context.Context) error {
		for _, room := range roomMgr.Rooms() {
			members, err := apiClient.GetProjectMembers(ctx, room.RoomID)
			if err != nil {
				return err
			}
			logger.Info("members refreshed", "room", room.RoomID, "count", len(members))
		}
		return nil
	}))
	coordinator.Register(reconcile.DomainTasks, reconcile.FetcherFunc(func(ctx context.Context) error {
		for _, room := range roomMgr.Rooms() {
			tasks, err := apiClient.GetProjectTasks(ctx, room.RoomID)
			if err != nil {
				return err
			}
			logger.Info("tasks refreshed", "room", room.RoomID, "count", len(tasks))
		}
		return nil
	}))

	// Status fan-out: rooms rejoin, presence clears, reconcile refetches.
	connMgr.OnStatus(func(change connection.StatusChange) {
		logger.Info("connection status",
			"old", change.Old.String(),
			"new", change.New.String(),
			"attempts", change.Attempts,
			"error", change.Err,
		)
		roomMgr.HandleStatus(change)
		tracker.HandleStatus(change)
		coordinator.HandleStatus(change)
	})

	// Queue the desired rooms before connecting; the first Connected
	// transition flushes them.
	for _, id := range strings.Split(*roomList, ",") {
		id = strings.TrimSpace(id)
		if id != "" {
			roomMgr.Join(id)
		}
	}

	if err := coordinator.Start(ctx); err != nil {
		logger.Error("failed to start reconcile coordinator", "error", err)
		os.Exit(1)
	}
	if err := tracker.Start(ctx); err != nil {
		logger.Error("failed to start presence tracker", "error", err)
		os.Exit(1)
	}
	if err := router.Start(ctx); err != nil {
		logger.Error("failed to start event router", "error", err)
		os.Exit(1)
	}

	logger.Info("connecting",
		"instance", cfg.Instance.ID,
		"ws_url", cfg.Server.WSURL,
		"version", version.String(),
	)
	if err := connMgr.Start(ctx); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}

	// Console printer over the bus
	sub := bus.Subscribe(events.TopicAll)
	go printEvents(ctx, sub, tracker, *verbose)

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				state := connMgr.State()
				stats := router.Stats()
				logger.Info("stats",
					"status", state.Status.String(),
					"session", state.SessionID,
					"attempts", state.ReconnectAttempts,
					"events_received", stats.Received,
					"events_dispatched", stats.Dispatched,
					"events_malformed", stats.Malformed,
					"events_unknown", stats.Unknown,
					"handler_panics", stats.HandlerPanics,
					"rooms", len(roomMgr.Rooms()),
				)
			}
		}
	}()

	logger.Info("probe running - press Ctrl+C to stop")

	<-ctx.Done()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	connMgr.Stop(shutdownCtx)
	router.Stop(shutdownCtx)
	tracker.Stop()
	coordinator.Stop()
	bus.Close()

	if err := g.Wait(); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}

func printEvents(ctx context.Context, sub *events.BusSub, tracker *presence.Tracker, verbose bool) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			evt, ok := sub.TryReceive()
			if !ok {
				time.Sleep(10 * time.Millisecond)
				continue
			}

			if verbose {
				data, _ := json.MarshalIndent(evt, "", "  ")
				fmt.Printf("[EVENT] %s\n", data)
				continue
			}

			switch evt.Type {
			case events.TypeUserTyping, events.TypeUserStoppedTyping:
				if banner := tracker.TypingText(evt.ThreadID); banner != "" {
					fmt.Printf("[TYPING] thread=%s %s\n", evt.ThreadID, banner)
				}
			case events.TypeUserJoined, events.TypeUserLeft:
				fmt.Printf("[PRESENCE] room=%s online=%d\n", evt.RoomID, len(tracker.OnlineUsers(evt.RoomID)))
			case events.TypeTaskStatusChanged:
				p := evt.Payload.(events.TaskStatusPayload)
				fmt.Printf("[TASK] room=%s task=%s status=%s by=%s\n", p.ProjectID, p.TaskID, p.Status, p.UpdatedBy)
			case events.TypeNewTaskComment:
				p := evt.Payload.(events.TaskCommentPayload)
				fmt.Printf("[COMMENT] room=%s task=%s author=%s\n", p.ProjectID, p.TaskID, p.Comment.AuthorName)
			default:
				fmt.Printf("[%s] room=%s\n", strings.ToUpper(string(evt.Type)), evt.RoomID)
			}
		}
	}
}
