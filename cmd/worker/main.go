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
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/admatch/internal/config"
	"github.com/your-org/admatch/internal/engine"
	"github.com/your-org/admatch/internal/models"
	"github.com/your-org/admatch/internal/observability"
	"github.com/your-org/admatch/internal/queue"
	"github.com/your-org/admatch/internal/storage"
	"github.com/your-org/admatch/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting admatch match worker",
		"workers", cfg.Vision.WorkerCount,
		"cpu_cores", runtime.NumCPU(),
	)

	// Initialize ONNX Runtime
	ort.SetSharedLibraryPath(getONNXLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		slog.Error("init onnx runtime", "error", err)
		os.Exit(1)
	}
	defer ort.DestroyEnvironment()

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	// Face extraction models
	extractor, err := vision.NewExtractor(cfg.Vision, cfg.Matching.QualityFloor)
	if err != nil {
		slog.Error("init face extractor", "error", err)
		os.Exit(1)
	}
	defer extractor.Close()

	eng := engine.New(cfg, db, minioStore, extractor, producer, slog.Default())

	// Warm the in-memory index from Postgres before accepting work.
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 5*time.Minute)
	if err := eng.Bootstrap(bootCtx); err != nil {
		bootCancel()
		slog.Error("bootstrap identity index", "error", err)
		os.Exit(1)
	}
	bootCancel()

	// Serve synchronous register/recognize/delete requests from the API.
	rpcSrv, err := queue.NewRPCServer(cfg.NATS.URL, cfg.Matching.OpTimeout)
	if err != nil {
		slog.Error("create rpc server", "error", err)
		os.Exit(1)
	}
	defer rpcSrv.Close()

	if err := eng.RegisterRPCHandlers(rpcSrv); err != nil {
		slog.Error("register rpc handlers", "error", err)
		os.Exit(1)
	}

	// Create NATS consumer
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	// Keep this replica's index in step with mutations made by other replicas.
	syncSub, err := consumer.SubscribeIdentitySync(eng.ApplySync)
	if err != nil {
		slog.Error("subscribe identity sync", "error", err)
		os.Exit(1)
	}
	defer func() { _ = syncSub.Unsubscribe() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start consuming capture tasks
	err = consumer.ConsumeCaptures(ctx, "match-workers", func(ctx context.Context, msg jetstream.Msg) error {
		var task models.CaptureTask
		if err := json.Unmarshal(msg.Data(), &task); err != nil {
			slog.Error("unmarshal capture task", "error", err)
			return nil // Don't retry on unmarshal errors
		}

		if err := eng.HandleCapture(ctx, task); err != nil {
			return fmt.Errorf("process capture %s: %w", task.TaskID, err)
		}

		return nil
	}, cfg.Vision.WorkerCount)
	if err != nil {
		slog.Error("start capture consumer", "error", err)
		os.Exit(1)
	}

	// Close idle dwell sessions so their events get recorded.
	go func() {
		ticker := time.NewTicker(cfg.Dedup.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				eng.FlushSessions(ctx, time.Now().UTC())
			}
		}
	}()

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("worker metrics listening", "addr", ":8082")
		if err := http.ListenAndServe(":8082", mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Periodically report queue depth and open sessions
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := producer.QueueDepth(ctx)
				if err == nil {
					observability.QueueDepth.Set(float64(depth))
				}
				observability.OpenDwellSessions.Set(float64(eng.OpenSessions()))
			}
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	cancel()

	// Resolve whatever sessions are still open before exiting.
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
	eng.FlushSessions(flushCtx, time.Now().UTC().Add(24*time.Hour))
	flushCancel()

	time.Sleep(2 * time.Second)
	slog.Info("worker stopped")
}

// getONNXLibPath returns the ONNX Runtime shared library path
// based on the operating system.
func getONNXLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}
