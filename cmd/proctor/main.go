// proctor: remote exam proctoring service
// Accepts webcam frames over HTTP and WebSocket, flags missing or extra
// faces, phones and prohibited objects, and records violations per session.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-proctor/internal/config"
	"github.com/teslashibe/go-proctor/internal/log"
	"github.com/teslashibe/go-proctor/pkg/detection"
	"github.com/teslashibe/go-proctor/pkg/hub"
	"github.com/teslashibe/go-proctor/pkg/ingest"
	"github.com/teslashibe/go-proctor/pkg/metrics"
	"github.com/teslashibe/go-proctor/pkg/proctor"
	"github.com/teslashibe/go-proctor/pkg/service"
	"github.com/teslashibe/go-proctor/pkg/violation"
	"github.com/teslashibe/go-proctor/pkg/web"
)

var version = "0.1.0"

type options struct {
	addr          string
	dbPath        string
	faceModel     string
	objectModel   string
	logLevel      string
	strict        bool
	idleTimeout   time.Duration
	noScreenshots bool
	origins       string
	requestLog    bool
	warmup        bool
	frameRate     float64
	frameBurst    int
}

// parseFlags reads flags whose defaults come from the environment
func parseFlags() options {
	var o options
	flag.StringVar(&o.addr, "addr", config.Addr(), "HTTP listen address")
	flag.StringVar(&o.dbPath, "db", config.DBPath(), "Violation store (SQLite file)")
	flag.StringVar(&o.faceModel, "face-model", config.FaceModel(), "YuNet face model (ONNX)")
	flag.StringVar(&o.objectModel, "object-model", config.ObjectModel(), "YOLO object model (ONNX)")
	flag.StringVar(&o.logLevel, "log-level", config.LogLevel(), "debug, info, warn or error")
	flag.BoolVar(&o.strict, "strict", config.Bool("PROCTOR_STRICT", false), "Single-frame face signals and shorter phone grace")
	flag.DurationVar(&o.idleTimeout, "idle-timeout", config.Duration("PROCTOR_IDLE_TIMEOUT", 15*time.Minute), "Forget candidates idle this long (0 keeps them)")
	flag.BoolVar(&o.noScreenshots, "no-screenshots", config.Bool("PROCTOR_NO_SCREENSHOTS", false), "Do not store frames with violations")
	flag.StringVar(&o.origins, "cors-origins", config.String("PROCTOR_CORS_ORIGINS", "*"), "Allowed CORS origins")
	flag.BoolVar(&o.requestLog, "request-log", false, "Log every HTTP request")
	flag.BoolVar(&o.warmup, "warmup", true, "Load models at startup instead of on the first frame")
	flag.Float64Var(&o.frameRate, "frame-rate", float64(config.Int("PROCTOR_FRAME_RATE", ingest.DefaultFrameRate)), "Websocket frames per second per candidate (0 disables the limit)")
	flag.IntVar(&o.frameBurst, "frame-burst", config.Int("PROCTOR_FRAME_BURST", ingest.DefaultFrameBurst), "Websocket frame burst per candidate")
	flag.Parse()
	return o
}

func main() {
	// A missing .env is fine; the environment may already be set.
	envErr := godotenv.Load()

	o := parseFlags()
	log.Init(o.logLevel)
	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		log.Warn("could not read .env", "error", envErr)
	}

	if err := run(o); err != nil {
		log.Error("proctor failed", "error", err)
		os.Exit(1)
	}
}

func run(o options) error {
	logger := log.Component("main")

	cfg := proctor.DefaultConfig()
	if o.strict {
		cfg = proctor.StrictConfig()
	}
	cfg.IdleTimeout = o.idleTimeout
	cfg.Screenshots = !o.noScreenshots

	faceCfg := detection.DefaultConfig()
	faceCfg.ModelPath = o.faceModel
	objCfg := detection.DefaultYOLOConfig()
	objCfg.ModelPath = o.objectModel

	store, err := violation.Open(o.dbPath)
	if err != nil {
		return fmt.Errorf("open violation store: %w", err)
	}
	defer store.Close()

	m := metrics.New()
	dashboards := hub.New("verdicts", hub.WithClientCounter(func(n int) {
		m.StreamClients.Store(int64(n))
	}))

	recorder := violation.NewRecorder(store, service.RecordedHook(dashboards, m))
	engine := proctor.New(cfg,
		detection.Lazy(detection.FromFiles(faceCfg, objCfg)),
		proctor.WithReporter(recorder),
		proctor.WithObserver(m))
	defer engine.Close()

	svc := service.New(engine, store, dashboards, m)

	var opts []web.Option
	opts = append(opts,
		web.WithAllowedOrigins(o.origins),
		web.WithIngestOptions(ingest.WithFrameRate(o.frameRate, o.frameBurst)))
	if o.requestLog {
		opts = append(opts, web.WithRequestLog())
	}
	server := web.NewServer(o.addr, svc, dashboards, m, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting",
		"version", version,
		"addr", o.addr,
		"db", o.dbPath,
		"strict", o.strict,
		"screenshots", cfg.Screenshots)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		dashboards.Run(ctx)
		return nil
	})

	g.Go(func() error {
		return server.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if o.warmup {
		g.Go(func() error {
			start := time.Now()
			if err := engine.Warmup(); err != nil {
				// Frames still get face-neutral verdicts; keep serving.
				logger.Error("model warmup failed", "error", err)
				return nil
			}
			logger.Info("models loaded", "took", time.Since(start).Round(time.Millisecond))
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("goodbye")
	return nil
}
