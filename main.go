package main

import (
	"context"
	"flag"
	"image"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/facepass-data/facetrack/internal/api"
	"github.com/facepass-data/facetrack/internal/catalog"
	"github.com/facepass-data/facetrack/internal/config"
	"github.com/facepass-data/facetrack/internal/facetrack"
	"github.com/facepass-data/facetrack/internal/mqtt"
	"github.com/facepass-data/facetrack/internal/onnx"
	"github.com/facepass-data/facetrack/internal/pipeline"
	"github.com/facepass-data/facetrack/internal/reid"
	"github.com/facepass-data/facetrack/internal/version"
)

var (
	devMode       = flag.Bool("dev", false, "Run with a synthetic detector instead of ONNX models")
	listen        = flag.String("listen", ":8080", "Admin API listen address")
	dbFile        = flag.String("db", "facetrack.db", "Catalog database file")
	configFile    = flag.String("config", "", "Tuning config JSON file")
	migrationsDir = flag.String("migrations", "migrations", "Migrations directory")
	broker        = flag.String("broker", "", "MQTT broker URL (empty disables the transport boundary)")
	streams       = flag.String("streams", "default", "Comma-separated stream IDs")
	detectorModel = flag.String("detector-model", "models/yolo_face.onnx", "Face detection ONNX model")
	embedderModel = flag.String("embedder-model", "models/arcface.onnx", "Face embedding ONNX model")
	poseModel     = flag.String("pose-model", "", "Head pose ONNX model (empty disables pose)")
	ortLibrary    = flag.String("ort-lib", "", "ONNX Runtime shared library path")
	logLevel      = flag.String("log-level", "diag", "Log verbosity: ops, diag or trace")
)

func setupLogStreams(level string) {
	ops, diag, trace := io.Writer(os.Stderr), io.Discard, io.Discard
	switch level {
	case "trace":
		diag, trace = os.Stderr, os.Stderr
	case "diag":
		diag = os.Stderr
	case "ops":
	default:
		log.Fatalf("unknown log level %q", level)
	}
	facetrack.SetLogWriters(facetrack.LogWriters{Ops: ops, Diag: diag, Trace: trace})
	pipeline.SetLogWriters(ops, diag, trace)
}

func main() {
	flag.Parse()
	setupLogStreams(*logLevel)
	log.Printf("facetrack %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	cfg := config.EmptyTuningConfig()
	if *configFile != "" {
		loaded, err := config.LoadTuningConfig(*configFile)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
		cfg = loaded
		log.Printf("loaded tuning config from %s", *configFile)
	}

	db, err := catalog.Open(*dbFile)
	if err != nil {
		log.Fatalf("failed to open catalog: %v", err)
	}
	defer db.Close()
	if err := db.MigrateUp(*migrationsDir); err != nil {
		log.Fatalf("failed to migrate catalog: %v", err)
	}

	index := reid.NewIndex(cfg.GetSimThreshold(), reid.BackendBLAS)
	records, err := db.LoadAll()
	if err != nil {
		log.Fatalf("failed to load catalog embeddings: %v", err)
	}
	index.SetCatalog(records)
	log.Printf("similarity index loaded with %d embeddings", index.Len())

	var (
		detector pipeline.Detector
		embedder pipeline.Embedder
		pose     pipeline.PoseEstimator
	)
	if *devMode {
		log.Printf("dev mode: using synthetic detector, identity resolution disabled")
		detector = newSyntheticDetector()
	} else {
		if err := onnx.Init(*ortLibrary); err != nil {
			log.Fatalf("failed to initialize onnxruntime: %v", err)
		}
		defer onnx.Shutdown()

		det, err := onnx.NewDetector(*detectorModel, 0, 0)
		if err != nil {
			log.Fatalf("failed to load detector model: %v", err)
		}
		defer det.Close()
		detector = det

		emb, err := onnx.NewEmbedder(*embedderModel, cfg.GetEmbedDim())
		if err != nil {
			log.Fatalf("failed to load embedder model: %v", err)
		}
		defer emb.Close()
		embedder = emb

		if *poseModel != "" {
			p, err := onnx.NewPoseEstimator(*poseModel)
			if err != nil {
				log.Fatalf("failed to load pose model: %v", err)
			}
			defer p.Close()
			pose = p
		}
	}

	var mqttClient paho.Client
	if *broker != "" {
		client, err := mqtt.NewClient(*broker)
		if err != nil {
			log.Fatalf("failed to connect to MQTT broker: %v", err)
		}
		defer client.Disconnect(250)
		mqttClient = client
	}

	server := api.NewServer(db, index, cfg.GetEmbedDim())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for _, streamID := range splitStreams(*streams) {
		tracker := facetrack.NewTracker(cfg.TrackerConfig())
		pl, err := pipeline.New(pipeline.Config{
			StreamID:       streamID,
			Detector:       detector,
			Tracker:        tracker,
			Embedder:       embedder,
			Index:          index,
			Pose:           pose,
			Publisher:      newPublisher(mqttClient, streamID),
			EmbedInterval:  int64(cfg.GetEmbedInterval()),
			MinFaceSize:    cfg.GetMinFaceSize(),
			YawThreshold:   cfg.GetYawThreshold(),
			PitchThreshold: cfg.GetPitchThreshold(),
			DetectTimeout:  cfg.GetDetectTimeout(),
			EmbedTimeout:   cfg.GetEmbedTimeout(),
			PoseTimeout:    cfg.GetPoseTimeout(),
		})
		if err != nil {
			log.Fatalf("stream %s: failed to build pipeline: %v", streamID, err)
		}

		runner := pipeline.NewRunner(pl)
		server.RegisterStream(streamID, tracker, runner)

		wg.Add(1)
		go func() {
			defer wg.Done()
			runner.Run(ctx)
		}()

		if mqttClient != nil {
			source := mqtt.NewFrameSource(mqttClient, streamID, runner)
			if err := source.Start(); err != nil {
				log.Fatalf("stream %s: %v", streamID, err)
			}
			defer source.Stop()
		}
		log.Printf("stream %s: pipeline started", streamID)
	}

	httpServer := &http.Server{
		Addr:         *listen,
		Handler:      server.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		log.Printf("admin API listening on %s", *listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("admin API failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("admin API shutdown: %v", err)
	}
	wg.Wait()
}

// newPublisher returns a result publisher for the stream, or nil when the
// transport boundary is disabled.
func newPublisher(client paho.Client, streamID string) pipeline.ResultPublisher {
	if client == nil {
		return nil
	}
	return mqtt.NewPublisher(client, streamID)
}

func splitStreams(s string) []string {
	var out []string
	for _, id := range strings.Split(s, ",") {
		id = strings.TrimSpace(id)
		if id != "" {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		out = []string{"default"}
	}
	return out
}

// syntheticDetector emits one face box oscillating around the frame
// center, for exercising the pipeline without model files. Safe to share
// across streams.
type syntheticDetector struct {
	step atomic.Int64
}

func newSyntheticDetector() *syntheticDetector {
	return &syntheticDetector{}
}

func (d *syntheticDetector) Detect(ctx context.Context, img image.Image) ([]facetrack.Detection, error) {
	bounds := img.Bounds()
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	step := d.step.Add(1)
	cx := w/2 + w/8*float64((step%20)-10)/10
	cy := h / 2
	size := h / 6
	return []facetrack.Detection{{
		Box: facetrack.Box{
			X1: cx - size/2, Y1: cy - size/2,
			X2: cx + size/2, Y2: cy + size/2,
		},
		Confidence: 0.9,
	}}, nil
}
