package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/andrewmoshu/live-transcribe/internal/audio"
	"github.com/andrewmoshu/live-transcribe/internal/capture"
	"github.com/andrewmoshu/live-transcribe/internal/config"
	"github.com/andrewmoshu/live-transcribe/internal/metrics"
	"github.com/andrewmoshu/live-transcribe/internal/protocol"
	"github.com/andrewmoshu/live-transcribe/internal/resume"
	"github.com/andrewmoshu/live-transcribe/internal/session"
	"github.com/andrewmoshu/live-transcribe/internal/transport"
)

const (
	defaultConfigPath = "configs/config.yaml"
	clientName        = "live-transcribe"
	clientVersion     = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	inputPath := flag.String("input", "", "PCM/WAV file streamed as the microphone (overrides capture.input_file)")
	statePath := flag.String("state", ".live-transcribe/owner-id", "Path to the owner identity file")
	transcriptOut := flag.String("transcript", "", "Write the final transcript to this file on exit")
	autoResume := flag.Bool("resume", true, "Automatically resume an interrupted session when found")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && *configPath == defaultConfigPath {
			cfg = config.Default()
		} else {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
	}
	if *inputPath != "" {
		cfg.Capture.InputFile = *inputPath
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Client starting",
		slog.String("client", clientName),
		slog.String("version", clientVersion),
		slog.String("config_path", *configPath),
	)
	logger.Info("Configuration loaded",
		slog.String("api_url", cfg.Backend.APIURL),
		slog.String("socket_url", cfg.Backend.SocketURL),
		slog.Int("source_sample_rate", cfg.Audio.SourceSampleRate),
		slog.Int("target_sample_rate", cfg.Audio.TargetSampleRate),
		slog.Int("chunk_samples", cfg.Audio.ChunkDurationSamples()),
		slog.String("input_file", cfg.Capture.InputFile),
		slog.Int("reconnect_max_attempts", cfg.Reconnect.MaxAttempts),
	)

	if cfg.Capture.InputFile == "" {
		logger.Error("No audio input configured: set capture.input_file or pass -input")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)

	if cfg.Metrics.ListenAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Info("Metrics endpoint listening", slog.String("addr", cfg.Metrics.ListenAddr))
			if err := http.ListenAndServe(cfg.Metrics.ListenAddr, mux); err != nil {
				logger.Error("Metrics endpoint failed", slog.String("error", err.Error()))
			}
		}()
	}

	// Load or generate the durable owner identity
	ownerID, err := resume.NewIdentityStore(*statePath, logger).Load()
	if err != nil {
		logger.Error("Failed to load owner identity", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Owner identity loaded", slog.String("owner_id", ownerID))

	// Session management API client
	apiClient, err := session.NewClient(session.ClientConfig{
		APIURL:         cfg.Backend.APIURL,
		RequestTimeout: cfg.Backend.GetRequestTimeout(),
	}, logger, appMetrics, nil)
	if err != nil {
		logger.Error("Failed to create API client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Probe the backend before dialing the event socket
	if err := apiClient.Health(ctx); err != nil {
		logger.Warn("Backend health check failed, connecting anyway",
			slog.String("error", err.Error()))
	}

	// Event socket
	conn, err := transport.Connect(ctx, transport.Config{
		URL:                  cfg.Backend.SocketURL,
		MaxReconnectAttempts: cfg.Reconnect.MaxAttempts,
		ReconnectDelay:       cfg.Reconnect.GetReconnectDelay(),
	}, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to connect to backend", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Session manager with the resume probe wired to connection events
	mgr := session.NewManager(apiClient, conn, ownerID, logger, appMetrics)
	resumeMgr := resume.NewManager(resume.Config{
		RequestTimeout: cfg.Backend.GetRequestTimeout(),
	}, apiClient, mgr, conn, func(ctx context.Context, state *protocol.SessionState) bool {
		logger.Info("Resumable session found",
			slog.String("session_id", state.SessionID),
			slog.Bool("auto_resume", *autoResume),
		)
		return *autoResume
	}, ownerID, logger)
	mgr.SetConnectHook(resumeMgr.HandleConnected)
	mgr.Run()

	// The resume probe decides whether a previous session comes back;
	// only a completed probe may fall through to creating a fresh one.
	select {
	case <-resumeMgr.FirstCheckDone():
	case <-time.After(30 * time.Second):
		logger.Warn("Resume check did not complete, starting fresh")
	}
	waitForResume(mgr, 5*time.Second)

	if !mgr.HasActiveSession() || mgr.State() == session.StateResumePending {
		if _, err := mgr.Create(ctx); err != nil {
			logger.Error("Failed to create session", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}
	// A fresh session needs its first Start; a resumed session that was
	// paused must be started again before any audio is accepted.
	if mgr.State() != session.StateRecording {
		if err := mgr.Start(ctx); err != nil {
			logger.Error("Failed to start recording", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Capture pipeline: file host -> engine -> framer -> aggregator -> socket
	host := &capture.FileHost{
		Path:       cfg.Capture.InputFile,
		SampleRate: cfg.Audio.SourceSampleRate,
		Realtime:   true,
	}

	engineOpts := capture.Options{
		Mic: &capture.MicConstraints{
			DeviceID:         cfg.Capture.DeviceID,
			SampleRate:       cfg.Audio.SourceSampleRate,
			EchoCancellation: cfg.Capture.EchoCancellation,
			NoiseSuppression: cfg.Capture.NoiseSuppression,
		},
		BlockSize: cfg.Audio.BlockSize,
	}
	if cfg.Capture.SystemAudio {
		engineOpts.System = &capture.SystemConstraints{}
	}

	engine := capture.NewEngine(host, logger, appMetrics, engineOpts)
	if err := engine.Start(ctx); err != nil {
		logger.Error("Failed to start audio capture", slog.String("error", err.Error()))
		os.Exit(1)
	}

	framer, err := audio.NewFramer(ctx, logger, appMetrics, audio.FramerConfig{
		SourceRate: cfg.Audio.SourceSampleRate,
		TargetRate: cfg.Audio.TargetSampleRate,
		FrameSize:  cfg.Audio.FrameSize,
	}, engine.Blocks())
	if err != nil {
		logger.Error("Failed to start audio framer", slog.String("error", err.Error()))
		engine.Stop()
		os.Exit(1)
	}

	aggregator, err := audio.NewAggregator(audio.AggregatorConfig{
		ThresholdSamples: cfg.Audio.ChunkDurationSamples(),
		TargetRate:       cfg.Audio.TargetSampleRate,
	}, logger, appMetrics, mgr)
	if err != nil {
		logger.Error("Failed to create aggregator", slog.String("error", err.Error()))
		engine.Stop()
		os.Exit(1)
	}

	recorder := audio.NewRecorder(cfg.Capture.SaveRecording, cfg.Audio.TargetSampleRate, logger)

	// Frame pump: capture side of the pipeline into the aggregator
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		for frame := range framer.Frames() {
			aggregator.AddFrame(frame)
			recorder.AddFrame(frame)
			appMetrics.RecordFrameEmitted()
		}
	}()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Streaming audio, waiting for end of input or signal...")

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-pumpDone:
		logger.Info("Audio input exhausted")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop the capture side first so no new frames are produced
	engine.Stop()
	framer.Stop()
	<-pumpDone

	// Push the trailing partial chunk before stopping the session
	aggregator.Flush()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := mgr.Stop(shutdownCtx); err != nil {
		logger.Error("Failed to stop session", slog.String("error", err.Error()))
	}

	// Give the final transcript reconciliation a moment to land
	time.Sleep(time.Second)

	if cfg.Capture.SaveRecording {
		dir := cfg.Capture.RecordingDir
		if dir == "" {
			dir = "recordings"
		}
		if path, err := recorder.Save(dir); err != nil {
			logger.Error("Failed to save recording", slog.String("error", err.Error()))
		} else {
			logger.Info("Recording saved", slog.String("path", path))
		}
	}

	if *transcriptOut != "" {
		if err := writeTranscript(*transcriptOut, mgr.TranscriptText()); err != nil {
			logger.Error("Failed to write transcript", slog.String("error", err.Error()))
		} else {
			logger.Info("Transcript written", slog.String("path", *transcriptOut))
		}
	}

	mgr.Close()
	conn.Close()

	// Final statistics
	engineStats := engine.GetStats()
	aggStats := aggregator.GetStats()
	mgrStats := mgr.GetStats()
	logger.Info("Final client statistics",
		slog.Uint64("blocks_rendered", engineStats.BlocksRendered),
		slog.Uint64("chunks_emitted", aggStats.ChunksEmitted),
		slog.Uint64("chunks_dropped", aggStats.ChunksDropped),
		slog.Uint64("force_clears", aggStats.ForceClears),
		slog.Uint64("chunks_sent", mgrStats.ChunksSent),
		slog.Int("transcript_lines", mgrStats.TranscriptLines),
	)

	logger.Info("Client stopped")
}

// waitForResume blocks while an authorized resume awaits its confirmation
// event, up to the given timeout
func waitForResume(mgr *session.Manager, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for mgr.State() == session.StateResumePending && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
}

// writeTranscript saves the transcript text, creating parent directories
func writeTranscript(path, text string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create transcript dir: %w", err)
		}
	}
	return os.WriteFile(path, []byte(text+"\n"), 0644)
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
