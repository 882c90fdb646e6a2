package main

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/zombor/ocr-alarm/internal/alarm"
	"github.com/zombor/ocr-alarm/internal/deferred"
	"github.com/zombor/ocr-alarm/internal/scanning"
	"github.com/zombor/ocr-alarm/internal/timeofday"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("ocr-alarm")
	var (
		port             = fs.IntLong("port", 8080, "HTTP server port")
		dbPath           = fs.StringLong("db", "ocr-alarm.db", "Database file path")
		storagePath      = fs.StringLong("storage", "./images", "Directory for analyzed images")
		scannerType      = fs.StringLong("scanner", "gemini", "Text recognizer: 'gemini' or 'ollama'")
		geminiKey        = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel      = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL        = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel      = fs.StringLong("ollama-model", "llava", "Ollama vision model name (e.g., llava, qwen2-vl, minicpm-v)")
		offset           = fs.DurationLong("offset", timeofday.DefaultOffset, "Delay added after the extracted time before vibrating")
		pulse            = fs.DurationLong("pulse", deferred.DefaultPulse, "Vibration length (max 10s)")
		recognizeTimeout = fs.DurationLong("recognize-timeout", 60*time.Second, "Maximum time to wait for text recognition")
		actionType       = fs.StringLong("action", "log", "Vibration action: 'log' or 'webhook'")
		webhookURL       = fs.StringLong("webhook-url", "", "Device URL to POST vibrate requests to (action=webhook)")
		authUser         = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass         = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logFile          = fs.StringLong("log-file", "", "Also write logs to this rotating file (optional)")
		debug            = fs.BoolLong("debug", "Enable debug logging")
		showVersion      = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("OCR_ALARM"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	setupLogging(*logFile, *debug)

	slog.Info("Initializing database...")
	db, err := alarm.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	var recognizer scanning.Recognizer
	switch *scannerType {
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini recognizer...", "model", *geminiModel)
		recognizer, err = scanning.NewGemini(apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama recognizer...", "url", *ollamaURL, "model", *ollamaModel)
		recognizer, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid scanner type", "type", *scannerType, "valid", "gemini or ollama")
		os.Exit(1)
	}
	defer recognizer.Close()

	var action deferred.Action
	switch *actionType {
	case "log":
		action = deferred.LogVibrator{}
	case "webhook":
		action, err = deferred.NewWebhookVibrator(*webhookURL)
		if err != nil {
			slog.Error("Failed to initialize webhook action", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid action type", "type", *actionType, "valid", "log or webhook")
		os.Exit(1)
	}

	slog.Info("Initializing storage...")
	store, err := alarm.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	alarmService := alarm.NewService(db, recognizer, store, action, alarm.Config{
		Offset:           *offset,
		Pulse:            *pulse,
		RecognizeTimeout: *recognizeTimeout,
	})
	defer alarmService.Close()

	resumed, err := alarmService.Resume(context.Background())
	if err != nil {
		slog.Error("Failed to resume pending alarms", "error", err)
		os.Exit(1)
	}
	slog.Info("Resumed pending alarms", "count", resumed)

	basicAuth := alarm.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := alarm.NewServer(alarmService, basicAuth)

	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Warn("Server shutdown", "error", err)
	}
}

// setupLogging installs the default slog logger, optionally teeing to a rotating file
func setupLogging(logFile string, debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stderr
	if logFile != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		})
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}
