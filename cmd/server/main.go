package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/voxpipe/realtime-transcription/internal/cleanup"
	"github.com/voxpipe/realtime-transcription/internal/handlers"
	"github.com/voxpipe/realtime-transcription/internal/logger"
	"github.com/voxpipe/realtime-transcription/internal/notify"
	"github.com/voxpipe/realtime-transcription/internal/queue"
	"github.com/voxpipe/realtime-transcription/internal/service"
	"github.com/voxpipe/realtime-transcription/internal/storage"
	"github.com/voxpipe/realtime-transcription/internal/transcript"
	"github.com/voxpipe/realtime-transcription/internal/transcription"
	"github.com/voxpipe/realtime-transcription/internal/types"
)

// Config is the application configuration loaded from YAML.
type Config struct {
	Server struct {
		Port int    `yaml:"port"`
		Host string `yaml:"host"`
	} `yaml:"server"`

	Whisper struct {
		PythonCmd    string `yaml:"python_cmd"`
		WorkerScript string `yaml:"worker_script"`
	} `yaml:"whisper"`

	Transcription types.Config `yaml:"transcription"`

	Storage struct {
		TempDir   string `yaml:"temp_dir"`
		OutputDir string `yaml:"output_dir"`
		Database  string `yaml:"database"`
	} `yaml:"storage"`

	Cleanup struct {
		IntervalMinutes int `yaml:"interval_minutes"`
		MaxAgeHours     int `yaml:"max_age_hours"`
	} `yaml:"cleanup"`

	Breaker struct {
		Threshold          int `yaml:"threshold"`
		ResetWindowSeconds int `yaml:"reset_window_seconds"`
	} `yaml:"breaker"`

	Archive struct {
		CredentialsFile string `yaml:"credentials_file"`
		TokenFile       string `yaml:"token_file"`
		FolderName      string `yaml:"folder_name"`
	} `yaml:"archive"`

	Limits struct {
		MaxBodySizeMB int `yaml:"max_body_size_mb"`
	} `yaml:"limits"`
}

func main() {
	// .env overrides are optional
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	config, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New()
	logBuf := logger.NewBuffer(1000)
	logger.Tee(log, logBuf)

	if err := os.MkdirAll(config.Storage.TempDir, 0755); err != nil {
		log.WithError(err).Fatal("failed to create temp directory")
	}
	if err := os.MkdirAll(config.Storage.OutputDir, 0755); err != nil {
		log.WithError(err).Fatal("failed to create output directory")
	}

	log.Info("initializing components")

	engine := transcription.NewWhisperEngine(
		config.Whisper.PythonCmd,
		config.Whisper.WorkerScript,
		logger.WithComponent(log, "whisper"),
	)
	processor := transcription.NewProcessor(
		config.Storage.TempDir,
		engine,
		logger.WithComponent(log, "processor"),
	)

	breaker := transcription.NewCircuitBreaker(
		config.Breaker.Threshold,
		time.Duration(config.Breaker.ResetWindowSeconds)*time.Second,
		logger.WithComponent(log, "breaker"),
	)

	localStorage := storage.NewLocalStorage(config.Storage.OutputDir)

	db, err := storage.NewMetadataDB(config.Storage.Database)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	defer db.Close()

	// Drive archive is optional: skipped when credentials are absent
	var archive *storage.DriveArchive
	if _, err := os.Stat(config.Archive.CredentialsFile); err == nil {
		archive, err = storage.NewDriveArchive(
			config.Archive.CredentialsFile,
			config.Archive.TokenFile,
			config.Archive.FolderName,
		)
		if err != nil {
			log.WithError(err).Warn("Drive archive not available, transcripts saved locally only")
			archive = nil
		} else {
			log.Info("Drive archive enabled")
		}
	} else {
		log.Info("Drive credentials not found, transcripts saved locally only")
	}

	store := storage.NewStore(localStorage, db, archive, logger.WithComponent(log, "storage"))

	hub := notify.NewHub(256)

	jobManager := queue.NewManager(processor, 0, 0, logger.WithComponent(log, "jobs"))
	transcriptManager := transcript.NewManager(store, hub, 0, 0, logger.WithComponent(log, "transcripts"))

	memoryManager := cleanup.NewManager(
		jobManager,
		transcriptManager,
		processor,
		time.Duration(config.Cleanup.IntervalMinutes)*time.Minute,
		time.Duration(config.Cleanup.MaxAgeHours)*time.Hour,
		logger.WithComponent(log, "memory"),
	)

	svc := service.New(
		config.Transcription,
		jobManager,
		transcriptManager,
		processor,
		breaker,
		memoryManager,
		hub,
		0,
		logger.WithComponent(log, "service"),
	)
	svc.Start()
	defer svc.Shutdown()

	bodyLimit := config.Limits.MaxBodySizeMB
	if bodyLimit <= 0 {
		bodyLimit = 32
	}
	app := fiber.New(fiber.Config{
		BodyLimit: bodyLimit * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	recordingHandler := handlers.NewRecordingHandler(svc)
	jobHandler := handlers.NewJobHandler(svc)
	adminHandler := handlers.NewAdminHandler(svc, logBuf)
	streamHandler := handlers.NewStreamHandler(svc, logger.WithComponent(log, "stream"))
	eventsHandler := handlers.NewEventsHandler(hub, logger.WithComponent(log, "events"))

	app.Post("/recordings/:id/start", recordingHandler.Start)
	app.Post("/recordings/:id/stop", recordingHandler.Stop)
	app.Post("/recordings/:id/chunks", recordingHandler.SubmitChunk)
	app.Get("/recordings/:id/transcript", recordingHandler.Transcript)
	app.Get("/recordings/:id/text", recordingHandler.MergedText)

	app.Get("/jobs/:id", jobHandler.Get)
	app.Delete("/jobs/:id", jobHandler.Cancel)

	app.Get("/config", adminHandler.GetConfig)
	app.Patch("/config", adminHandler.UpdateConfig)
	app.Get("/stats", adminHandler.Stats)
	app.Get("/health", adminHandler.Health)
	app.Get("/logs", adminHandler.Logs)
	app.Post("/breaker/reset", adminHandler.ResetBreaker)

	app.Get("/ws/recordings/:id/stream", websocket.New(streamHandler.Handle))
	app.Get("/ws/events", websocket.New(eventsHandler.Handle))

	// transcript history from the metadata DB
	app.Get("/transcripts", func(c *fiber.Ctx) error {
		records, err := db.ListTranscripts(50)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(records)
	})
	app.Get("/transcripts/:recording_id", func(c *fiber.Ctx) error {
		record, err := db.GetTranscript(c.Params("recording_id"))
		if err != nil {
			return c.Status(404).JSON(fiber.Map{"error": "Transcript not found"})
		}
		return c.JSON(record)
	})

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	log.WithField("addr", addr).Info("server starting")

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Info("shutting down gracefully")
		app.Shutdown()
	}()

	if err := app.Listen(addr); err != nil {
		log.WithError(err).Fatal("server failed")
	}
}

// loadConfig loads configuration from a YAML file.
func loadConfig(path string) (*Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := yaml.Unmarshal(file, &config); err != nil {
		return nil, err
	}
	return &config, nil
}
