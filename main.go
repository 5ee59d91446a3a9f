package main

import (
	"fmt"
	golog "log"
	"os"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"yt-transcribe/acquire"
	"yt-transcribe/config"
	"yt-transcribe/database"
	"yt-transcribe/deepgram"
	"yt-transcribe/ffmpeg"
	"yt-transcribe/handlers"
	"yt-transcribe/jobs"
	"yt-transcribe/videos"
	"yt-transcribe/ytdlp"
)

var db *gorm.DB

func main() {

	initLogger()

	log.Infof("GitSHA: %s", config.GetGitSHA())
	log.Infof("BuildDate: %s", config.GetBuildDate())

	ffmpeg.Init(log)
	ytdlp.Init(log)
	acquire.Init(log)
	jobs.Init(log)
	handlers.Init(log)

	// a missing credential is a startup failure, never a per-job one
	apiKey, err := config.GetDeepgramAPIKey()
	if err != nil {
		log.Panicln(err)
	}
	transcriber, err := deepgram.NewClient(apiKey, log)
	if err != nil {
		log.Panicln(err)
	}

	gormLogger := logger.New(
		golog.New(os.Stdout, "\r\n", golog.LstdFlags), // io writer
		logger.Config{
			SlowThreshold:             time.Second, // Slow SQL threshold
			LogLevel:                  logger.Warn, // Log level
			IgnoreRecordNotFoundError: true,        // Ignore ErrRecordNotFound error for logger
			ParameterizedQueries:      true,        // Don't include params in the SQL log
			Colorful:                  false,       // Disable color
		},
	)

	for _, dir := range []string{config.GetDataDir(), config.GetTempDir(), config.GetTranscriptDir()} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			log.Panicf("failed to create dir %s", dir)
		}
	}

	// Initialize database
	dbPath := filepath.Join(config.GetDataDir(), "transcribe.db")
	db, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		log.Panicf("failed to connect to database %s", dbPath)
	}

	// set only a single connection so we don't actually have concurrent writes
	sqlDB, err := db.DB()
	if err != nil {
		log.Panicln("failed to retrieve database")
	}
	sqlDB.SetMaxOpenConns(1)

	// Migrate the schema
	db.AutoMigrate(&videos.Video{}, &jobs.TranscriptionJob{})

	database.Init(db, log)
	defer database.Fini()

	go PeriodicCleanup()

	// start the transcription workers
	orch := NewOrchestrator(
		acquire.New(config.GetTempDir()),
		transcriber,
		config.GetMaxConcurrentJobs(),
		config.GetTranscriptDir(),
	)
	if err := orch.Start(); err != nil {
		log.Panicln(err)
	}
	defer orch.Stop()

	// Initialize Echo
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// Routes
	e.POST("/api/jobs", handlers.CreateJob)
	e.GET("/api/jobs", handlers.ListJobs)
	e.GET("/api/jobs/:id", handlers.GetJob)
	e.POST("/api/jobs/:id/cancel", handlers.CancelJob)
	e.POST("/api/jobs/:id/retry", handlers.RetryJob)
	e.GET("/api/jobs/:id/words", handlers.GetWordTimestamps)
	e.GET("/api/jobs/:id/transcript", handlers.GetTranscript)
	e.GET("/api/status", handlers.StatusGet)

	// Start server
	e.Logger.Fatal(e.Start(fmt.Sprintf(":%d", config.GetPort())))
}
