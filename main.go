package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Clip is a pair of videos of the same scene, one captured with a top to
// bottom rolling shutter and one bottom to top. OutputPath is the folder
// the extracted global shutter frames are written to.
type Clip struct {
	ID          int64  `json:"id"`
	Path        string `json:"path" binding:"required"`
	ReversePath string `json:"reversePath" binding:"required"`
	OutputPath  string `json:"outPath" binding:"required"`
}

type FailedClip struct {
	ID           int64  `json:"id"`
	FFmpegOutput string `json:"ffmpegOutput"`
	Error        string `json:"error"`
	Clip         Clip   `json:"clip"`
}

func main() {
	// cli arguments
	configPath := flag.String("config_path", "./config.yml", "Path to the config yml file")
	flag.Parse()

	config, err := GetConfig(*configPath)
	if err != nil {
		log.Panic(err)
	}

	InitLogFile(config.LogPath)

	sqlite, err := NewSqlite(config.DatabasePath)
	if err != nil {
		log.Panic(err)
	}
	defer sqlite.Close()

	if err := sqlite.RunMigrations(); err != nil {
		log.Panic(err)
	}

	clips, err := sqlite.GetClips()
	if err != nil {
		log.Panic(err)
	}

	hub, err := NewHub()
	if err != nil {
		log.Panic(err)
	}
	go hub.Run()

	engine, err := NewEngine(&config, sqlite)
	if err != nil {
		log.Panic(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := NewQueue(clips, hub)
	var waitGroup sync.WaitGroup
	poolWorker, err := NewPoolWorker(ctx, queue, &config, sqlite, engine, hub, &waitGroup)
	if err != nil {
		log.Panic(err)
	}

	trainer, err := NewTrainer(ctx, &config, engine, sqlite, hub)
	if err != nil {
		log.Panic(err)
	}

	server, err := NewServer(queue, sqlite, poolWorker, trainer, hub)
	if err != nil {
		log.Panic(err)
	}

	go poolWorker.RunDispatcher()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		log.Info("Shutting down, waiting for workers")
		cancel()
		waitGroup.Wait()
		os.Exit(0)
	}()

	gin.SetMode(gin.ReleaseMode)
	err = server.Router().Run(fmt.Sprintf("%s:%d", config.BindAddress, config.Port))
	if err != nil {
		log.Panic(err)
	}
}
