package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/ncecere/sophnet_gateway/internal/adapters/sophnet"
	"github.com/ncecere/sophnet_gateway/internal/app"
	"github.com/ncecere/sophnet_gateway/internal/config"
	"github.com/ncecere/sophnet_gateway/internal/executor"
	"github.com/ncecere/sophnet_gateway/internal/models"
	"github.com/ncecere/sophnet_gateway/internal/requestctx"
)

func main() {
	configFile := flag.String("config", "", "path to sophnet.yaml")
	model := flag.String("model", "", "transcription alias (defaults to the first configured)")
	timeout := flag.Duration("timeout", 30*time.Minute, "overall deadline for upload and polling")
	asJSON := flag.Bool("json", false, "print the task id and transcript as JSON")
	verbose := flag.Bool("v", false, "log each status poll")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <audio-file>\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	path := flag.Arg(0)
	if !sophnet.SupportedAudioFile(path) {
		log.Fatalf("%s: unsupported audio file type", path)
	}

	cfg, err := config.Load(config.Options{ConfigFile: *configFile})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	container, err := app.NewContainer(ctx, cfg, nil, logger)
	if err != nil {
		log.Fatalf("build container: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		log.Fatalf("open audio: %v", err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		log.Fatalf("stat audio: %v", err)
	}

	ctx = requestctx.WithContext(ctx, container.BuildRequestContext(nil))
	start := time.Now()
	result, err := executor.New(container).Transcribe(ctx, models.AudioTranscriptionRequest{
		Model: *model,
		Input: models.AudioInput{
			Reader:   file,
			Filename: filepath.Base(path),
			Bytes:    info.Size(),
		},
	}, "")
	if err != nil {
		log.Fatalf("transcribe %s: %v", path, err)
	}
	logger.Info("transcription finished", "alias", result.Alias, "task", result.Response.JobID, "elapsed", time.Since(start))

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(map[string]string{"task_id": result.Response.JobID, "text": result.Response.Text})
		return
	}
	fmt.Println(result.Response.Text)
}
