package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lvcoi/tubeform/internal/app"
	"github.com/lvcoi/tubeform/internal/config"
	"github.com/lvcoi/tubeform/internal/db"
	"github.com/lvcoi/tubeform/internal/downloader"
	"github.com/lvcoi/tubeform/internal/media"
	"github.com/lvcoi/tubeform/internal/metrics"
	"github.com/lvcoi/tubeform/internal/session"
	"github.com/lvcoi/tubeform/internal/storage"
	"github.com/lvcoi/tubeform/internal/transcode"
	"github.com/lvcoi/tubeform/internal/tui"
	"github.com/lvcoi/tubeform/internal/web"
	"github.com/lvcoi/tubeform/internal/ws"
)

const defaultKeepDir = "downloads"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer downloader.CloseIdleConnections()

	extractor, err := newExtractor(ctx, cfg, logger)
	if err != nil {
		logger.Error("extractor setup failed", "extractor", cfg.Extractor, "err", err)
		return 1
	}
	ffmpeg := transcode.New(cfg.FFmpegPath)
	if !ffmpeg.Available() {
		logger.Warn("ffmpeg not found, separate streams will be packaged as ZIP", "binary", ffmpeg.Binary)
	}

	if cfg.Serving() {
		return serve(ctx, cfg, logger, extractor, ffmpeg)
	}
	return runCLI(ctx, cfg, logger, extractor, ffmpeg)
}

func newExtractor(ctx context.Context, cfg *config.Config, logger *slog.Logger) (downloader.Extractor, error) {
	if cfg.Extractor == config.ExtractorYouTube {
		return downloader.NewYouTube(downloader.YouTubeOptions{
			Timeout: cfg.HTTPTimeout,
			Retries: cfg.Retries,
		}), nil
	}
	if cfg.InstallYtDlp {
		logger.Info("ensuring yt-dlp is installed")
		if err := downloader.InstallYtDlp(ctx); err != nil {
			return nil, fmt.Errorf("installing yt-dlp: %w", err)
		}
	}
	return downloader.NewYtDlp(downloader.YtDlpOptions{FFmpegLocation: cfg.FFmpegPath}), nil
}

func serviceOptions(cfg *config.Config, logger *slog.Logger) []downloader.ServiceOption {
	return []downloader.ServiceOption{
		downloader.WithLogger(logger),
		downloader.WithTimeout(cfg.RequestTimeout),
		downloader.WithTempDir(cfg.TempDir),
		downloader.WithAudioBitrate(cfg.AudioBitrate),
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, extractor downloader.Extractor, ffmpeg *transcode.FFmpeg) int {
	m := metrics.New()
	opts := serviceOptions(cfg, logger)
	opts = append(opts, downloader.WithObserver(m))

	webOpts := web.Options{
		Metrics:        m,
		Hub:            ws.NewHub(logger, cfg.AllowedOrigins...),
		Logger:         logger,
		MaxDownloads:   cfg.MaxDownloads,
		RequestTimeout: cfg.RequestTimeout,
		PublicBaseURL:  cfg.PublicBaseURL,
		SecureCookies:  strings.HasPrefix(cfg.PublicBaseURL, "https://"),
	}

	if cfg.DBPath != "" {
		history, err := db.Open(cfg.DBPath)
		if err != nil {
			logger.Error("opening history database failed", "path", cfg.DBPath, "err", err)
			return 1
		}
		defer history.Close()
		opts = append(opts, downloader.WithHistory(history))
		webOpts.History = history
	}

	if cfg.RedisURL != "" {
		store, err := session.NewRedisStore(ctx, cfg.RedisURL, cfg.SessionTTL)
		if err != nil {
			logger.Error("connecting to redis failed", "err", err)
			return 1
		}
		defer store.Close()
		webOpts.Sessions = store
	} else {
		webOpts.Sessions = session.NewMemoryStore(cfg.SessionTTL)
	}

	if cfg.S3.Enabled() {
		publisher, err := storage.NewPublisher(ctx, cfg.S3)
		if err != nil {
			logger.Error("configuring S3 publishing failed", "bucket", cfg.S3.Bucket, "err", err)
			return 1
		}
		webOpts.Publisher = publisher
		logger.Info("publishing finished downloads to S3", "bucket", cfg.S3.Bucket)
	}

	if cfg.KeepFiles {
		webOpts.OutputDir = cfg.OutputDir
		if webOpts.OutputDir == "" {
			webOpts.OutputDir = defaultKeepDir
		}
	}

	webOpts.Service = downloader.NewService(extractor, ffmpeg, opts...)
	srv, err := web.New(webOpts)
	if err != nil {
		logger.Error("web server setup failed", "err", err)
		return 1
	}
	if err := srv.ListenAndServe(ctx, cfg.Addr); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("web server failed", "err", err)
		return 1
	}
	logger.Info("web server stopped")
	return 0
}

func runCLI(ctx context.Context, cfg *config.Config, logger *slog.Logger, extractor downloader.Extractor, ffmpeg *transcode.FFmpeg) int {
	if len(cfg.URLs) == 0 {
		err := &downloader.CategorizedError{Category: downloader.CategoryInvalidURL, Err: errors.New("no url provided")}
		if cfg.JSON {
			writeJSON(os.Stdout, app.Result{Error: err.Error(), Category: string(err.Category)})
		} else {
			fmt.Fprintf(os.Stderr, "usage: tubeform [options] <url> [url...]\n       tubeform -serve :8501\n")
		}
		return downloader.ExitCode(err)
	}

	showProgress := !cfg.Quiet && !cfg.JSON && !cfg.Info && !cfg.Direct
	svcLogger := logger
	if showProgress {
		// Log lines would tear the progress display.
		svcLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	svc := downloader.NewService(extractor, ffmpeg, serviceOptions(cfg, svcLogger)...)

	outputDir := cfg.OutputDir
	if outputDir == "" {
		outputDir = "."
	}
	opts := app.Options{
		Info:      cfg.Info,
		Direct:    cfg.Direct,
		Quality:   cfg.Quality,
		Audio:     cfg.Audio,
		Language:  cfg.Lang,
		OutputDir: outputDir,
		Jobs:      cfg.Jobs,
	}
	if showProgress {
		opts.Progress = tui.NewProgressManager(os.Stderr)
		opts.Progress.Start(ctx)
	}
	results, code := app.Run(ctx, svc, cfg.URLs, opts)
	opts.Progress.Stop()

	for _, res := range results {
		if cfg.JSON {
			writeJSON(os.Stdout, res)
			continue
		}
		printResult(res, cfg, ffmpeg.Available())
	}
	return code
}

func printResult(res app.Result, cfg *config.Config, transcoder bool) {
	if res.Err != nil {
		fmt.Fprintf(os.Stderr, "error: %s: %s\n", res.URL, res.Error)
		if res.Hint != "" {
			fmt.Fprintf(os.Stderr, "hint: %s\n", res.Hint)
		}
		return
	}
	switch {
	case res.Info != nil:
		fmt.Println(tui.InfoCard(res.Info, transcoder))
	case len(res.Links) > 0:
		fmt.Printf("%s [%s]\n", res.Title, res.Option)
		for _, l := range res.Links {
			label := l.Kind
			if l.Height > 0 {
				label = fmt.Sprintf("%s %dp", label, l.Height)
			}
			fmt.Printf("  %-16s %s\n", label, l.URL)
		}
	case !cfg.Quiet:
		line := fmt.Sprintf("saved %s (%s)", res.File, media.FormatSize(res.Size))
		if res.Fallback {
			line += ", requested quality was not available"
		}
		fmt.Println(line)
	}
}

func writeJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
