// Package config resolves settings from defaults, .env files, TUBEFORM_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/lvcoi/tubeform/internal/storage"
)

const envPrefix = "TUBEFORM_"

// Extractor backends.
const (
	ExtractorYtDlp   = "yt-dlp"
	ExtractorYouTube = "youtube"
)

// Config is the resolved runtime configuration for both the CLI and the
// web server.
type Config struct {
	// Web server; empty Addr runs the CLI.
	Addr           string
	PublicBaseURL  string
	AllowedOrigins []string
	MaxDownloads   int
	RedisURL       string
	SessionTTL     time.Duration
	DBPath         string
	KeepFiles      bool

	// Extraction and post-processing.
	Extractor      string
	FFmpegPath     string
	InstallYtDlp   bool
	AudioBitrate   string
	RequestTimeout time.Duration
	HTTPTimeout    time.Duration
	Retries        int
	TempDir        string
	OutputDir      string

	// CLI.
	Info    bool
	Quality string
	Audio   bool
	Lang    string
	Direct  bool
	JSON    bool
	Quiet   bool
	Jobs    int

	LogLevel  string
	LogFormat string

	S3 storage.Config

	// URLs holds the positional arguments.
	URLs []string
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		MaxDownloads:   2,
		SessionTTL:     2 * time.Hour,
		DBPath:         "tubeform.db",
		Extractor:      ExtractorYtDlp,
		AudioBitrate:   "192k",
		RequestTimeout: 30 * time.Minute,
		HTTPTimeout:    3 * time.Minute,
		Retries:        3,
		Jobs:           1,
		LogLevel:       "info",
		LogFormat:      "text",
		S3:             storage.Config{PresignTTL: time.Hour, MaxRetries: 3},
	}
}

// LoadEnvFiles reads .env.local and .env from dir without overriding
// variables already present in the environment, so the real environment
// wins over .env.local, which wins over .env.
func LoadEnvFiles(dir string) error {
	for _, name := range []string{".env.local", ".env"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", name, err)
		}
	}
	return nil
}

// Load resolves the configuration for the process: .env files in the
// working directory, the environment, then args.
func Load(args []string, stderr io.Writer) (*Config, error) {
	if err := LoadEnvFiles("."); err != nil {
		return nil, err
	}
	return Parse(args, os.LookupEnv, stderr)
}

// Parse applies environment values from lookup and then flags from args on
// top of Default.
func Parse(args []string, lookup func(string) (string, bool), stderr io.Writer) (*Config, error) {
	cfg := Default()
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet("tubeform", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: tubeform [options] <url> [url...]\n       tubeform -serve :8501\n")
		fs.PrintDefaults()
	}
	cfg.bindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.URLs = fs.Args()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) bindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Addr, "serve", c.Addr, "run the web form on this address (e.g. :8501)")
	fs.StringVar(&c.Extractor, "extractor", c.Extractor, "extractor backend: yt-dlp or youtube")
	fs.StringVar(&c.FFmpegPath, "ffmpeg", c.FFmpegPath, "ffmpeg binary (default: search PATH)")
	fs.BoolVar(&c.InstallYtDlp, "install-yt-dlp", c.InstallYtDlp, "download a yt-dlp binary if none is installed")
	fs.BoolVar(&c.Info, "info", c.Info, "print video information and quality options without downloading")
	fs.StringVar(&c.Quality, "quality", c.Quality, "quality bucket (e.g. 1080p, 720, best); default is the highest available")
	fs.BoolVar(&c.Audio, "audio", c.Audio, "download audio only as MP3")
	fs.StringVar(&c.Lang, "lang", c.Lang, "preferred audio language (e.g. en, es)")
	fs.StringVar(&c.OutputDir, "o", c.OutputDir, "output directory")
	fs.BoolVar(&c.Direct, "direct", c.Direct, "print direct stream URLs instead of downloading")
	fs.BoolVar(&c.JSON, "json", c.JSON, "emit JSON output (suppresses human-readable progress)")
	fs.BoolVar(&c.Quiet, "quiet", c.Quiet, "suppress progress output (errors still shown)")
	fs.IntVar(&c.Jobs, "jobs", c.Jobs, "number of concurrent downloads")
	fs.DurationVar(&c.RequestTimeout, "timeout", c.RequestTimeout, "per-download timeout")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "log format: text or json")
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		if v, ok := lookup(envPrefix + key); ok {
			return strings.TrimSpace(v), true
		}
		return "", false
	}
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := get(key); ok {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := get(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = b
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := get(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := get(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	str("ADDR", &c.Addr)
	str("PUBLIC_BASE_URL", &c.PublicBaseURL)
	if v, ok := get("ALLOWED_ORIGINS"); ok {
		c.AllowedOrigins = splitList(v)
	}
	integer("MAX_DOWNLOADS", &c.MaxDownloads)
	str("REDIS_URL", &c.RedisURL)
	duration("SESSION_TTL", &c.SessionTTL)
	str("DB_PATH", &c.DBPath)
	boolean("KEEP_FILES", &c.KeepFiles)

	str("EXTRACTOR", &c.Extractor)
	str("FFMPEG_PATH", &c.FFmpegPath)
	boolean("INSTALL_YT_DLP", &c.InstallYtDlp)
	str("AUDIO_BITRATE", &c.AudioBitrate)
	duration("REQUEST_TIMEOUT", &c.RequestTimeout)
	duration("HTTP_TIMEOUT", &c.HTTPTimeout)
	integer("RETRIES", &c.Retries)
	str("TEMP_DIR", &c.TempDir)
	str("OUTPUT_DIR", &c.OutputDir)
	integer("JOBS", &c.Jobs)

	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)

	str("S3_BUCKET", &c.S3.Bucket)
	str("S3_REGION", &c.S3.Region)
	str("S3_ENDPOINT", &c.S3.Endpoint)
	str("S3_ACCESS_KEY_ID", &c.S3.AccessKeyID)
	str("S3_SECRET_ACCESS_KEY", &c.S3.SecretAccessKey)
	str("S3_PREFIX", &c.S3.Prefix)
	duration("S3_PRESIGN_TTL", &c.S3.PresignTTL)

	return errors.Join(errs...)
}

// Validate rejects settings the program cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Extractor {
	case ExtractorYtDlp, ExtractorYouTube:
	default:
		errs = append(errs, fmt.Errorf("unknown extractor %q (want %s or %s)", c.Extractor, ExtractorYtDlp, ExtractorYouTube))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	if c.Jobs < 1 {
		errs = append(errs, errors.New("jobs must be at least 1"))
	}
	if c.MaxDownloads < 1 {
		errs = append(errs, errors.New("max downloads must be at least 1"))
	}
	if c.Retries < 0 {
		errs = append(errs, errors.New("retries must not be negative"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if c.Audio && c.Quality != "" {
		errs = append(errs, errors.New("-audio and -quality are mutually exclusive"))
	}
	if c.Info && c.Direct {
		errs = append(errs, errors.New("-info and -direct are mutually exclusive"))
	}
	if c.S3.Enabled() {
		if err := c.S3.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Serving reports whether the web server should run.
func (c *Config) Serving() bool { return c.Addr != "" }

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
