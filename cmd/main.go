package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/akamensky/argparse"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/andesco/random-image/handlers"
	"github.com/andesco/random-image/pkg/config"
	"github.com/andesco/random-image/pkg/imageproxy"
)

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := parseArgs(args)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg, os.Stdout)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	logger.Info("starting random-image",
		"addr", cfg.Addr(),
		"source_list", cfg.SourceList,
		"timeout", time.Duration(cfg.Timeout),
		"max_redirects", cfg.MaxRedirects,
		"insecure_skip_verify", cfg.InsecureSkipVerify,
	)
	if cfg.InsecureSkipVerify {
		logger.Warn("TLS certificate verification is disabled for upstream image fetches")
	}

	app := newApp(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.Listen(cfg.Addr())
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(10 * time.Second)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// parseArgs builds the configuration; command line flags override config.Load.
func parseArgs(args []string) (config.Config, error) {
	// .env may name the config file, so it is read before CONFIG.
	config.LoadDotEnv()

	parser := argparse.NewParser("random-image", "Serves a random image from a list of URLs")

	configPath := parser.String("c", "config", &argparse.Options{
		Required: false,
		Default:  os.Getenv("CONFIG"),
		Help:     "YAML configuration file. Env: CONFIG",
	})
	port := parser.String("p", "port", &argparse.Options{
		Required: false,
		Help:     "Port the webserver will listen on. Env: PORT (default 8080)",
	})
	sourceList := parser.String("s", "source-list", &argparse.Options{
		Required: false,
		Help:     "File with one image URL per line. Env: SOURCE_LIST (default image_links.txt)",
	})
	title := parser.String("", "title", &argparse.Options{
		Required: false,
		Help:     "Page title of the HTML shell. Env: PAGE_TITLE",
	})
	userAgent := parser.String("", "user-agent", &argparse.Options{
		Required: false,
		Help:     "User-Agent sent to upstream hosts. Env: USER_AGENT",
	})
	timeout := parser.String("t", "timeout", &argparse.Options{
		Required: false,
		Help:     "Upstream fetch timeout, e.g. 10s or 10. Env: HTTP_TIMEOUT",
	})
	maxRedirects := parser.Int("", "max-redirects", &argparse.Options{
		Required: false,
		Default:  -1,
		Help:     "Redirects followed per fetch. Env: MAX_REDIRECTS (default 5)",
	})
	maxBytes := parser.Int("", "max-bytes", &argparse.Options{
		Required: false,
		Help:     "Largest upstream image accepted, in bytes. Env: MAX_IMAGE_BYTES",
	})
	insecure := parser.Flag("k", "insecure-skip-verify", &argparse.Options{
		Required: false,
		Help:     "Do not verify upstream TLS certificates. Env: INSECURE_SKIP_VERIFY",
	})
	logLevel := parser.Selector("", "log-level", []string{"debug", "info", "warn", "error"}, &argparse.Options{
		Required: false,
		Help:     "Log level. Env: LOG_LEVEL",
	})
	logFormat := parser.Selector("", "log-format", []string{config.FormatAuto, config.FormatJSON, config.FormatText}, &argparse.Options{
		Required: false,
		Help:     "Log format. Env: LOG_FORMAT",
	})
	logURLs := parser.Flag("", "log-urls", &argparse.Options{
		Required: false,
		Help:     "Log the URL served for every image request. Env: LOG_URLS",
	})
	accessLog := parser.Flag("", "access-log", &argparse.Options{
		Required: false,
		Help:     "Log every HTTP request. Env: ACCESS_LOG",
	})
	noMetrics := parser.Flag("", "no-metrics", &argparse.Options{
		Required: false,
		Help:     "Do not expose Prometheus metrics on /metrics. Env: METRICS=false",
	})
	prefork := parser.Flag("P", "prefork", &argparse.Options{
		Required: false,
		Help:     "This will spawn multiple processes listening",
	})

	if err := parser.Parse(args); err != nil {
		return config.Config{}, errors.New(parser.Usage(err))
	}

	var overrides []config.Override
	override := func(env string, apply func(*config.Config) error) {
		overrides = append(overrides, config.Override{Env: env, Apply: apply})
	}

	if *port != "" {
		override("PORT", func(c *config.Config) error { c.Port = *port; return nil })
	}
	if *sourceList != "" {
		override("SOURCE_LIST", func(c *config.Config) error { c.SourceList = *sourceList; return nil })
	}
	if *title != "" {
		override("PAGE_TITLE", func(c *config.Config) error { c.Title = *title; return nil })
	}
	if *userAgent != "" {
		override("USER_AGENT", func(c *config.Config) error { c.UserAgent = *userAgent; return nil })
	}
	if *timeout != "" {
		override("HTTP_TIMEOUT", func(c *config.Config) error {
			d, err := config.ParseDuration(*timeout)
			if err != nil {
				return fmt.Errorf("invalid --timeout %q: %w", *timeout, err)
			}
			c.Timeout = config.Duration(d)
			return nil
		})
	}
	if *maxRedirects >= 0 {
		override("MAX_REDIRECTS", func(c *config.Config) error { c.MaxRedirects = *maxRedirects; return nil })
	}
	if *maxBytes > 0 {
		override("MAX_IMAGE_BYTES", func(c *config.Config) error { c.MaxBytes = int64(*maxBytes); return nil })
	}
	if *logLevel != "" {
		override("LOG_LEVEL", func(c *config.Config) error { c.LogLevel = *logLevel; return nil })
	}
	if *logFormat != "" {
		override("LOG_FORMAT", func(c *config.Config) error { c.LogFormat = *logFormat; return nil })
	}
	if *insecure {
		override("INSECURE_SKIP_VERIFY", func(c *config.Config) error { c.InsecureSkipVerify = true; return nil })
	}
	if *logURLs {
		override("LOG_URLS", func(c *config.Config) error { c.LogURLs = true; return nil })
	}
	if *accessLog {
		override("ACCESS_LOG", func(c *config.Config) error { c.AccessLog = true; return nil })
	}
	if *prefork {
		override("PREFORK", func(c *config.Config) error { c.Prefork = true; return nil })
	}
	if *noMetrics {
		override("METRICS", func(c *config.Config) error { c.Metrics = false; return nil })
	}

	return config.Load(*configPath, overrides...)
}

// newLogger returns a JSON logger, or a text logger when format is auto and w is a terminal.
func newLogger(cfg config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	format := cfg.LogFormat
	if format == config.FormatAuto {
		format = config.FormatJSON
		if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			format = config.FormatText
		}
	}

	if format == config.FormatText {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}

func newApp(cfg config.Config, logger *slog.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "random-image",
		Prefork:               cfg.Prefork,
		GETOnly:               true,
		DisableStartupMessage: true,
	})

	app.Use(fiberrecover.New())
	app.Use(requestid.New(requestid.Config{
		Generator: uuid.NewString,
	}))
	if cfg.AccessLog {
		app.Use(fiberlogger.New(fiberlogger.Config{
			Format:     "${time} ${locals:requestid} ${status} ${latency} ${method} ${url}\n",
			TimeFormat: time.RFC3339,
			Output:     os.Stdout,
		}))
	}

	if cfg.Metrics {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	}

	proxy := imageproxy.New(cfg.ProxyOptions(), logger)
	app.Get("/", handlers.RandomImage(handlers.Config{
		SourceList: cfg.SourceList,
		Title:      cfg.Title,
		LogURLs:    cfg.LogURLs,
	}, proxy, logger))

	return app
}
