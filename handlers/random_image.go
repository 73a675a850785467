package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/andesco/random-image/pkg/imageproxy"
	"github.com/andesco/random-image/pkg/metrics"
	"github.com/andesco/random-image/pkg/sourcelist"
)

// Fetcher returns an image for one of the candidate URLs. It never fails;
// upstream errors are answered with a placeholder image.
type Fetcher interface {
	Fetch(ctx context.Context, candidates []string) imageproxy.Image
}

// Config holds the settings used by the RandomImage handler.
type Config struct {
	// SourceList is the path of the file with one candidate URL per line.
	SourceList string
	// Title is shown on the HTML shell.
	Title string
	// LogURLs logs the URL chosen for every image request.
	LogURLs bool
}

// RandomImage serves a random image from cfg.SourceList when the request
// carries imageonly=1, and the HTML shell otherwise.
func RandomImage(cfg Config, fetcher Fetcher, logger *slog.Logger) fiber.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := RenderShell(cfg.Title, time.Now()); err != nil {
		panic(fmt.Sprintf("Failed to initialize HTML shell: %v", err))
	}

	return func(c *fiber.Ctx) error {
		log := logger
		if id, ok := c.Locals("requestid").(string); ok && id != "" {
			log = logger.With("request_id", id)
		}

		if c.Query("imageonly") != "1" {
			page, err := RenderShell(cfg.Title, time.Now())
			if err != nil {
				log.Error("failed to render HTML shell", "error", err)
				return sendText(c, fiber.StatusInternalServerError, "Could not render page.")
			}
			c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
			return c.Send(page)
		}

		candidates, err := sourcelist.Load(cfg.SourceList)
		switch {
		case errors.Is(err, sourcelist.ErrNotFound):
			log.Warn("image links file not found", "path", cfg.SourceList)
			metrics.RecordSourceListError("not_found")
			return sendText(c, fiber.StatusNotFound, "Image links file not found.")
		case errors.Is(err, sourcelist.ErrNoValidEntries):
			log.Warn("no valid image URLs in links file", "path", cfg.SourceList)
			metrics.RecordSourceListError("no_valid_entries")
			return sendText(c, fiber.StatusNotFound, "No valid image URLs found in the file.")
		case err != nil:
			log.Error("failed to load image links file", "path", cfg.SourceList, "error", err)
			metrics.RecordSourceListError("unreadable")
			return sendText(c, fiber.StatusInternalServerError, "Could not read image links file.")
		}

		img := fetcher.Fetch(c.UserContext(), candidates)
		if cfg.LogURLs {
			log.Info("serving image",
				"url", img.Source,
				"media_type", img.MediaType,
				"placeholder", img.Placeholder,
			)
		}

		c.Set(fiber.HeaderContentType, img.MediaType)
		c.Set(fiber.HeaderCacheControl, "no-store")
		return c.Status(fiber.StatusOK).Send(img.Data)
	}
}

func sendText(c *fiber.Ctx, status int, msg string) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Status(status).SendString(msg)
}
