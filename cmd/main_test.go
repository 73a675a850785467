package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andesco/random-image/pkg/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG", "PORT", "SOURCE_LIST", "PAGE_TITLE", "USER_AGENT", "HTTP_TIMEOUT", "MAX_REDIRECTS",
		"MAX_IMAGE_BYTES", "INSECURE_SKIP_VERIFY", "LOG_LEVEL", "LOG_FORMAT", "LOG_URLS",
		"ACCESS_LOG", "METRICS", "PREFORK",
	} {
		t.Setenv(key, "")
	}
}

func TestParseArgs_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := parseArgs([]string{"random-image"})
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestParseArgs_Flags(t *testing.T) {
	clearEnv(t)

	cfg, err := parseArgs([]string{
		"random-image",
		"-p", "9999",
		"--source-list", "/data/links.txt",
		"--title", "Gallery",
		"--timeout", "3s",
		"--max-redirects", "0",
		"--max-bytes", "1024",
		"--insecure-skip-verify",
		"--log-level", "debug",
		"--log-format", "text",
		"--log-urls",
		"--no-metrics",
	})
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, "/data/links.txt", cfg.SourceList)
	assert.Equal(t, "Gallery", cfg.Title)
	assert.Equal(t, 3*time.Second, time.Duration(cfg.Timeout))
	assert.Equal(t, 0, cfg.MaxRedirects)
	assert.Equal(t, int64(1024), cfg.MaxBytes)
	assert.True(t, cfg.InsecureSkipVerify)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.True(t, cfg.LogURLs)
	assert.False(t, cfg.Metrics)
}

func TestParseArgs_Precedence(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: \"1111\"\ntitle: From File\ntimeout: 4s\n"), 0o644))
	t.Setenv("CONFIG", path)
	t.Setenv("PORT", "2222")

	cfg, err := parseArgs([]string{"random-image", "--timeout", "6"})
	require.NoError(t, err)

	assert.Equal(t, "2222", cfg.Port)
	assert.Equal(t, "From File", cfg.Title)
	assert.Equal(t, 6*time.Second, time.Duration(cfg.Timeout))
}

func TestParseArgs_FlagReplacesBadEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_TIMEOUT", "abc")
	t.Setenv("MAX_REDIRECTS", "-3")

	cfg, err := parseArgs([]string{"random-image", "--timeout", "5s", "--max-redirects", "1"})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, time.Duration(cfg.Timeout))
	assert.Equal(t, 1, cfg.MaxRedirects)

	_, err = parseArgs([]string{"random-image", "--max-redirects", "1"})
	assert.ErrorContains(t, err, "HTTP_TIMEOUT")
}

func TestParseArgs_ConfigFromDotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("title: From Dotenv Config\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CONFIG="+path+"\n"), 0o644))

	// clearEnv restores CONFIG afterwards; unset it so .env can supply it
	require.NoError(t, os.Unsetenv("CONFIG"))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := parseArgs([]string{"random-image"})
	require.NoError(t, err)
	assert.Equal(t, "From Dotenv Config", cfg.Title)
}

func TestParseArgs_Errors(t *testing.T) {
	clearEnv(t)

	for _, args := range [][]string{
		{"random-image", "--timeout", "soon"},
		{"random-image", "--log-format", "xml"},
		{"random-image", "--unknown-flag"},
		{"random-image", "--config", filepath.Join(t.TempDir(), "missing.yaml")},
	} {
		_, err := parseArgs(args)
		assert.Error(t, err, strings.Join(args, " "))
	}
}

func TestNewLogger(t *testing.T) {
	cfg := config.Default()
	var buf bytes.Buffer

	logger, err := newLogger(cfg, &buf)
	require.NoError(t, err)
	logger.Info("hello", "key", "value")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "value", entry["key"])

	buf.Reset()
	cfg.LogFormat = config.FormatText
	cfg.LogLevel = "warn"
	logger, err = newLogger(cfg, &buf)
	require.NoError(t, err)
	logger.Info("dropped")
	logger.Warn("kept")
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "msg=kept")
}

func TestNewApp(t *testing.T) {
	clearEnv(t)
	cfg := config.Default()
	cfg.SourceList = filepath.Join(t.TempDir(), "image_links.txt")
	var logs bytes.Buffer
	logger, err := newLogger(cfg, &logs)
	require.NoError(t, err)

	app := newApp(cfg, logger)

	get := func(target string) (*http.Response, string) {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, target, nil), -1)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp, string(body)
	}

	resp, body := get("/")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Random Image")
	assert.NotEmpty(t, resp.Header.Get(fiber.HeaderXRequestID))

	resp, body = get("/?imageonly=1")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Image links file not found.", body)

	resp, body = get("/metrics")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "random_image_source_list_errors_total")

	resp, _ = get("/elsewhere")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	cfg.Metrics = false
	app = newApp(cfg, logger)
	resp, _ = get("/metrics")
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
