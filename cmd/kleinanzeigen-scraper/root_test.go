package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/kleinanzeigen-scraper/internal/config"
	"github.com/maltedev/kleinanzeigen-scraper/internal/export"
	"github.com/maltedev/kleinanzeigen-scraper/internal/models"
	"github.com/maltedev/kleinanzeigen-scraper/internal/pipeline"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"scrape", "serve", "stored"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_PersistentFlags(t *testing.T) {
	require.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
	require.NotNil(t, rootCmd.PersistentFlags().Lookup("log-level"))
}

func TestScrapeCommand_Flags(t *testing.T) {
	for _, name := range []string{"file", "delay", "out", "xlsx", "preview"} {
		require.NotNil(t, scrapeCmd.Flags().Lookup(name), "scrape should have --%s", name)
	}
	assert.Equal(t, "1s", scrapeCmd.Flags().Lookup("delay").DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)
}

func TestReadLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sellers.txt")
	content := "https://www.kleinanzeigen.de/s-bestandsliste.html?userId=1\n\n# Kommentar\nhttps://www.kleinanzeigen.de/s-bestandsliste.html?userId=2\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	lines, err := readLines(path)
	require.NoError(t, err)
	assert.Len(t, lines, 4)
	assert.Len(t, pipeline.NormalizeSellers(lines), 2)

	_, err = readLines(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestWriteOutputs(t *testing.T) {
	result := models.NewRunResult()
	result.AddListing(models.Listing{URL: "https://www.kleinanzeigen.de/s-anzeige/a/1-223-1", Title: "Felgen"},
		models.ListingImages{Folder: "1", Images: []models.Image{{Name: "1_1.jpg", Data: []byte("x")}}})

	dir := filepath.Join(t.TempDir(), "out")
	files, err := writeOutputs(dir, result, true)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, export.CSVFileName),
		filepath.Join(dir, export.XLSXFileName),
		filepath.Join(dir, export.ZIPFileName),
	}, files)

	f, err := os.Open(files[0])
	require.NoError(t, err)
	defer f.Close()
	listings, err := export.ReadCSV(f)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, "Felgen", listings[0].Title)
}

func TestWriteOutputsWithoutImages(t *testing.T) {
	result := models.NewRunResult()
	result.AddListing(models.Listing{URL: "https://www.kleinanzeigen.de/s-anzeige/a/1-223-1"}, models.ListingImages{})

	files, err := writeOutputs(t.TempDir(), result, false)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, export.CSVFileName, filepath.Base(files[0]))
}

func TestPrintProgress(t *testing.T) {
	var buf bytes.Buffer
	progress := printProgress(&buf)

	progress(pipeline.Progress{SellerIndex: 0, SellerTotal: 2, Level: pipeline.LevelInfo, Message: "Sammle Anzeigen"})
	progress(pipeline.Progress{SellerIndex: 1, SellerTotal: 2, Level: pipeline.LevelWarn, Message: "Bild fehlgeschlagen"})
	progress(pipeline.Progress{SellerTotal: 2})

	assert.Equal(t, "[  0%] Sammle Anzeigen\n[ 50%] WARNUNG: Bild fehlgeschlagen\n", buf.String())
}

func TestOptionMapping(t *testing.T) {
	cfg := &config.Config{
		Scraper: config.ScraperConfig{
			BaseURL:            "https://example.test/",
			Timeout:            5 * time.Second,
			MaxPages:           3,
			UserAgent:          "ua",
			Cookie:             "a=b",
			InventoryFallback:  true,
			InventoryThreshold: 10,
			CloudflareBypass:   true,
		},
		Browser: config.BrowserConfig{Headless: false, Locale: "de-AT"},
	}

	h := httpOptions(cfg)
	assert.Equal(t, "https://example.test/", h.BaseURL)
	assert.Equal(t, "a=b", h.Cookie)
	assert.True(t, h.CloudflareBypass)

	c := collectorOptions(cfg)
	assert.Equal(t, 3, c.MaxPages)
	assert.Equal(t, 10, c.InventoryThreshold)
	assert.Equal(t, "https://example.test/", c.Referer)
	assert.Equal(t, "https://example.test/s-bestandsliste.html?userId=%s", c.InventoryURL)

	b := browserOptions(cfg)
	assert.False(t, b.Headless)
	assert.Equal(t, "de-AT", b.Locale)
	assert.Equal(t, "Europe/Berlin", b.TimezoneID)
	assert.Equal(t, "ua", b.UserAgent)
}

type fakeRunURLs map[string][]string

func (f fakeRunURLs) RunURLs(_ context.Context, runID string) ([]string, error) {
	if runID == "broken" {
		return nil, errors.New("connection refused")
	}
	return f[runID], nil
}

func TestPrintStoredURLs(t *testing.T) {
	store := fakeRunURLs{"run-1": {
		"https://www.kleinanzeigen.de/s-anzeige/a/1-223-1",
		"https://www.kleinanzeigen.de/s-anzeige/b/2-223-1",
	}}

	var buf bytes.Buffer
	require.NoError(t, printStoredURLs(context.Background(), &buf, store, "run-1"))
	assert.Equal(t, "https://www.kleinanzeigen.de/s-anzeige/a/1-223-1\nhttps://www.kleinanzeigen.de/s-anzeige/b/2-223-1\n", buf.String())

	assert.Error(t, printStoredURLs(context.Background(), &buf, store, "run-2"))
	assert.Error(t, printStoredURLs(context.Background(), &buf, store, "broken"))
}

func TestStoredCommand_Args(t *testing.T) {
	assert.Error(t, storedCmd.Args(storedCmd, nil))
	assert.NoError(t, storedCmd.Args(storedCmd, []string{"run-1"}))
}
