package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/maltedev/kleinanzeigen-scraper/internal/config"
	"github.com/maltedev/kleinanzeigen-scraper/internal/export"
	"github.com/maltedev/kleinanzeigen-scraper/internal/models"
	"github.com/maltedev/kleinanzeigen-scraper/internal/pipeline"
)

var (
	scrapeFile    string
	scrapeDelay   time.Duration
	scrapeOut     string
	scrapeXLSX    bool
	scrapePreview int
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape [seller-url...]",
	Short: "Scrape sellers and write CSV, XLSX and image ZIP files",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		sellers := append([]string(nil), args...)
		if scrapeFile != "" {
			lines, err := readLines(scrapeFile)
			if err != nil {
				return err
			}
			sellers = append(sellers, lines...)
		}
		sellers = pipeline.NormalizeSellers(sellers)
		if len(sellers) == 0 {
			return eris.New("no seller URLs given; pass them as arguments or with --file")
		}

		delay := cfg.Scraper.Delay
		if cmd.Flags().Changed("delay") {
			delay = scrapeDelay
		}
		if delay < 0 || delay > config.MaxDelay {
			return eris.Errorf("--delay must be between 0 and %s", config.MaxDelay)
		}

		outDir := cfg.Output.Dir
		if scrapeOut != "" {
			outDir = scrapeOut
		}

		logger := zap.L()
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := a.runner(ctx, delay)
		if err != nil {
			return err
		}

		out := cmd.ErrOrStderr()
		result, runErr := p.Run(ctx, sellers, printProgress(out))
		if result == nil {
			return runErr
		}

		files, err := writeOutputs(outDir, result, scrapeXLSX || cfg.Output.XLSX)
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Fprintf(out, "Geschrieben: %s\n", f)
		}

		if len(result.Listings) > 0 {
			fmt.Fprintln(cmd.OutOrStdout(), export.Preview(result.Listings, scrapePreview))
		}

		if runErr == nil {
			pipeline.Deliver(ctx, "cli-"+result.StartedAt.Format("20060102-150405"), result, a.sinks, logger)
		}
		return runErr
	},
}

func init() {
	scrapeCmd.Flags().StringVarP(&scrapeFile, "file", "f", "", "file with one seller URL per line")
	scrapeCmd.Flags().DurationVar(&scrapeDelay, "delay", time.Second, "delay between requests (0s to 10s, default from config)")
	scrapeCmd.Flags().StringVarP(&scrapeOut, "out", "o", "", "output directory (default from config)")
	scrapeCmd.Flags().BoolVar(&scrapeXLSX, "xlsx", false, "also write an Excel file")
	scrapeCmd.Flags().IntVar(&scrapePreview, "preview", 20, "number of listings shown in the summary table (0 for all)")
	rootCmd.AddCommand(scrapeCmd)
}

func printProgress(w io.Writer) func(pipeline.Progress) {
	return func(p pipeline.Progress) {
		if p.Message == "" {
			return
		}
		prefix := ""
		switch p.Level {
		case pipeline.LevelWarn:
			prefix = "WARNUNG: "
		case pipeline.LevelError:
			prefix = "FEHLER: "
		}
		fmt.Fprintf(w, "[%3.0f%%] %s%s\n", p.Fraction()*100, prefix, p.Message)
	}
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	return lines, nil
}

// writeOutputs writes the CSV, the optional XLSX and, when there are images,
// the ZIP archive into dir and returns the written paths.
func writeOutputs(dir string, result *models.RunResult, withXLSX bool) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "create %s", dir)
	}

	var written []string
	write := func(name string, fn func(io.Writer) error) error {
		path := filepath.Join(dir, name)
		f, err := os.Create(path)
		if err != nil {
			return eris.Wrapf(err, "create %s", path)
		}
		if err := fn(f); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return eris.Wrapf(err, "close %s", path)
		}
		written = append(written, path)
		return nil
	}

	if err := write(export.CSVFileName, func(w io.Writer) error { return export.WriteCSV(w, result.Listings) }); err != nil {
		return written, err
	}
	if withXLSX {
		if err := write(export.XLSXFileName, func(w io.Writer) error { return export.WriteXLSX(w, result.Listings) }); err != nil {
			return written, err
		}
	}
	if result.ImageCount() > 0 {
		if err := write(export.ZIPFileName, func(w io.Writer) error { return export.WriteZIP(w, result.Images) }); err != nil {
			return written, err
		}
	}
	return written, nil
}
