package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/maltedev/kleinanzeigen-scraper/internal/database"
)

var storedCmd = &cobra.Command{
	Use:   "stored <run-id>",
	Short: "List the listing URLs stored in the database for a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Database.URL == "" {
			return eris.New("no database configured; set database.url")
		}

		ctx := cmd.Context()
		db, err := database.New(ctx, database.Config{URL: cfg.Database.URL, MaxConns: cfg.Database.MaxConns})
		if err != nil {
			return err
		}
		defer db.Close()

		return printStoredURLs(ctx, cmd.OutOrStdout(), database.NewListingStore(db.Pool(), zap.L()), args[0])
	},
}

func init() {
	rootCmd.AddCommand(storedCmd)
}

type runURLLister interface {
	RunURLs(ctx context.Context, runID string) ([]string, error)
}

func printStoredURLs(ctx context.Context, w io.Writer, store runURLLister, runID string) error {
	urls, err := store.RunURLs(ctx, runID)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		return eris.Errorf("no listings stored for run %s", runID)
	}
	for _, u := range urls {
		fmt.Fprintln(w, u)
	}
	return nil
}
