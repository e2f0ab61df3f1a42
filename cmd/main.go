package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"pdf-qa/internal/chromemdb"
	"pdf-qa/internal/config"
	"pdf-qa/internal/helper"
	"pdf-qa/internal/server"
)

var (
	configFilePath string
	cfg            *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "pdf-qa",
	Short:         "Ask questions about an uploaded PDF",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		loaded, err := config.LoadConfig(configFilePath)
		if err != nil {
			return err
		}
		cfg = loaded
		helper.SetupLogger(cfg.Log.Level, cfg.Log.Pretty)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		svc, err := newService(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := svc.Close(); err != nil {
				log.Error().Err(err).Msg("close resources failed")
			}
		}()

		srv := &http.Server{
			Addr:              cfg.HTTPAddr(),
			Handler:           server.NewRouter(svc, cfg),
			ReadHeaderTimeout: 5 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info().Str("addr", srv.Addr).Msg("server starting")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Info().Msg("shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Index a document, replacing the current index",
	RunE: func(cmd *cobra.Command, args []string) error {
		filePath, _ := cmd.Flags().GetString("file")
		data, err := os.ReadFile(filePath)
		if err != nil {
			return err
		}

		svc, err := newService(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		res, err := svc.Ingest(cmd.Context(), filepath.Base(filePath), data)
		if err != nil {
			return err
		}
		helper.PrettyPrint(res)
		return nil
	},
}

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Answer a question from the current index",
	RunE: func(cmd *cobra.Command, args []string) error {
		query, _ := cmd.Flags().GetString("query")

		svc, err := newService(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		res, err := svc.Ask(cmd.Context(), query)
		if err != nil {
			return err
		}
		helper.PrettyPrint(res)
		return nil
	},
}

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Print the first chunks of the current index",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("n")

		svc, err := newService(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		chunks, err := svc.Preview(cmd.Context(), n)
		if err != nil {
			return err
		}
		helper.PrettyPrint(chunks)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a snapshot of the current chromem index to a file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Index.Backend != "chromem" {
			return fmt.Errorf("export is only available for the chromem backend, not %q", cfg.Index.Backend)
		}
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = filepath.Join(cfg.Index.Dir, cfg.Index.Name+".chromem")
		}

		store, err := chromemdb.NewStore(cfg.Index.Dir, cfg.Index.Compress, cfg.Index.EncryptionKey)
		if err != nil {
			return err
		}
		if err := store.Export(cmd.Context(), cfg.Index.Name, out); err != nil {
			return err
		}
		log.Info().Str("file", out).Msg("index exported")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFilePath, "config", "c", config.DefaultConfigPath, "config file")

	ingestCmd.Flags().StringP("file", "f", "", "path to the document")
	_ = ingestCmd.MarkFlagRequired("file")
	askCmd.Flags().StringP("query", "q", "", "question to answer")
	_ = askCmd.MarkFlagRequired("query")
	previewCmd.Flags().IntP("n", "n", 0, "number of chunks (default rag.preview_chunks)")
	exportCmd.Flags().StringP("out", "o", "", "snapshot file (default <index.dir>/<index.name>.chromem)")

	rootCmd.AddCommand(serveCmd, ingestCmd, askCmd, previewCmd, exportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
