package cli

import (
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/maxzrff/KnowledgeMCP/internal/chunker"
	"github.com/maxzrff/KnowledgeMCP/internal/config"
	"github.com/maxzrff/KnowledgeMCP/internal/embed"
	"github.com/maxzrff/KnowledgeMCP/internal/extract"
	"github.com/maxzrff/KnowledgeMCP/internal/knowledge"
	"github.com/maxzrff/KnowledgeMCP/internal/mcp"
	"github.com/maxzrff/KnowledgeMCP/internal/ocr"
	"github.com/maxzrff/KnowledgeMCP/internal/vectorstore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the knowledge server",
	RunE:  runServe,
}

var serveTransport string

func init() {
	serveCmd.Flags().StringVar(&serveTransport, "transport", "", "transport override: http-streamable|stdio")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(globalFlags.ConfigPath)
	if err != nil {
		return err
	}
	if serveTransport != "" {
		cfg.MCP.Transport = serveTransport
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	// On stdio the protocol owns stdout, so logs always go to stderr.
	var logWriter io.Writer = os.Stderr
	if globalFlags.Quiet {
		logWriter = io.Discard
	}
	logger := log.New(logWriter, "", log.LstdFlags)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ocrService := ocr.New(
		ocr.WithLanguage(cfg.OCR.Language),
		ocr.WithWorkers(cfg.Processing.MaxConcurrentTasks),
		ocr.WithLogger(logger),
	)

	extractor := extract.NewRegistry(ocrService)

	embedder, err := embed.NewClient(cfg.Embedding.BaseURL, cfg.Embedding.ModelName, cfg.Embedding.BatchSize, cfg.Embedding.Dimension)
	if err != nil {
		return fmt.Errorf("embedding client: %w", err)
	}

	store, err := vectorstore.New(cfg.Storage.VectorDBURL, cfg.Embedding.Dimension, logger)
	if err != nil {
		return fmt.Errorf("vector store: %w", err)
	}
	defer store.Close()

	svc := knowledge.NewService(cfg, extractor, embedder, store, chunker.Split, logger)
	if err := svc.Recover(ctx); err != nil {
		// A cold vector store is not fatal; the server starts empty.
		logger.Printf("serve: registry recovery failed: %v", err)
	}
	defer svc.Wait()

	srv := mcp.NewServer(cfg, svc, logger)

	switch cfg.MCP.Transport {
	case "stdio":
		logger.Printf("serve: speaking MCP on stdio")
		return srv.ServeStdio(ctx, os.Stdin, os.Stdout)
	case "websocket":
		return fmt.Errorf("transport %q is not implemented", cfg.MCP.Transport)
	}

	addr := fmt.Sprintf("%s:%d", cfg.MCP.Host, cfg.MCP.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}
	logger.Printf("serve: MCP endpoint on http://%s/mcp", listener.Addr())
	return srv.Serve(ctx, listener)
}
