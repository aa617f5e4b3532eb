package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/storefind/storefind/internal/catalog"
	serrors "github.com/storefind/storefind/internal/errors"
	"github.com/storefind/storefind/internal/lifecycle"
	"github.com/storefind/storefind/internal/search"
)

// maxLineBytes bounds one stdio request line.
const maxLineBytes = 4 << 20

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the search service over stdio (one JSON request per line)",
		Long: `Serve reads JSON requests from stdin, one per line, and writes one
JSON response per line to stdout. Background jobs (analytics flushing,
baseline learning, retention, strategy hot reload) run for the lifetime
of the process.

Request shapes:
  {"op":"search","search":{"query":"dark boots","store_id":"s1"}}
  {"op":"upsert","product":{"external_id":"p1","title":"...","price":9.5}}
  {"op":"delete","store_id":"s1","external_id":"p1"}
  {"op":"popular","store_id":"s1","limit":10}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, logger, cleanup, err := loadConfig()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := lifecycle.New(ctx, cfg, logger, lifecycle.Options{StartJobs: true})
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	logger.Info("serving_stdio")
	return serveLoop(ctx, app, os.Stdin, os.Stdout, logger)
}

type wireRequest struct {
	Op         string           `json:"op"`
	Search     *search.Request  `json:"search,omitempty"`
	Product    *catalog.Product `json:"product,omitempty"`
	StoreID    string           `json:"store_id,omitempty"`
	ExternalID string           `json:"external_id,omitempty"`
	Limit      int              `json:"limit,omitempty"`
}

type wireError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type wireResponse struct {
	OK     bool       `json:"ok"`
	Error  *wireError `json:"error,omitempty"`
	Result any        `json:"result,omitempty"`
}

// serveLoop processes requests until stdin closes or the context ends.
// Lines are read on a separate goroutine so a shutdown signal is not
// stuck behind a blocking read.
func serveLoop(ctx context.Context, app *lifecycle.App, in io.Reader, out io.Writer, logger *slog.Logger) error {
	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
		for scanner.Scan() {
			line := make([]byte, len(scanner.Bytes()))
			copy(line, scanner.Bytes())
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	enc := json.NewEncoder(out)
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown_requested")
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if len(line) == 0 {
				continue
			}
			resp := handleRequest(ctx, app, line)
			if err := enc.Encode(resp); err != nil {
				return err
			}
		}
	}
}

func handleRequest(ctx context.Context, app *lifecycle.App, line []byte) wireResponse {
	var req wireRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return errResponse(serrors.InvalidInput("malformed request: " + err.Error()))
	}

	switch req.Op {
	case "search":
		if req.Search == nil {
			return errResponse(serrors.InvalidInput(`"search" payload required`))
		}
		resp, err := app.Service.Search(ctx, *req.Search)
		if err != nil {
			return errResponse(err)
		}
		return wireResponse{OK: true, Result: resp}

	case "upsert":
		if req.Product == nil {
			return errResponse(serrors.InvalidInput(`"product" payload required`))
		}
		id, err := app.Ingestor.UpsertProduct(ctx, req.Product)
		if err != nil {
			return errResponse(err)
		}
		return wireResponse{OK: true, Result: map[string]int64{"internal_id": id}}

	case "delete":
		if req.ExternalID == "" {
			return errResponse(serrors.InvalidInput(`"external_id" required`))
		}
		if err := app.Ingestor.DeleteProduct(ctx, req.StoreID, req.ExternalID); err != nil {
			return errResponse(err)
		}
		return wireResponse{OK: true}

	case "popular":
		queries, err := app.Popular.Top(ctx, req.StoreID, req.Limit)
		if err != nil {
			return errResponse(err)
		}
		return wireResponse{OK: true, Result: queries}

	default:
		return errResponse(serrors.InvalidInput("unknown op " + req.Op))
	}
}

func errResponse(err error) wireResponse {
	return wireResponse{OK: false, Error: &wireError{
		Code:    serrors.CodeOf(err),
		Message: err.Error(),
	}}
}
