package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lmeira/docsqueeze/internal/model"
)

var servePort int

// documentProcessor is the slice of the processor the webhook needs.
type documentProcessor interface {
	ProcessDocument(ctx context.Context, docID int, dryRun bool) (*model.ProcessingResult, error)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server for archive post-consume hooks",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		proc, runs, err := initProcessor(ctx, true)
		if err != nil {
			return err
		}
		if runs != nil {
			defer runs.Close() //nolint:errcheck
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(ctx, proc),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(context.Background()) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newRouter builds the webhook routes. baseCtx outlives individual requests
// so asynchronous processing survives the webhook response.
func newRouter(baseCtx context.Context, proc documentProcessor) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"}) //nolint:errcheck
	})

	r.Post("/webhook/document", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			DocumentID int  `json:"document_id"`
			DryRun     bool `json:"dry_run"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if body.DocumentID <= 0 {
			http.Error(w, `{"error":"document_id is required"}`, http.StatusBadRequest)
			return
		}

		// Respond before the models run; the archive webhook has a short
		// timeout.
		go func() {
			result, err := proc.ProcessDocument(baseCtx, body.DocumentID, body.DryRun)
			if err != nil {
				zap.L().Error("webhook processing failed",
					zap.Int("doc_id", body.DocumentID),
					zap.Error(err),
				)
				return
			}
			zap.L().Info("webhook processing complete",
				zap.Int("doc_id", body.DocumentID),
				zap.Bool("success", result.Success),
				zap.Bool("review_required", result.ReviewRequired),
			)
		}()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"status":      "accepted",
			"document_id": body.DocumentID,
		})
	})

	return r
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
