package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geonext/internal/mcptool"
	"github.com/sells-group/geonext/internal/model"
	"github.com/sells-group/geonext/internal/pipeline"
	"github.com/sells-group/geonext/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the geocoding HTTP API and MCP endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           newRouter(env.Pipeline),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

// geocodeRequest is the body of POST /v1/geocode.
type geocodeRequest struct {
	ID        string   `json:"id"`
	Text      string   `json:"text"`
	Language  string   `json:"language"`
	Countries []string `json:"countries"`
}

// newRouter builds the HTTP API over p.
func newRouter(p *pipeline.Pipeline) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Mcp-Session-Id", "Mcp-Protocol-Version"},
		ExposedHeaders: []string{"Mcp-Session-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		gazetteers := make(map[string]string)
		for _, c := range p.Resolver().Gazetteers() {
			state := "ok"
			if c.Unavailable() {
				state = "unavailable"
			}
			gazetteers[c.Name()] = state
		}
		respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "gazetteers": gazetteers})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/geocode", handleGeocode(p))
		r.Get("/documents/{id}", handleGetDocument(p.Store()))
	})

	r.Handle("/mcp", mcptool.HTTPHandler(mcptool.NewServer(p, version)))
	return r
}

func handleGeocode(p *pipeline.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req geocodeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			respondError(w, http.StatusBadRequest, "text is required")
			return
		}

		doc := model.NewDocument(req.ID, req.Text, req.Language)
		result, err := p.ProcessDocument(r.Context(), doc, hintsFromFlags(req.Countries, req.Language))
		switch {
		case errors.Is(err, pipeline.ErrBackendsUnavailable):
			respondJSON(w, http.StatusServiceUnavailable, result)
			return
		case err != nil:
			zap.L().Error("geocode request failed", zap.String("document", doc.ID), zap.Error(err))
			respondError(w, http.StatusInternalServerError, "geocoding failed")
			return
		}

		if st := p.Store(); st != nil {
			if err := st.SaveResult(r.Context(), *result); err != nil {
				zap.L().Warn("save result failed", zap.String("document", doc.ID), zap.Error(err))
			}
		}
		respondJSON(w, http.StatusOK, result)
	}
}

func handleGetDocument(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if st == nil {
			respondError(w, http.StatusNotFound, "no store configured")
			return
		}
		id := chi.URLParam(r, "id")
		result, err := st.GetResult(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "document not found")
			return
		}
		if err != nil {
			zap.L().Error("get document failed", zap.String("document", id), zap.Error(err))
			respondError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		respondJSON(w, http.StatusOK, result)
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
