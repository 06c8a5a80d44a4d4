package main

import (
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

	"github.com/sells-group/catalog-dedup/internal/model"
	"github.com/sells-group/catalog-dedup/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dedup trigger and review HTTP server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))

		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Post("/api/dedup/trigger", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				SourceTable string `json:"source_table"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			if body.SourceTable == "" {
				writeError(w, http.StatusBadRequest, "source_table is required")
				return
			}

			result, err := env.Pipeline.Run(req.Context(), body.SourceTable)
			if err != nil {
				zap.L().Error("triggered run failed",
					zap.String("source_table", body.SourceTable),
					zap.Error(err),
				)
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}

			writeJSON(w, http.StatusOK, map[string]any{
				"processed_count": result.ProcessedCount,
				"group_count":     result.GroupCount,
				"review_count":    result.ReviewCount,
				"output_table":    result.OutputTable,
			})
		})

		r.Get("/api/dedup/runs/{id}", func(w http.ResponseWriter, req *http.Request) {
			run, err := env.Store.GetRun(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeError(w, http.StatusNotFound, "run not found")
				return
			}
			writeJSON(w, http.StatusOK, run)
		})

		r.Get("/api/review/list", func(w http.ResponseWriter, req *http.Request) {
			runID := req.URL.Query().Get("run_id")
			if runID == "" {
				latest, lookupErr := latestRunID(req, env.Store)
				if lookupErr != nil {
					writeError(w, http.StatusNotFound, "no runs available")
					return
				}
				runID = latest
			}
			groups, err := env.Store.ListReviewGroups(req.Context(), runID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"run_id": runID,
				"groups": groups,
			})
		})

		r.Post("/api/review/decision", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				RunID    string `json:"run_id"`
				GroupID  int64  `json:"group_id"`
				Decision string `json:"decision"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}

			if err := applyDecision(req.Context(), env.Store, body.RunID, body.GroupID,
				model.ReviewDecision(body.Decision)); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func latestRunID(req *http.Request, st store.Store) (string, error) {
	runs, err := st.ListRuns(req.Context(), store.RunFilter{Limit: 1})
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", eris.New("no runs available")
	}
	return runs[0].ID, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
