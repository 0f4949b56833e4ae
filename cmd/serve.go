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

	"github.com/leadfoundry/leadgen-cli/internal/pipeline"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start an HTTP server that triggers scrape runs",
	RunE: func(cmd *cobra.Command, args []string) error {
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
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST"},
			AllowedHeaders: []string{"Content-Type"},
		}))

		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		})

		r.Post("/scrape", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Query              string `json:"query"`
				City               string `json:"city"`
				Segment            string `json:"segment"`
				Limit              int    `json:"limit"`
				SkipClassification bool   `json:"skip_classification"`
				DeepEnrich         bool   `json:"deep_enrich"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
				return
			}
			if body.Query == "" {
				http.Error(w, `{"error":"query is required"}`, http.StatusBadRequest)
				return
			}

			// Runs detach from the request; outcomes land in the audit log.
			// Each run gets its own pipeline so concurrent triggers never
			// share a feed session.
			go func() {
				result, err := env.NewPipeline().Run(ctx, pipeline.Job{
					Query:              body.Query,
					City:               body.City,
					Segment:            body.Segment,
					Limit:              body.Limit,
					Source:             "api",
					SkipClassification: body.SkipClassification,
					DeepEnrich:         body.DeepEnrich,
				})
				if err != nil {
					zap.L().Error("triggered run failed",
						zap.String("query", body.Query),
						zap.Error(err),
					)
					return
				}
				zap.L().Info("triggered run complete",
					zap.String("query", body.Query),
					zap.Int("scraped", result.Summary.Scraped),
					zap.Int("new_companies", result.Summary.NewCompanies),
				)
			}()

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status": "accepted",
				"query":  body.Query,
			})
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

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
