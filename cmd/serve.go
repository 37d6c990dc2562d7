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
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/annotate-cli/internal/extract"
	"github.com/sells-group/annotate-cli/internal/model"
	"github.com/sells-group/annotate-cli/internal/resilience"
	"github.com/sells-group/annotate-cli/internal/store"
	"github.com/sells-group/annotate-cli/internal/synth"
	"github.com/sells-group/annotate-cli/internal/taxonomy"
)

var servePort int

// maxRequestBytes caps request bodies.
const maxRequestBytes = 8 << 20

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the annotation HTTP server",
	Long:  "Serves POST /extract, a Label Studio ML backend compatible POST /predict, GET /taxonomies, GET /runs/{id} and GET /health.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initEnv(ctx, "serve", true)
		if err != nil {
			return err
		}
		defer env.Close()

		s := newServer(env, platformOptions(cfg), cfg.Batch.MaxConcurrentDocuments)
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           s.routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
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

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// server holds the handlers' dependencies. runner and store are nil when
// runs are not tracked.
type server struct {
	extractor    *extract.Extractor
	runner       *extract.Runner
	store        store.Store
	catalog      *taxonomy.Catalog
	breaker      *resilience.CircuitBreaker
	providerName string
	platform     synth.PlatformOptions
	concurrency  int
}

func newServer(env *annotateEnv, platform synth.PlatformOptions, concurrency int) *server {
	s := &server{
		extractor:   env.Extractor,
		store:       env.Store,
		catalog:     env.Catalog,
		breaker:     env.Breaker,
		platform:    platform,
		concurrency: max(concurrency, 1),
	}
	if env.Provider != nil {
		s.providerName = env.Provider.Name()
	}
	if env.Store != nil {
		s.runner = env.Runner()
	}
	return s
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/taxonomies", s.handleTaxonomies)
	r.Post("/extract", s.handleExtract)
	r.Post("/predict", s.handlePredict)
	r.Get("/runs/{id}", s.handleGetRun)
	return r
}

// requestLogger logs each request through the global zap logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok", "provider": s.providerName}
	if s.breaker != nil {
		snap := s.breaker.Snapshot()
		body["circuit"] = snap.State.String()
		body["consecutive_failures"] = snap.ConsecutiveFailures
		if !snap.RetryAt.IsZero() {
			body["retry_at"] = snap.RetryAt.UTC()
		}
	}
	writeJSON(w, http.StatusOK, body)
}

type taxonomyInfo struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Categories  []string          `json:"categories"`
	Entities    []taxonomy.Entity `json:"entities"`
}

func (s *server) handleTaxonomies(w http.ResponseWriter, _ *http.Request) {
	out := make([]taxonomyInfo, 0)
	for _, name := range s.catalog.Names() {
		t, err := s.catalog.Get(name)
		if err != nil {
			continue
		}
		out = append(out, taxonomyInfo{
			Name:        t.Name(),
			Description: t.Description(),
			Categories:  t.Categories(),
			Entities:    t.Entities(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type extractRequest struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	Taxonomy   string `json:"taxonomy"`
	BudgetSecs int    `json:"budget_secs"`
}

type extractResponse struct {
	RunID       string             `json:"run_id,omitempty"`
	DocumentID  string             `json:"document_id"`
	Taxonomy    string             `json:"taxonomy"`
	State       model.State        `json:"state"`
	Partial     bool               `json:"partial"`
	Prediction  synth.Prediction   `json:"prediction"`
	Diagnostics *model.Diagnostics `json:"diagnostics,omitempty"`
	Error       string             `json:"error,omitempty"`
}

func (s *server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	doc := model.Document{
		ID:       req.ID,
		Text:     req.Text,
		Taxonomy: req.Taxonomy,
		Budget:   time.Duration(req.BudgetSecs) * time.Second,
		Source:   "http",
	}
	if doc.ID == "" {
		doc.ID = middleware.GetReqID(r.Context())
	}

	runID, ext, err := s.extract(r.Context(), doc)
	if ext == nil {
		writeError(w, statusFor(err), errString(err))
		return
	}
	writeJSON(w, http.StatusOK, extractResponse{
		RunID:       runID,
		DocumentID:  ext.DocumentID,
		Taxonomy:    ext.Taxonomy,
		State:       ext.State,
		Partial:     ext.Partial,
		Prediction:  synth.Render(ext.Result, s.platform),
		Diagnostics: ext.Diagnostics,
		Error:       errString(err),
	})
}

// extract runs doc through the Runner when runs are tracked, and straight
// through the Extractor otherwise.
func (s *server) extract(ctx context.Context, doc model.Document) (string, *model.Extraction, error) {
	if s.runner == nil {
		ext, err := s.extractor.Extract(ctx, doc)
		return "", ext, err
	}
	run, err := s.runner.Run(ctx, doc)
	if run == nil {
		return "", nil, err
	}
	return run.ID, run.Result, err
}

// predictRequest is the Label Studio ML backend /predict payload.
type predictRequest struct {
	Tasks []struct {
		ID   json.Number    `json:"id"`
		Data map[string]any `json:"data"`
	} `json:"tasks"`
	Params struct {
		Taxonomy string `json:"taxonomy"`
	} `json:"params"`
}

type predictResponse struct {
	Results []synth.Prediction `json:"results"`
}

// handlePredict answers a Label Studio ML backend prediction request. Tasks
// run concurrently; a failed task gets an empty prediction so results stay
// aligned with tasks.
func (s *server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	textKey := s.platform.ToName
	if textKey == "" {
		textKey = "text"
	}

	results := make([]synth.Prediction, len(req.Tasks))
	g, gctx := errgroup.WithContext(r.Context())
	g.SetLimit(s.concurrency)
	for i, task := range req.Tasks {
		doc := model.Document{
			ID:       "task-" + task.ID.String(),
			Text:     stringField(task.Data, textKey),
			Taxonomy: req.Params.Taxonomy,
			Source:   "label-studio",
		}
		g.Go(func() error {
			results[i] = synth.Render(nil, s.platform)
			if strings.TrimSpace(doc.Text) == "" {
				return nil
			}
			_, ext, err := s.extract(gctx, doc)
			if err != nil {
				zap.L().Warn("predict task failed", zap.String("document", doc.ID), zap.Error(err))
			}
			if ext != nil {
				results[i] = synth.Render(ext.Result, s.platform)
			}
			return nil
		})
	}
	_ = g.Wait()
	writeJSON(w, http.StatusOK, predictResponse{Results: results})
}

// stringField returns data[key] when it is a string.
func stringField(data map[string]any, key string) string {
	v, _ := data[key].(string)
	return v
}

func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "run tracking is disabled")
		return
	}
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), errString(err))
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// statusFor maps extraction and store errors to HTTP status codes.
func statusFor(err error) int {
	var loadErr *taxonomy.LoadError
	switch {
	case errors.As(err, &loadErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
