package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/sells-group/breakdown-cli/internal/model"
	"github.com/sells-group/breakdown-cli/internal/monitoring"
	"github.com/sells-group/breakdown-cli/internal/pipeline"
	"github.com/sells-group/breakdown-cli/internal/platform"
	"github.com/sells-group/breakdown-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for triggering and inspecting runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if cfg.Monitoring.WebhookURL != "" {
			checker := monitoring.NewChecker(monitoring.NewCollector(st), monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			go checker.Run(ctx)
		}

		api := newRunAPI(ctx, st, newOrchestrator(st, nil, ""), cfg.Pipeline.OutputRoot, cfg.Server.MaxConcurrentRuns)
		defer api.Wait()

		return startServer(ctx, api.Router(), resolvePort(servePort, cfg.Server.Port))
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// runLauncher executes one pipeline run.
type runLauncher interface {
	Run(ctx context.Context, req pipeline.Request) (*model.RunMeta, error)
}

// runAPI serves run triggers and run history. At most limit runs execute at
// once; further triggers are rejected rather than queued.
type runAPI struct {
	ctx        context.Context
	store      store.Store
	launcher   runLauncher
	outputRoot string
	sem        *semaphore.Weighted
	wg         sync.WaitGroup
	now        func() time.Time
}

func newRunAPI(ctx context.Context, st store.Store, launcher runLauncher, outputRoot string, limit int) *runAPI {
	if limit < 1 {
		limit = 1
	}
	return &runAPI{
		ctx:        ctx,
		store:      st,
		launcher:   launcher,
		outputRoot: outputRoot,
		sem:        semaphore.NewWeighted(int64(limit)),
		now:        time.Now,
	}
}

// Wait blocks until every background run has finished.
func (a *runAPI) Wait() {
	a.wg.Wait()
}

// Router builds the HTTP routes.
func (a *runAPI) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/runs", func(r chi.Router) {
		r.Post("/", a.createRun)
		r.Get("/", a.listRuns)
		r.Get("/{id}", a.getRun)
	})
	return r
}

type createRunRequest struct {
	URL           string `json:"url"`
	SaveArtifacts string `json:"save_artifacts"`
	SessionFile   string `json:"session_file"`
	CookiesFile   string `json:"cookies_file"`
}

func (a *runAPI) createRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	mode := model.RetentionMode(req.SaveArtifacts)
	if mode == "" {
		mode = model.RetainAlways
	}
	if !mode.Valid() {
		writeError(w, http.StatusBadRequest, "save_artifacts must be always, never or ask")
		return
	}

	if !a.sem.TryAcquire(1) {
		writeError(w, http.StatusTooManyRequests, "too many runs in progress")
		return
	}

	ref := platform.Resolve(req.URL)
	outputDir, _ := filepath.Abs(filepath.Join(a.outputRoot, platform.Slug(req.URL, a.now())))
	run, err := a.store.CreateRun(r.Context(), store.NewRun{URL: req.URL, Platform: ref.Platform, OutputDir: outputDir})
	if err != nil {
		a.sem.Release(1)
		zap.L().Error("serve: record run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not record run")
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.sem.Release(1)
		meta, err := a.launcher.Run(a.ctx, pipeline.Request{
			RunID:          run.ID,
			URL:            req.URL,
			OutputDir:      outputDir,
			SaveArtifacts:  mode,
			NonInteractive: true,
			SessionFile:    req.SessionFile,
			CookiesFile:    req.CookiesFile,
		})
		if err != nil {
			zap.L().Error("serve: run failed", zap.String("run_id", run.ID), zap.Error(err))
			if ferr := a.store.FinishRun(context.WithoutCancel(a.ctx), run.ID, model.RunStatusFailed, model.ErrPipelineFailed); ferr != nil {
				zap.L().Warn("serve: update run status", zap.Error(ferr))
			}
			return
		}
		zap.L().Info("serve: run finished", zap.String("run_id", run.ID), zap.Bool("ok", meta.OK))
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":         run.ID,
		"status":     "accepted",
		"output_dir": outputDir,
	})
}

func (a *runAPI) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{
		Status: model.RunStatus(q.Get("status")),
		URL:    q.Get("url"),
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}

	runs, err := a.store.ListRuns(r.Context(), filter)
	if err != nil {
		zap.L().Error("serve: list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list runs")
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (a *runAPI) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := a.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		zap.L().Error("serve: get run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func resolvePort(flag, configured int) int {
	if flag != 0 {
		return flag
	}
	return configured
}

// startServer serves handler until ctx is cancelled, then shuts down.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return eris.Wrap(err, "server listen")
		}
		return nil
	case <-ctx.Done():
	}

	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server shutdown")
	}
	return nil
}
