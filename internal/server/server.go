// Package server exposes Gaussian process hyperparameter fitting over
// HTTP. Fit jobs run asynchronously; clients poll for status and fitted
// hyperparameters, and completed runs are archived.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/TAIGA/internal/config"
	"github.com/copyleftdev/TAIGA/internal/fit"
	"github.com/copyleftdev/TAIGA/internal/gp"
	"github.com/copyleftdev/TAIGA/internal/gp/kernels"
	"github.com/copyleftdev/TAIGA/internal/logging"
	"github.com/copyleftdev/TAIGA/internal/minimize"
	"github.com/copyleftdev/TAIGA/internal/store"
)

// FitRequest is the payload for starting a fit job.
type FitRequest struct {
	// Inputs holds the training points, one row per observation.
	Inputs [][]float64 `json:"inputs"`
	// Targets holds one observed value per input row.
	Targets []float64 `json:"targets"`
	// Kernel selects the covariance family ("rbf" or "matern52").
	Kernel string `json:"kernel,omitempty"`
	// Method selects the fitting loop ("L-BFGS-B", "BFGS", "CG" or
	// "adam").
	Method string `json:"method,omitempty"`
	// NoiseVariance seeds the observation noise. Defaults to 0.1.
	NoiseVariance float64 `json:"noise_variance,omitempty"`
	// Bounds constrains named raw parameters to [lower, upper].
	Bounds map[string][2]float64 `json:"bounds,omitempty"`
	// MaxIterations caps the fitting loop.
	MaxIterations int `json:"max_iterations,omitempty"`
	// LearningRate applies to the gradient loop only.
	LearningRate float64 `json:"learning_rate,omitempty"`
	// TrackIterations overrides the server default when set.
	TrackIterations *bool `json:"track_iterations,omitempty"`
}

// FitState tracks one fit job. Access is guarded by the server's mutex.
type FitState struct {
	ID              string
	Status          string // "pending", "running", "completed", "failed"
	Method          string
	Kernel          string
	StartTime       time.Time
	EndTime         *time.Time
	FinalLoss       *float64
	Hyperparameters map[string]float64
	Iterations      []fit.OptimizationIteration
	Error           string
	LastUpdated     time.Time
}

// Server manages fit jobs and serves their state over HTTP.
type Server struct {
	cfg    *config.Config
	logger *logging.Logger
	zl     *zap.Logger
	store  *store.Store

	fits   map[string]*FitState
	fitsMu sync.RWMutex

	registry    *prometheus.Registry
	fitsTotal   *prometheus.CounterVec
	fitDuration prometheus.Histogram
	activeFits  prometheus.Gauge
}

// NewServer creates a server. The store may be nil, in which case
// completed runs are not archived.
func NewServer(cfg *config.Config, logger *logging.Logger, st *store.Store) *Server {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Server{
		cfg:    cfg,
		logger: logger,
		zl:     logging.NewZapLogger(logger).Named("fit"),
		store:  st,
		fits:   make(map[string]*FitState),

		registry: registry,
		fitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taiga_fits_total",
			Help: "Completed fit jobs by method and terminal status.",
		}, []string{"method", "status"}),
		fitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "taiga_fit_duration_seconds",
			Help:    "Wall-clock duration of fit jobs.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		activeFits: factory.NewGauge(prometheus.GaugeOpts{
			Name: "taiga_active_fits",
			Help: "Fit jobs currently running.",
		}),
	}
}

// MetricsHandler serves this server's metrics registry.
func (s *Server) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// RegisterRoutes mounts the API under /api/v1.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/fit", s.handleStartFit)
		r.Get("/fit/{id}", s.handleFitStatus)
		r.Get("/fit", s.handleListFits)
		r.Get("/runs", s.handleListRuns)
	})
}

func (s *Server) handleStartFit(w http.ResponseWriter, r *http.Request) {
	var req FitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := validateFitRequest(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	applyDefaults(&req, s.cfg)

	id := uuid.NewString()
	state := &FitState{
		ID:          id,
		Status:      "pending",
		Method:      req.Method,
		Kernel:      req.Kernel,
		StartTime:   time.Now(),
		LastUpdated: time.Now(),
	}

	s.fitsMu.Lock()
	s.fits[id] = state
	s.fitsMu.Unlock()

	s.logger.Info("Fit job accepted", map[string]interface{}{
		"fit_id": id,
		"method": req.Method,
		"kernel": req.Kernel,
		"points": len(req.Inputs),
	})

	go s.runFit(id, req)

	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"fit_id": id,
		"status": "pending",
	})
}

func (s *Server) handleFitStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.fitsMu.RLock()
	state, exists := s.fits[id]
	var snapshot map[string]interface{}
	if exists {
		snapshot = stateResponse(state)
	}
	s.fitsMu.RUnlock()

	if !exists {
		s.respondError(w, http.StatusNotFound, "fit not found")
		return
	}
	s.respondJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleListFits(w http.ResponseWriter, r *http.Request) {
	s.fitsMu.RLock()
	list := make([]map[string]interface{}, 0, len(s.fits))
	for _, state := range s.fits {
		list = append(list, map[string]interface{}{
			"fit_id": state.ID,
			"status": state.Status,
			"method": state.Method,
			"kernel": state.Kernel,
		})
	}
	s.fitsMu.RUnlock()

	s.respondJSON(w, http.StatusOK, map[string]interface{}{"fits": list})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.respondError(w, http.StatusNotFound, "run archive is not configured")
		return
	}

	runs, err := s.store.ListRuns(r.Context(), 50)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("list runs: %v", err))
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

func validateFitRequest(req *FitRequest) error {
	if len(req.Inputs) == 0 {
		return fmt.Errorf("inputs are required")
	}
	if len(req.Targets) != len(req.Inputs) {
		return fmt.Errorf("targets length %d does not match %d input rows", len(req.Targets), len(req.Inputs))
	}
	dim := len(req.Inputs[0])
	if dim == 0 {
		return fmt.Errorf("input rows must not be empty")
	}
	for i, row := range req.Inputs {
		if len(row) != dim {
			return fmt.Errorf("input row %d has %d features, expected %d", i, len(row), dim)
		}
	}
	if req.NoiseVariance < 0 {
		return fmt.Errorf("noise_variance must not be negative")
	}
	switch req.Method {
	case "", "adam", minimize.MethodLBFGSB, minimize.MethodBFGS, minimize.MethodCG:
	default:
		return fmt.Errorf("unknown method %q", req.Method)
	}
	return nil
}

func applyDefaults(req *FitRequest, cfg *config.Config) {
	if req.Kernel == "" {
		req.Kernel = "rbf"
	}
	if req.Method == "" {
		req.Method = cfg.Fit.Method
	}
	if req.NoiseVariance == 0 {
		req.NoiseVariance = 0.1
	}
	if req.MaxIterations <= 0 {
		req.MaxIterations = cfg.Fit.MaxIterations
	}
	if req.LearningRate <= 0 {
		req.LearningRate = cfg.Fit.LearningRate
	}
	if req.TrackIterations == nil {
		track := cfg.Fit.TrackIterations
		req.TrackIterations = &track
	}
}

// runFit executes one fit job in a goroutine.
func (s *Server) runFit(id string, req FitRequest) {
	s.setStatus(id, "running")
	s.activeFits.Inc()
	start := time.Now()

	final, hypers, iterations, err := s.executeFit(req)

	duration := time.Since(start)
	s.activeFits.Dec()
	s.fitDuration.Observe(duration.Seconds())

	now := time.Now()
	s.fitsMu.Lock()
	state := s.fits[id]
	state.EndTime = &now
	state.LastUpdated = now
	if err != nil {
		state.Status = "failed"
		state.Error = err.Error()
	} else {
		state.Status = "completed"
		state.FinalLoss = &final
		state.Hyperparameters = hypers
		state.Iterations = iterations
	}
	status := state.Status
	s.fitsMu.Unlock()

	s.fitsTotal.WithLabelValues(req.Method, status).Inc()

	if err != nil {
		s.logger.Error("Fit job failed", map[string]interface{}{
			"fit_id": id,
			"error":  err.Error(),
		})
		return
	}

	s.logger.Info("Fit job completed", map[string]interface{}{
		"fit_id":     id,
		"final_loss": final,
		"duration":   duration.String(),
	})

	if s.store != nil {
		run := store.Run{
			ID:              id,
			Method:          req.Method,
			Kernel:          req.Kernel,
			FinalLoss:       final,
			Hyperparameters: hypers,
			Iterations:      len(iterations),
			DurationSeconds: duration.Seconds(),
			CreatedAt:       now.UTC(),
		}
		if err := s.store.SaveRun(context.Background(), run); err != nil {
			s.logger.Error("Failed to archive fit run", map[string]interface{}{
				"fit_id": id,
				"error":  err.Error(),
			})
		}
	}
}

// executeFit builds the model and runs the requested fitting loop.
func (s *Server) executeFit(req FitRequest) (float64, map[string]float64, []fit.OptimizationIteration, error) {
	kernel, err := kernels.New(req.Kernel, 1.0, 1.0)
	if err != nil {
		return 0, nil, nil, err
	}

	n := len(req.Inputs)
	dim := len(req.Inputs[0])
	data := make([]float64, 0, n*dim)
	for _, row := range req.Inputs {
		data = append(data, row...)
	}
	X := mat.NewDense(n, dim, data)
	y := mat.NewVecDense(n, append([]float64(nil), req.Targets...))

	model, err := gp.NewExactGP(kernel, X, y, req.NoiseVariance)
	if err != nil {
		return 0, nil, nil, err
	}
	model.SetLogger(s.zl)

	var iterations []fit.OptimizationIteration
	if req.Method == "adam" {
		iterations, err = fit.FitGradient(model, fit.GradientFitConfig{
			LR:              req.LearningRate,
			MaxIter:         req.MaxIterations,
			TrackIterations: *req.TrackIterations,
			Logger:          s.zl,
		})
	} else {
		bounds := make(fit.ParameterBounds, len(req.Bounds))
		for name, b := range req.Bounds {
			bounds[name] = fit.Bound{Lower: []float64{b[0]}, Upper: []float64{b[1]}}
		}
		iterations, err = fit.FitQuasiNewton(model, fit.QuasiNewtonFitConfig{
			Bounds: bounds,
			Method: req.Method,
			Options: &minimize.Options{
				MaxIterations: req.MaxIterations,
			},
			TrackIterations: *req.TrackIterations,
			PrecisionBudget: s.cfg.Fit.PrecisionBudget,
			Logger:          s.zl,
		})
	}
	if err != nil {
		return 0, nil, nil, err
	}

	final, err := model.Loss(s.cfg.Fit.PrecisionBudget)
	if err != nil {
		return 0, nil, nil, err
	}
	return final, model.Hyperparameters(), iterations, nil
}

func (s *Server) setStatus(id, status string) {
	s.fitsMu.Lock()
	if state, ok := s.fits[id]; ok {
		state.Status = status
		state.LastUpdated = time.Now()
	}
	s.fitsMu.Unlock()
}

// stateResponse snapshots a FitState for JSON encoding. Caller holds the
// fits lock.
func stateResponse(state *FitState) map[string]interface{} {
	resp := map[string]interface{}{
		"fit_id":      state.ID,
		"status":      state.Status,
		"method":      state.Method,
		"kernel":      state.Kernel,
		"start_time":  state.StartTime.Format(time.RFC3339),
		"last_update": state.LastUpdated.Format(time.RFC3339),
	}
	if state.EndTime != nil {
		resp["end_time"] = state.EndTime.Format(time.RFC3339)
	}
	if state.FinalLoss != nil {
		resp["final_loss"] = *state.FinalLoss
	}
	if state.Hyperparameters != nil {
		resp["hyperparameters"] = state.Hyperparameters
	}
	if state.Error != "" {
		resp["error"] = state.Error
	}
	if len(state.Iterations) > 0 {
		history := make([]map[string]interface{}, len(state.Iterations))
		for i, it := range state.Iterations {
			history[i] = map[string]interface{}{
				"iteration":       it.Itr,
				"loss":            it.Fun,
				"elapsed_seconds": it.Time,
			}
		}
		resp["history"] = history
	}
	return resp
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.logger.Error("Request error", map[string]interface{}{
		"status":  status,
		"message": message,
	})
	s.respondJSON(w, status, map[string]interface{}{"error": message})
}
