// Package server exposes the equilibrium solver and tube analyses over HTTP
// and JSON-RPC 2.0.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/copyleftdev/equilibria/internal/analysis"
	"github.com/copyleftdev/equilibria/internal/concentration"
	"github.com/copyleftdev/equilibria/internal/config"
	"github.com/copyleftdev/equilibria/internal/errors"
	"github.com/copyleftdev/equilibria/internal/logging"
	"github.com/copyleftdev/equilibria/internal/metrics"
	"github.com/copyleftdev/equilibria/internal/species"
	"github.com/copyleftdev/equilibria/internal/thermo"
)

const component = "server"

// Logger defines the logging interface used by the server
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// JobStatus is the lifecycle state of an analysis job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

func (s JobStatus) terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job tracks one asynchronous tube analysis. Fields are guarded by the
// server's job lock.
type Job struct {
	ID          string
	Status      JobStatus
	StartTime   time.Time
	EndTime     *time.Time
	LastUpdated time.Time
	Result      *analysis.Result
	Err         error
	CancelFunc  context.CancelFunc
}

// Server implements the HTTP and JSON-RPC API. Synchronous solves run on the
// request goroutine; analyses run as jobs in the background.
type Server struct {
	cfg     *config.Config
	logger  Logger
	zlog    *zap.Logger
	engine  thermo.Engine
	metrics *metrics.Metrics

	jobs   map[string]*Job
	jobsMu sync.RWMutex // Protects the jobs map and every Job
	wg     sync.WaitGroup
}

// NewServer creates a server that evaluates analyses with engine and
// records activity in m.
func NewServer(cfg *config.Config, logger *logging.Logger, engine thermo.Engine, m *metrics.Metrics) (*Server, error) {
	if cfg == nil || logger == nil || engine == nil || m == nil {
		return nil, errors.New(errors.KindConfiguration, "server needs config, logger, engine and metrics").
			WithComponent(component).WithOperation("NewServer")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Server{
		cfg:     cfg,
		logger:  logger,
		zlog:    logging.NewZapLogger(logger),
		engine:  engine,
		metrics: m,
		jobs:    make(map[string]*Job),
	}, nil
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/equilibrium", s.handleEquilibrium)
		r.Post("/analysis", s.handleAnalysis)
		r.Get("/status/{id}", s.handleStatus)
		r.Delete("/analysis/{id}", s.handleCancel)
	})

	r.Post("/rpc", s.handleJSONRPC)
}

// Solve runs one equilibrium computation.
func (s *Server) Solve(ctx context.Context, req EquilibriumRequest) (*EquilibriumResponse, error) {
	const op = "Solve"

	strands, byName, err := strandsFrom(req.Strands)
	if err != nil {
		return nil, err
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = s.cfg.Model().Temperature
	}
	entries := make([]concentration.Entry, len(req.Complexes))
	for i, spec := range req.Complexes {
		c, err := complexFrom(spec.Strands, byName)
		if err != nil {
			return nil, err
		}
		if spec.Name != "" {
			c = c.WithName(spec.Name)
		}
		entries[i] = concentration.Entry{Complex: c, LogQ: float64(spec.LogQ), Temperature: temperature}
	}

	defaults, err := s.cfg.SolverOptions()
	if err != nil {
		return nil, err
	}
	solver, err := concentration.New(strands, entries,
		concentration.WithLogger(s.zlog),
		concentration.WithDistinguishable(req.Distinguishable),
		concentration.WithDefaults(defaults),
		concentration.WithObserver(s.metrics))
	if err != nil {
		return nil, invalid(err)
	}

	var opts []concentration.ComputeOption
	if req.Method != "" {
		m, err := concentration.ParseMethod(req.Method)
		if err != nil {
			return nil, err
		}
		opts = append(opts, concentration.WithMethod(m))
	}
	if req.Tolerance != 0 {
		opts = append(opts, concentration.WithTolerance(req.Tolerance))
	}
	if req.MaxIterations != 0 {
		opts = append(opts, concentration.WithMaxIterations(req.MaxIterations))
	}
	if req.MaxSize != 0 {
		opts = append(opts, concentration.WithMaxSize(req.MaxSize))
	}
	if req.AsComplexes {
		opts = append(opts, concentration.AsComplexConcentrations())
	}
	if len(req.InitialGuess) > 0 {
		opts = append(opts, concentration.WithInitialGuess(floats(req.InitialGuess)))
	}
	if len(req.Select) > 0 {
		selected := make([]species.Complex, len(req.Select))
		for i, names := range req.Select {
			if selected[i], err = complexFrom(names, byName); err != nil {
				return nil, err
			}
		}
		opts = append(opts, concentration.WithComplexes(selected...))
	}

	res, err := solver.Compute(ctx, floats(req.Concentrations), opts...)
	if err != nil {
		return nil, errors.Wrap(err, "equilibrium solve failed").WithComponent(component).WithOperation(op)
	}
	return &EquilibriumResponse{
		Temperature:   res.Temperature,
		Method:        res.Method.String(),
		Iterations:    res.Iterations,
		Residual:      Float(res.Residual),
		Complexes:     concentrationsOf(res),
		StrandTotals:  toFloats(res.StrandTotals()),
		LogActivities: toFloats(res.LogActivities()),
	}, nil
}

// StartAnalysis validates req and starts it as a background job.
func (s *Server) StartAnalysis(req AnalysisRequest) (JobReport, error) {
	const op = "StartAnalysis"

	if len(req.Tubes) == 0 {
		return JobReport{}, errors.New(errors.KindInvalidArgument, "at least one tube is required").
			WithComponent(component).WithOperation(op)
	}
	tubes := make([]analysis.Tube, len(req.Tubes))
	for i, spec := range req.Tubes {
		if spec.MaxSize > s.cfg.Analysis.MaxSize {
			return JobReport{}, errors.Errorf(errors.KindInvalidArgument,
				"tube %s: max size %d exceeds the limit of %d", spec.Name, spec.MaxSize, s.cfg.Analysis.MaxSize).
				WithComponent(component).WithOperation(op)
		}
		t, err := tubeFrom(spec)
		if err != nil {
			return JobReport{}, err
		}
		if _, err := t.Complexes(); err != nil {
			return JobReport{}, invalid(err)
		}
		tubes[i] = t
	}

	acfg, err := s.cfg.AnalysisConfig()
	if err != nil {
		return JobReport{}, err
	}
	if req.Model != nil {
		acfg.Model = *req.Model
	}
	if req.MFE {
		acfg.Quantities = []thermo.Quantity{thermo.QuantityMFE}
	}
	an, err := analysis.New(acfg, s.engine, s.zlog, analysis.WithObserver(s.metrics))
	if err != nil {
		return JobReport{}, invalid(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	job := &Job{
		ID:          uuid.NewString(),
		Status:      StatusPending,
		StartTime:   now,
		LastUpdated: now,
		CancelFunc:  cancel,
	}

	s.jobsMu.Lock()
	s.prune(now)
	s.jobs[job.ID] = job
	rep := reportOf(job)
	s.jobsMu.Unlock()

	s.metrics.AnalysisStarted()
	s.wg.Add(1)
	go s.runAnalysis(ctx, job, an, tubes)

	s.logger.Info("Analysis started", map[string]interface{}{
		"analysis_id": job.ID,
		"tubes":       len(tubes),
	})
	return rep, nil
}

// Status reports the state of a job.
func (s *Server) Status(id string) (JobReport, error) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return JobReport{}, errors.Errorf(errors.KindNotFound, "analysis %s not found", id).
			WithComponent(component).WithOperation("Status")
	}
	return reportOf(job), nil
}

// Cancel stops a pending or running job.
func (s *Server) Cancel(id string) error {
	const op = "Cancel"

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return errors.Errorf(errors.KindNotFound, "analysis %s not found", id).
			WithComponent(component).WithOperation(op)
	}
	if job.Status.terminal() {
		return errors.Errorf(errors.KindInvalidArgument, "cannot cancel analysis with status %s", job.Status).
			WithComponent(component).WithOperation(op)
	}

	job.CancelFunc()
	now := time.Now()
	job.Status = StatusCancelled
	job.EndTime = &now
	job.LastUpdated = now

	s.logger.Info("Analysis cancelled", map[string]interface{}{"analysis_id": id})
	return nil
}

func (s *Server) runAnalysis(ctx context.Context, job *Job, an *analysis.Analyzer, tubes []analysis.Tube) {
	defer s.wg.Done()

	s.jobsMu.Lock()
	if job.Status == StatusPending {
		job.Status = StatusRunning
		job.LastUpdated = time.Now()
	}
	s.jobsMu.Unlock()

	res, err := an.Analyze(ctx, tubes...)
	s.metrics.AnalysisFinished(err)

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	defer job.CancelFunc()

	now := time.Now()
	job.LastUpdated = now
	if job.Status == StatusCancelled {
		return
	}
	job.EndTime = &now
	if err != nil {
		s.logger.Error("Analysis failed", map[string]interface{}{
			"analysis_id": job.ID,
			"error":       err.Error(),
		})
		job.Status = StatusFailed
		job.Err = err
		return
	}
	job.Status = StatusCompleted
	job.Result = res
}

// prune drops finished jobs older than the configured TTL. Callers hold
// jobsMu.
func (s *Server) prune(now time.Time) {
	ttl := s.cfg.Analysis.JobTTL
	if ttl <= 0 {
		return
	}
	for id, job := range s.jobs {
		if job.Status.terminal() && job.EndTime != nil && now.Sub(*job.EndTime) > ttl {
			delete(s.jobs, id)
		}
	}
}

// Close cancels running jobs and waits for them to stop.
func (s *Server) Close() error {
	s.jobsMu.Lock()
	for _, job := range s.jobs {
		if !job.Status.terminal() {
			job.CancelFunc()
		}
	}
	s.jobsMu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *Server) handleEquilibrium(w http.ResponseWriter, r *http.Request) {
	var req EquilibriumRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, invalid(err))
		return
	}
	res, err := s.Solve(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	var req AnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, invalid(err))
		return
	}
	rep, err := s.StartAnalysis(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, rep)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rep, err := s.Status(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.Cancel(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancellation requested"})
}

// writeError reports err with the status its kind maps to.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := errors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", map[string]interface{}{"error": err.Error()})
	}
	writeJSON(w, status, map[string]interface{}{
		"error": err.Error(),
		"kind":  errors.KindOf(err).String(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
