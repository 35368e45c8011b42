package server

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/equilibria/internal/config"
	"github.com/copyleftdev/equilibria/internal/errors"
	"github.com/copyleftdev/equilibria/internal/logging"
	"github.com/copyleftdev/equilibria/internal/metrics"
	"github.com/copyleftdev/equilibria/internal/species"
	"github.com/copyleftdev/equilibria/internal/thermo"
)

// testConfig creates a test configuration with default values
func testConfig(t *testing.T) *config.Config {
	cfg := &config.Config{
		Environment: "test",
	}

	cfg.HTTP.Port = 8080
	cfg.HTTP.ReadTimeout = 30 * time.Second
	cfg.HTTP.WriteTimeout = 30 * time.Second
	cfg.HTTP.IdleTimeout = 120 * time.Second
	cfg.HTTP.ShutdownTimeout = 30 * time.Second

	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "text"
	cfg.Logging.Output = "stdout"

	cfg.Solver.Method = "trust_region"
	cfg.Solver.Tolerance = 1e-9
	cfg.Solver.MaxIterations = 10000
	cfg.Solver.DeltaMin = 1e-12
	cfg.Solver.DeltaMax = 1000

	cfg.Analysis.Workers = 2
	cfg.Analysis.CacheSize = 64
	cfg.Analysis.MaxSize = 3
	cfg.Analysis.Celsius = 37
	cfg.Analysis.Sodium = 1
	cfg.Analysis.JobTTL = time.Hour

	return cfg
}

// testLogger creates a test logger
func testLogger(t *testing.T) *logging.Logger {
	logger, err := logging.NewLogger(&logging.Config{
		Level:  "debug",
		Format: "text",
		Output: "stdout",
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return logger
}

func testServer(t *testing.T, engine thermo.Engine) (*Server, chi.Router) {
	t.Helper()
	if engine == nil {
		engine = thermo.NewNearestNeighbor()
	}
	srv, err := NewServer(testConfig(t), testLogger(t), engine, metrics.New(metrics.Config{}))
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	r := chi.NewRouter()
	srv.RegisterRoutes(r)
	return srv, r
}

func do(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(method, path, &buf))
	return rr
}

// blockingEngine never finishes an evaluation before its context ends.
type blockingEngine struct{}

func (blockingEngine) Pfunc(ctx context.Context, _ species.Complex, _ thermo.Model) (thermo.PfuncResult, error) {
	<-ctx.Done()
	return thermo.PfuncResult{}, errors.Wrap(ctx.Err(), "blocked")
}

func (blockingEngine) MFE(ctx context.Context, _ species.Complex, _ thermo.Model) (thermo.MfeResult, error) {
	<-ctx.Done()
	return thermo.MfeResult{}, errors.Wrap(ctx.Err(), "blocked")
}

func TestNewServer(t *testing.T) {
	srv, err := NewServer(testConfig(t), testLogger(t), thermo.NewNearestNeighbor(), metrics.New(metrics.Config{}))
	require.NoError(t, err)
	assert.NotNil(t, srv, "Server should be created")

	_, err = NewServer(testConfig(t), testLogger(t), nil, metrics.New(metrics.Config{}))
	assert.ErrorIs(t, err, errors.ErrConfiguration)

	bad := testConfig(t)
	bad.Solver.Method = "simplex"
	_, err = NewServer(bad, testLogger(t), thermo.NewNearestNeighbor(), metrics.New(metrics.Config{}))
	assert.ErrorIs(t, err, errors.ErrConfiguration)
}

func TestRegisterRoutes(t *testing.T) {
	_, r := testServer(t, nil)

	tests := []struct {
		method      string
		path        string
		shouldExist bool
	}{
		{"POST", "/api/v1/equilibrium", true},
		{"POST", "/api/v1/analysis", true},
		{"GET", "/api/v1/status/123", true},
		{"DELETE", "/api/v1/analysis/123", true},
		{"POST", "/rpc", true},
		{"GET", "/healthz", false}, // Not registered by server package
		{"GET", "/nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rr := do(t, r, tt.method, tt.path, nil)
			var body map[string]interface{}
			_ = json.NewDecoder(rr.Body).Decode(&body)
			routed := rr.Code != http.StatusNotFound || body["kind"] == "not_found"
			assert.Equal(t, tt.shouldExist, routed)
		})
	}
}

func dimerRequest() EquilibriumRequest {
	return EquilibriumRequest{
		Strands: []StrandSpec{{Name: "a"}, {Name: "b"}},
		Complexes: []ComplexSpec{
			{Strands: []string{"a"}},
			{Strands: []string{"b"}},
			{Name: "duplex", Strands: []string{"a", "b"}, LogQ: 20},
		},
		Temperature:    298.15,
		Concentrations: []Float{1e-6, 2e-6},
	}
}

func TestEquilibrium(t *testing.T) {
	_, r := testServer(t, nil)

	rr := do(t, r, "POST", "/api/v1/equilibrium", dimerRequest())
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var res EquilibriumResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
	assert.Equal(t, "trust_region", res.Method)
	assert.Equal(t, 298.15, res.Temperature)
	require.Len(t, res.StrandTotals, 2)
	assert.InEpsilon(t, 1e-6, float64(res.StrandTotals[0]), 1e-6)
	assert.InEpsilon(t, 2e-6, float64(res.StrandTotals[1]), 1e-6)
	require.Len(t, res.Complexes, 3)
	assert.Equal(t, "duplex", res.Complexes[2].Name)
	assert.Equal(t, []string{"a", "b"}, res.Complexes[2].Strands)
	assert.Less(t, float64(res.Residual), 1e-9)

	req := dimerRequest()
	req.Method = "newton"
	req.Concentrations = []Float{1e-6, 0}
	rr = do(t, r, "POST", "/api/v1/equilibrium", req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
	assert.Equal(t, "newton", res.Method)
	assert.Zero(t, float64(res.Complexes[2].Concentration))
	assert.True(t, math.IsInf(float64(res.LogActivities[1]), -1))
}

func TestEquilibriumErrors(t *testing.T) {
	_, r := testServer(t, nil)

	mismatch := dimerRequest()
	mismatch.Concentrations = []Float{1e-6}

	unknown := dimerRequest()
	unknown.Complexes = append(unknown.Complexes, ComplexSpec{Strands: []string{"c"}})

	slow := dimerRequest()
	slow.Complexes[2].LogQ = 60
	slow.MaxIterations = 1

	badMethod := dimerRequest()
	badMethod.Method = "simplex"

	tests := []struct {
		name string
		body interface{}
		code int
		kind string
	}{
		{"concentration mismatch", mismatch, http.StatusBadRequest, "invalid_argument"},
		{"unknown strand", unknown, http.StatusBadRequest, "invalid_argument"},
		{"not converged", slow, http.StatusUnprocessableEntity, "convergence"},
		{"bad method", badMethod, http.StatusBadRequest, "invalid_argument"},
		{"bad body", "not an object", http.StatusBadRequest, "invalid_argument"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, r, "POST", "/api/v1/equilibrium", tt.body)
			assert.Equal(t, tt.code, rr.Code, rr.Body.String())
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
			assert.Equal(t, tt.kind, body["kind"])
		})
	}
}

func TestAnalysisLifecycle(t *testing.T) {
	srv, r := testServer(t, thermo.NewCache(thermo.NewNearestNeighbor(), 64))

	req := AnalysisRequest{
		Tubes: []TubeSpec{{
			Name: "duplex",
			Strands: []StrandSpec{
				{Name: "x", Sequence: "GATTACAGGC", Concentration: 1e-6},
				{Name: "xc", Sequence: "GCCTGTAATC", Concentration: 1e-6},
			},
			MaxSize: 2,
		}},
		MFE: true,
	}
	rr := do(t, r, "POST", "/api/v1/analysis", req)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	var started JobReport
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&started))
	require.NotEmpty(t, started.ID)

	require.Eventually(t, func() bool {
		rep, err := srv.Status(started.ID)
		return err == nil && rep.Status.terminal()
	}, 10*time.Second, 10*time.Millisecond)

	rr = do(t, r, "GET", "/api/v1/status/"+started.ID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var rep JobReport
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&rep))
	assert.Equal(t, StatusCompleted, rep.Status)
	assert.NotEmpty(t, rep.EndTime)
	require.Len(t, rep.Tubes, 1)
	assert.Len(t, rep.Tubes[0].Complexes, 5)
	assert.InEpsilon(t, 1e-6, float64(rep.Tubes[0].StrandTotals[0]), 1e-6)

	var duplex *ComplexReport
	for i := range rep.Complexes {
		if rep.Complexes[i].Name == "x+xc" {
			duplex = &rep.Complexes[i]
		}
	}
	require.NotNil(t, duplex)
	assert.Equal(t, "((((((((((+))))))))))", duplex.Structure)
	require.NotNil(t, duplex.MFE)

	rr = do(t, r, "DELETE", "/api/v1/analysis/"+started.ID, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAnalysisCancel(t *testing.T) {
	srv, r := testServer(t, blockingEngine{})

	rep, err := srv.StartAnalysis(AnalysisRequest{Tubes: []TubeSpec{{
		Name:    "t",
		Strands: []StrandSpec{{Name: "a", Sequence: "GCGC", Concentration: 1e-6}},
	}}})
	require.NoError(t, err)

	rr := do(t, r, "DELETE", "/api/v1/analysis/"+rep.ID, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	require.NoError(t, srv.Close())
	rep, err = srv.Status(rep.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, rep.Status)

	rr = do(t, r, "GET", "/api/v1/status/missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = do(t, r, "DELETE", "/api/v1/analysis/missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAnalysisRejected(t *testing.T) {
	_, r := testServer(t, nil)

	tests := []struct {
		name string
		req  AnalysisRequest
	}{
		{"no tubes", AnalysisRequest{}},
		{"too large", AnalysisRequest{Tubes: []TubeSpec{{
			Name: "t", Strands: []StrandSpec{{Name: "a", Sequence: "GC", Concentration: 1}}, MaxSize: 10,
		}}}},
		{"unknown include", AnalysisRequest{Tubes: []TubeSpec{{
			Name: "t", Strands: []StrandSpec{{Name: "a", Sequence: "GC", Concentration: 1}},
			Include: [][]string{{"a", "z"}},
		}}}},
		{"concentration count", AnalysisRequest{Tubes: []TubeSpec{{Strands: []StrandSpec{{Name: "a"}}}}}},
		{"bad model", AnalysisRequest{
			Tubes: []TubeSpec{{Name: "t", Strands: []StrandSpec{{Name: "a", Sequence: "GC", Concentration: 1}}}},
			Model: &thermo.Model{Temperature: -1, Sodium: 1},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, r, "POST", "/api/v1/analysis", tt.req)
			assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
		})
	}
}

func rpc(t *testing.T, r http.Handler, method string, params interface{}) map[string]interface{} {
	t.Helper()
	rr := do(t, r, "POST", "/rpc", map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      "1",
		"method":  method,
		"params":  params,
	})
	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	return body
}

func rpcErrorCode(t *testing.T, body map[string]interface{}) float64 {
	t.Helper()
	errObj, ok := body["error"].(map[string]interface{})
	require.True(t, ok, "response should contain error object: %v", body)
	return errObj["code"].(float64)
}

func TestJSONRPC(t *testing.T) {
	srv, r := testServer(t, nil)

	body := rpc(t, r, "equilibrium.solve", []interface{}{dimerRequest()})
	result, ok := body["result"].(map[string]interface{})
	require.True(t, ok, "response should contain result: %v", body)
	assert.Equal(t, "trust_region", result["method"])
	assert.Equal(t, "1", body["id"])

	body = rpc(t, r, "analysis.start", AnalysisRequest{Tubes: []TubeSpec{{
		Name:    "t",
		Strands: []StrandSpec{{Name: "a", Sequence: "GCGC", Concentration: 1e-6}},
		MaxSize: 2,
	}}})
	result, ok = body["result"].(map[string]interface{})
	require.True(t, ok, "response should contain result: %v", body)
	id, _ := result["analysis_id"].(string)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		rep, err := srv.Status(id)
		return err == nil && rep.Status.terminal()
	}, 10*time.Second, 10*time.Millisecond)

	body = rpc(t, r, "analysis.status", idParams{ID: id})
	result, ok = body["result"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "completed", result["status"])

	assert.Equal(t, float64(codeInvalidParams), rpcErrorCode(t, rpc(t, r, "analysis.cancel", idParams{ID: id})))
	assert.Equal(t, float64(codeNotFound), rpcErrorCode(t, rpc(t, r, "analysis.status", idParams{ID: "missing"})))
	assert.Equal(t, float64(codeInvalidParams), rpcErrorCode(t, rpc(t, r, "analysis.status", nil)))
	assert.Equal(t, float64(codeMethodNotFound), rpcErrorCode(t, rpc(t, r, "equilibrium.guess", nil)))

	slow := dimerRequest()
	slow.Complexes[2].LogQ = 60
	slow.MaxIterations = 1
	assert.Equal(t, float64(codeNotConverged), rpcErrorCode(t, rpc(t, r, "equilibrium.solve", slow)))

	rr := do(t, r, "POST", "/rpc", map[string]interface{}{"jsonrpc": "1.0", "id": 7, "method": "analysis.status"})
	var resp map[string]interface{}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, float64(codeInvalidRequest), rpcErrorCode(t, resp))

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("POST", "/rpc", bytes.NewBufferString("{")))
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, float64(codeParseError), rpcErrorCode(t, resp))
}

func TestRespondWithError(t *testing.T) {
	srv, _ := testServer(t, nil)

	tests := []struct {
		name       string
		code       int
		message    string
		id         interface{}
		expectedID interface{}
	}{
		{"valid error response", codeInvalidParams, "invalid input", "123", "123"},
		{"nil id", codeServerError, "server error", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			srv.respondWithError(rr, tt.code, tt.message, tt.id)

			assert.Equal(t, http.StatusOK, rr.Code, "JSON-RPC errors travel with 200")

			var response map[string]interface{}
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&response))

			errObj, ok := response["error"].(map[string]interface{})
			require.True(t, ok, "response should contain error object")
			assert.Equal(t, float64(tt.code), errObj["code"])
			assert.Equal(t, tt.message, errObj["message"])
			assert.Equal(t, tt.expectedID, response["id"])
		})
	}
}

func TestFloatJSON(t *testing.T) {
	in := []Float{Float(math.NaN()), Float(math.Inf(1)), Float(math.Inf(-1)), 1.5}
	b, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, `["NaN","+Inf","-Inf",1.5]`, string(b))

	var out []Float
	require.NoError(t, json.Unmarshal(b, &out))
	assert.True(t, math.IsNaN(float64(out[0])))
	assert.True(t, math.IsInf(float64(out[1]), 1))
	assert.True(t, math.IsInf(float64(out[2]), -1))
	assert.Equal(t, Float(1.5), out[3])

	assert.Error(t, json.Unmarshal([]byte(`"lots"`), &out[0]))
}

func TestPrune(t *testing.T) {
	srv, _ := testServer(t, nil)

	old := time.Now().Add(-2 * time.Hour)
	srv.jobs["old"] = &Job{ID: "old", Status: StatusCompleted, EndTime: &old, CancelFunc: func() {}}
	srv.jobs["live"] = &Job{ID: "live", Status: StatusRunning, CancelFunc: func() {}}

	srv.jobsMu.Lock()
	srv.prune(time.Now())
	srv.jobsMu.Unlock()

	_, err := srv.Status("old")
	assert.ErrorIs(t, err, errors.ErrNotFound)
	_, err = srv.Status("live")
	assert.NoError(t, err)
}

func TestClose(t *testing.T) {
	srv, _ := testServer(t, nil)
	assert.NoError(t, srv.Close(), "Close should not return an error")
}
