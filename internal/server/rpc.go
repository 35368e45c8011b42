package server

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/copyleftdev/equilibria/internal/errors"
)

// JSON-RPC 2.0 error codes. The -32000 range carries the error kind.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeNotFound       = -32001
	codeNotConverged   = -32002
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type idParams struct {
	ID string `json:"analysis_id"`
}

// handleJSONRPC handles JSON-RPC 2.0 requests
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.respondWithError(w, codeParseError, "Parse error", nil)
		return
	}
	if request.JSONRPC != "2.0" {
		s.respondWithError(w, codeInvalidRequest, "Invalid Request", request.ID)
		return
	}

	var result interface{}
	var err error

	switch request.Method {
	case "equilibrium.solve":
		var p EquilibriumRequest
		if err = decodeParams(request.Params, &p); err == nil {
			result, err = s.Solve(r.Context(), p)
		}
	case "analysis.start":
		var p AnalysisRequest
		if err = decodeParams(request.Params, &p); err == nil {
			result, err = s.StartAnalysis(p)
		}
	case "analysis.status":
		var p idParams
		if err = decodeParams(request.Params, &p); err == nil {
			result, err = s.Status(p.ID)
		}
	case "analysis.cancel":
		var p idParams
		if err = decodeParams(request.Params, &p); err == nil {
			err = s.Cancel(p.ID)
			result = map[string]string{"status": "cancellation requested"}
		}
	default:
		s.respondWithError(w, codeMethodNotFound, "Method not found", request.ID)
		return
	}

	if err != nil {
		s.respondWithError(w, rpcCode(err), err.Error(), request.ID)
		return
	}

	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// decodeParams accepts params given by name or as a one-element array.
func decodeParams(raw json.RawMessage, v interface{}) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return errors.New(errors.KindInvalidArgument, "missing required parameters").WithComponent(component)
	}
	if raw[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err != nil {
			return invalid(err)
		}
		if len(arr) != 1 {
			return errors.Errorf(errors.KindInvalidArgument, "expected one parameter object, got %d", len(arr)).
				WithComponent(component)
		}
		raw = arr[0]
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return invalid(err)
	}
	return nil
}

func rpcCode(err error) int {
	switch errors.KindOf(err) {
	case errors.KindInvalidArgument, errors.KindConfiguration:
		return codeInvalidParams
	case errors.KindNotFound:
		return codeNotFound
	case errors.KindConvergence:
		return codeNotConverged
	default:
		return codeServerError
	}
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}) {
	s.logger.Warn("RPC error", map[string]interface{}{
		"status":  code,
		"message": message,
	})

	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"id": id,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}
