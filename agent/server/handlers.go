package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/openalpha/stockex/agent/runtime"
	"github.com/openalpha/stockex/agent/types"
	apitypes "github.com/openalpha/stockex/api/types"
)

// classify maps a platform error to its wire code and HTTP status.
func classify(err error) (string, int) {
	switch {
	case types.ErrInvalidParameters.Is(err):
		return "INVALID_PARAMETERS", http.StatusBadRequest
	case types.ErrStrategyInvalid.Is(err):
		return "STRATEGY_INVALID", http.StatusBadRequest
	case types.ErrUnauthorized.Is(err):
		return "UNAUTHORIZED", http.StatusUnauthorized
	case types.ErrNotFound.Is(err):
		return "NOT_FOUND", http.StatusNotFound
	case types.ErrConflict.Is(err):
		return "CONFLICT", http.StatusConflict
	default:
		return "INTERNAL_ERROR", http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	code, status := classify(err)
	writeJSON(w, status, apitypes.ErrorResponse{
		Error: apitypes.ErrorBody{
			Code:    code,
			Message: err.Error(),
		},
		Timestamp: time.Now().UTC(),
	})
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, apitypes.ErrorResponse{
		Error: apitypes.ErrorBody{
			Code:    "METHOD_NOT_ALLOWED",
			Message: "method not allowed",
		},
		Timestamp: time.Now().UTC(),
	})
}

// agentResponse is the wire shape of one agent. The API key never leaves
// the platform.
type agentResponse struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	ExchangeURL     string         `json:"exchange_url"`
	StrategyID      string         `json:"strategy_id"`
	Parameters      map[string]any `json:"parameters,omitempty"`
	StrategyDoc     string         `json:"strategy_doc,omitempty"`
	IntervalSeconds int            `json:"interval_seconds"`
	Status          string         `json:"status"`
	LastError       string         `json:"last_error,omitempty"`
	TotalTicks      int64          `json:"total_ticks"`
	TotalTrades     int64          `json:"total_trades"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func fromAgent(a *types.Agent) agentResponse {
	return agentResponse{
		ID:              a.ID,
		Name:            a.Name,
		ExchangeURL:     a.ExchangeURL,
		StrategyID:      a.StrategyID,
		Parameters:      a.Parameters,
		StrategyDoc:     a.StrategyDoc,
		IntervalSeconds: a.IntervalSeconds,
		Status:          string(a.Status),
		LastError:       a.LastError,
		TotalTicks:      a.TotalTicks,
		TotalTrades:     a.TotalTrades,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

type createAgentRequest struct {
	Name            string         `json:"name"`
	ExchangeURL     string         `json:"exchange_url"`
	APIKey          string         `json:"api_key"`
	StrategyID      string         `json:"strategy_id"`
	Parameters      map[string]any `json:"parameters"`
	StrategyDoc     string         `json:"strategy_doc"`
	IntervalSeconds int            `json:"interval_seconds"`
}

type updateAgentRequest struct {
	Name            *string        `json:"name"`
	Parameters      map[string]any `json:"parameters"`
	StrategyDoc     *string        `json:"strategy_doc"`
	IntervalSeconds *int           `json:"interval_seconds"`
}

type validateRequest struct {
	StrategyID  string         `json:"strategy_id"`
	Parameters  map[string]any `json:"parameters"`
	StrategyDoc string         `json:"strategy_doc"`
}

type validateResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// handleStrategies serves GET /strategies and GET /strategies/{id}.
func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/strategies")
	rest = strings.Trim(rest, "/")
	if rest == "" {
		writeJSON(w, http.StatusOK, map[string]any{
			"strategies": s.manager.Registry().Definitions(),
		})
		return
	}
	def, err := s.manager.Registry().Definition(rest)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// handleValidate serves POST /strategies/validate: a dry-run build of a
// strategy so documents can be checked before an agent exists.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.ErrInvalidParameters.Wrap("invalid JSON body"))
		return
	}
	if req.StrategyID == "" {
		req.StrategyID = "rule_based"
	}
	if _, err := s.manager.Registry().New(req.StrategyID, req.Parameters, req.StrategyDoc); err != nil {
		writeJSON(w, http.StatusOK, validateResponse{Valid: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, validateResponse{Valid: true})
}

// handleAgents serves POST /agents and GET /agents.
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req createAgentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, types.ErrInvalidParameters.Wrap("invalid JSON body"))
			return
		}
		agent, err := s.manager.CreateAgent(runtime.CreateParams{
			Name:            req.Name,
			ExchangeURL:     req.ExchangeURL,
			APIKey:          req.APIKey,
			StrategyID:      req.StrategyID,
			Parameters:      req.Parameters,
			StrategyDoc:     req.StrategyDoc,
			IntervalSeconds: req.IntervalSeconds,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, fromAgent(agent))

	case http.MethodGet:
		agents, err := s.manager.ListAgents()
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]agentResponse, 0, len(agents))
		for _, a := range agents {
			out = append(out, fromAgent(a))
		}
		writeJSON(w, http.StatusOK, map[string]any{"agents": out})

	default:
		writeMethodNotAllowed(w)
	}
}

// handleAgent serves /agents/{id} (GET, PATCH, DELETE) and the lifecycle
// verbs /agents/{id}/start, /stop, /pause (POST).
func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/agents/"), "/")
	id, verb := rest, ""
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		id, verb = rest[:i], rest[i+1:]
	}
	if id == "" {
		writeError(w, types.ErrNotFound.Wrap("agent id is required"))
		return
	}

	if verb != "" {
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var (
			agent *types.Agent
			err   error
		)
		switch verb {
		case "start":
			agent, err = s.manager.StartAgent(id)
		case "stop":
			agent, err = s.manager.StopAgent(id)
		case "pause":
			agent, err = s.manager.PauseAgent(id)
		default:
			writeError(w, types.ErrNotFound.Wrapf("unknown action %q", verb))
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, fromAgent(agent))
		return
	}

	switch r.Method {
	case http.MethodGet:
		agent, err := s.manager.GetAgent(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, fromAgent(agent))

	case http.MethodPatch:
		var req updateAgentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, types.ErrInvalidParameters.Wrap("invalid JSON body"))
			return
		}
		agent, err := s.manager.UpdateAgent(id, runtime.UpdateParams{
			Name:            req.Name,
			Parameters:      req.Parameters,
			StrategyDoc:     req.StrategyDoc,
			IntervalSeconds: req.IntervalSeconds,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, fromAgent(agent))

	case http.MethodDelete:
		if err := s.manager.DeleteAgent(id); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})

	default:
		writeMethodNotAllowed(w)
	}
}
