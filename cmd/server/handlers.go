package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/liamcoop/lendermatch/internal/logger"
	"github.com/liamcoop/lendermatch/rules"
)

// maxBodyBytes bounds request bodies; a full lender with its rules is well
// under this.
const maxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "healthy",
		Store:    s.backend,
		LogLevel: logger.LevelName(logger.GetLevel()),
		Counters: logger.Snapshot(),
	}

	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			resp.Status = "unhealthy"
			resp.Error = err.Error()
			respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	lenders, err := s.manager.Snapshot()
	if err != nil {
		resp.Status = "unhealthy"
		resp.Error = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Lenders = len(lenders)
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRuleTypes(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, RuleTypesResponse{
		RuleTypes: s.manager.RuleTypes(),
		Operators: rules.Operators(),
	})
}

func (s *Server) handleGetLogLevel(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, LogLevelResponse{Level: logger.LevelName(logger.GetLevel())})
}

func (s *Server) handleSetLogLevel(w http.ResponseWriter, r *http.Request) {
	var req LogLevelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	level, err := logger.ParseLevel(req.Level)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid log level", err)
		return
	}
	logger.SetLevel(level)
	logger.Info("log level changed", "level", logger.LevelName(level))
	respondJSON(w, http.StatusOK, LogLevelResponse{Level: logger.LevelName(logger.GetLevel())})
}

// Lenders

func (s *Server) handleListLenders(w http.ResponseWriter, r *http.Request) {
	lenders, err := s.manager.ListLenders()
	if err != nil {
		respondFailure(w, "failed to list lenders", err)
		return
	}
	respondJSON(w, http.StatusOK, LendersListResponse{Lenders: lenders})
}

func (s *Server) handleCreateLender(w http.ResponseWriter, r *http.Request) {
	var req LenderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	l, err := req.toLender("")
	if err != nil {
		respondFailure(w, "invalid lender", err)
		return
	}
	created, err := s.manager.CreateLender(l)
	if err != nil {
		respondFailure(w, "failed to create lender", err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetLender(w http.ResponseWriter, r *http.Request) {
	l, err := s.manager.GetLender(chi.URLParam(r, "lenderId"))
	if err != nil {
		respondFailure(w, "lender not found", err)
		return
	}
	respondJSON(w, http.StatusOK, l)
}

func (s *Server) handleUpdateLender(w http.ResponseWriter, r *http.Request) {
	var req LenderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Programs = nil
	l, err := req.toLender(chi.URLParam(r, "lenderId"))
	if err != nil {
		respondFailure(w, "invalid lender", err)
		return
	}
	updated, err := s.manager.UpdateLender(l)
	if err != nil {
		respondFailure(w, "failed to update lender", err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteLender(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.DeleteLender(chi.URLParam(r, "lenderId")); err != nil {
		respondFailure(w, "failed to delete lender", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Programs

func (s *Server) handleCreateProgram(w http.ResponseWriter, r *http.Request) {
	var req ProgramRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := req.toProgram("")
	if err != nil {
		respondFailure(w, "invalid program", err)
		return
	}
	created, err := s.manager.AddProgram(chi.URLParam(r, "lenderId"), p)
	if err != nil {
		respondFailure(w, "failed to create program", err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetProgram(w http.ResponseWriter, r *http.Request) {
	p, err := s.manager.GetProgram(chi.URLParam(r, "programId"))
	if err != nil {
		respondFailure(w, "program not found", err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdateProgram(w http.ResponseWriter, r *http.Request) {
	var req ProgramRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Rules = nil
	p, err := req.toProgram(chi.URLParam(r, "programId"))
	if err != nil {
		respondFailure(w, "invalid program", err)
		return
	}
	updated, err := s.manager.UpdateProgram(p)
	if err != nil {
		respondFailure(w, "failed to update program", err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteProgram(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.DeleteProgram(chi.URLParam(r, "programId")); err != nil {
		respondFailure(w, "failed to delete program", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Rules

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rule, err := req.toRule("")
	if err != nil {
		respondFailure(w, "invalid rule", err)
		return
	}
	created, err := s.manager.AddRule(chi.URLParam(r, "programId"), rule)
	if err != nil {
		respondFailure(w, "failed to create rule", err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.manager.GetRule(chi.URLParam(r, "ruleId"))
	if err != nil {
		respondFailure(w, "rule not found", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rule, err := req.toRule(chi.URLParam(r, "ruleId"))
	if err != nil {
		respondFailure(w, "invalid rule", err)
		return
	}
	updated, err := s.manager.UpdateRule(rule)
	if err != nil {
		respondFailure(w, "failed to update rule", err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.DeleteRule(chi.URLParam(r, "ruleId")); err != nil {
		respondFailure(w, "failed to delete rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Applications

func (s *Server) handleListApplications(w http.ResponseWriter, r *http.Request) {
	apps, err := s.manager.ListApplications()
	if err != nil {
		respondFailure(w, "failed to list applications", err)
		return
	}
	respondJSON(w, http.StatusOK, ApplicationsListResponse{Applications: apps})
}

func (s *Server) handleCreateApplication(w http.ResponseWriter, r *http.Request) {
	var req rules.Submission
	if !decodeBody(w, r, &req) {
		return
	}
	created, err := s.manager.CreateApplication(&req)
	if err != nil {
		respondFailure(w, "failed to create application", err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetApplication(w http.ResponseWriter, r *http.Request) {
	sub, err := s.manager.GetApplication(chi.URLParam(r, "applicationId"))
	if err != nil {
		respondFailure(w, "application not found", err)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

func (s *Server) handleDeleteApplication(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.DeleteApplication(chi.URLParam(r, "applicationId")); err != nil {
		respondFailure(w, "failed to delete application", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnderwrite(w http.ResponseWriter, r *http.Request) {
	results, err := s.manager.Underwrite(chi.URLParam(r, "applicationId"))
	if err != nil {
		respondFailure(w, "underwriting failed", err)
		return
	}
	respondJSON(w, http.StatusOK, results)
}

func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	results, err := s.manager.Results(chi.URLParam(r, "applicationId"))
	if err != nil {
		respondFailure(w, "results not found", err)
		return
	}
	respondJSON(w, http.StatusOK, results)
}

// handleEvaluate matches a submission against the active lenders without
// storing anything.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req rules.Submission
	if !decodeBody(w, r, &req) {
		return
	}
	lenders, err := s.manager.Snapshot()
	if err != nil {
		respondFailure(w, "failed to load lenders", err)
		return
	}
	results, err := s.manager.Engine().Underwrite(req.Borrower, req.Application, lenders)
	if err != nil {
		respondFailure(w, "evaluation failed", err)
		return
	}
	respondJSON(w, http.StatusOK, results)
}
