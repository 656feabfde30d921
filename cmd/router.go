package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/finscope/profiler-cli/internal/model"
	"github.com/finscope/profiler-cli/internal/selector"
	"github.com/finscope/profiler-cli/internal/store"
)

// newRouter builds the REST surface over the pipeline components.
func newRouter(env *appEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/analysis", func(r chi.Router) {
		r.Post("/scrape-profile", handleScrapeProfile(env))
		r.Post("/scrape-profiles/bulk", handleScrapeBulk(env))
		r.Post("/analyze-profile", handleAnalyzeProfile(env))
		r.Post("/analyze-profiles/batch", handleAnalyzeBatch(env))

		r.Get("/profiles", handleListProfiles(env))
		r.Get("/profiles/needing-analysis", handleNeedingAnalysis(env))
		r.Get("/profiles/{id}", handleGetProfile(env))
		r.Get("/profiles/{id}/analyses", handleProfileAnalyses(env))

		r.Get("/analyses/recent", handleRecentAnalyses(env))
		r.Get("/analyses/stats", handleAnalysisStats(env))

		r.Get("/jobs/{id}", handleGetJob(env))
		r.Delete("/jobs/{id}", handleCancelJob(env))
	})

	return r
}

func handleScrapeProfile(env *appEnv) http.HandlerFunc {
	type request struct {
		ProfileURL   string `json:"profile_url"`
		AccountID    string `json:"account_id"`
		ForceRefresh bool   `json:"force_refresh"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.ProfileURL == "" || req.AccountID == "" {
			writeError(w, http.StatusBadRequest, "profile_url and account_id are required")
			return
		}

		profile, err := env.Pacer.Fetch(r.Context(), req.ProfileURL, req.AccountID, req.ForceRefresh)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	}
}

func handleScrapeBulk(env *appEnv) http.HandlerFunc {
	type request struct {
		ProfileURLs  []string `json:"profile_urls"`
		AccountID    string   `json:"account_id"`
		DelaySeconds int      `json:"delay_seconds"`
		ForceRefresh bool     `json:"force_refresh"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if len(req.ProfileURLs) == 0 || req.AccountID == "" {
			writeError(w, http.StatusBadRequest, "profile_urls and account_id are required")
			return
		}

		delay := time.Duration(req.DelaySeconds) * time.Second
		jobID, err := env.Pacer.FetchBulk(r.Context(), req.ProfileURLs, req.AccountID, delay, req.ForceRefresh)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status": "accepted",
			"job_id": jobID.String(),
		})
	}
}

func handleAnalyzeProfile(env *appEnv) http.HandlerFunc {
	type request struct {
		ProfileID       string `json:"profile_id"`
		ForceReanalysis bool   `json:"force_reanalysis"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.ProfileID == "" {
			writeError(w, http.StatusBadRequest, "profile_id is required")
			return
		}

		analysis, err := env.Analyzer.AnalyzeOne(r.Context(), req.ProfileID, req.ForceReanalysis)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, analysis)
	}
}

func handleAnalyzeBatch(env *appEnv) http.HandlerFunc {
	type request struct {
		ProfileIDs      []string `json:"profile_ids"`
		ForceReanalysis bool     `json:"force_reanalysis"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if len(req.ProfileIDs) == 0 {
			writeError(w, http.StatusBadRequest, "profile_ids is required")
			return
		}

		result, err := env.Analyzer.AnalyzeBatch(r.Context(), req.ProfileIDs, req.ForceReanalysis)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func handleListProfiles(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profiles, err := env.Store.ListRecentProfiles(r.Context(), store.ProfileFilter{
			AccountID: r.URL.Query().Get("account_id"),
			Limit:     queryInt(r, "limit", 50),
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"profiles": profiles})
	}
}

func handleNeedingAnalysis(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		candidates, err := env.Selector.Select(r.Context(), queryInt(r, "limit", 0))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if candidates == nil {
			candidates = []selector.Candidate{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"candidates": candidates})
	}
}

func handleGetProfile(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profile, err := env.Store.GetProfile(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	}
}

func handleProfileAnalyses(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		// 404 on unknown profiles, empty history otherwise.
		if _, err := env.Store.GetProfile(r.Context(), id); err != nil {
			writeDomainError(w, err)
			return
		}
		analyses, err := env.Store.ListAnalyses(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"analyses": analyses})
	}
}

func handleRecentAnalyses(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		analyses, err := env.Store.ListRecentAnalyses(r.Context(), queryInt(r, "limit", 50))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"analyses": analyses})
	}
}

func handleAnalysisStats(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := env.Store.AnalysisStats(r.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func handleGetJob(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid job id")
			return
		}
		view, ok := env.Pacer.Job(id)
		if !ok {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func handleCancelJob(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid job id")
			return
		}
		if !env.Pacer.CancelJob(id) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
	}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps typed pipeline errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	if kind, ok := model.FetchKind(err); ok {
		switch kind {
		case model.FetchInvalidURL:
			writeError(w, http.StatusBadRequest, err.Error())
		case model.FetchAccountBlocked:
			writeError(w, http.StatusForbidden, err.Error())
		case model.FetchNotFound:
			writeError(w, http.StatusNotFound, err.Error())
		case model.FetchTimeout:
			writeError(w, http.StatusGatewayTimeout, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	if kind, ok := model.AnalysisKind(err); ok {
		switch kind {
		case model.AnalysisQuotaExceeded:
			writeError(w, http.StatusTooManyRequests, err.Error())
		case model.AnalysisInvalidRequest:
			writeError(w, http.StatusBadRequest, err.Error())
		case model.AnalysisTimeout:
			writeError(w, http.StatusGatewayTimeout, err.Error())
		case model.AnalysisIncompleteResponse:
			writeError(w, http.StatusBadGateway, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	if errors.Is(err, model.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	zap.L().Error("request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, err.Error())
}
