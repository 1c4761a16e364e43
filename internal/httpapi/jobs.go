package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/paulgrammer/surveyd/internal/chat"
	"github.com/paulgrammer/surveyd/internal/jobs"
	"github.com/paulgrammer/surveyd/internal/survey"
)

const defaultRunsLimit = 20

func (r *router) handleChat(w http.ResponseWriter, req *http.Request) {
	var body chat.Request
	if err := decodeJSON(w, req, &body); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid json")
		return
	}
	respondWithJSON(w, http.StatusOK, r.Assistant.Handle(body))
}

func (r *router) handleStartMapping(w http.ResponseWriter, req *http.Request) {
	var body jobs.StartRequest
	if err := decodeJSON(w, req, &body); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid json")
		return
	}

	run, err := r.Mapping.Start(body)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			r.Logger.Error("failed to start mapping", "date", body.DateFolder, "error", err)
		}
		respondWithError(w, status, err.Error())
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]string{
		"job_id": run.ID,
		"date":   run.DateFolder,
		"status": string(run.State),
	})
}

func (r *router) handleMappingStatus(w http.ResponseWriter, req *http.Request) {
	respondWithJSON(w, http.StatusOK, r.Mapping.Status())
}

func (r *router) handleMappingRuns(w http.ResponseWriter, req *http.Request) {
	limit := defaultRunsLimit
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := r.Mapping.History(limit)
	if err != nil {
		r.Logger.Error("failed to list runs", "error", err)
		respondWithError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []jobs.Run{}
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (r *router) handleSurveyRequest(w http.ResponseWriter, req *http.Request) {
	var body survey.Request
	if err := decodeJSON(w, req, &body); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid json")
		return
	}
	body.CreatedAt = r.Now()

	res, err := r.Surveys.Submit(req.Context(), body)
	if err != nil {
		if errors.Is(err, survey.ErrEmptyMessage) {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		r.Logger.Error("failed to record survey request", "error", err)
		respondWithError(w, http.StatusInternalServerError, "failed to record request")
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}
