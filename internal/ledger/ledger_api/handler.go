package ledger_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"ms-contest/internal/ledger"
	"ms-contest/internal/logger"
	"ms-contest/internal/models"
	"ms-contest/internal/share"
	"ms-contest/internal/sse"
	"ms-contest/internal/utils"

	"github.com/go-chi/chi/v5"
)

const maxResultsLimit = 100

type Handler struct {
	Service *ledger.Service
	Emitter *sse.LeaderboardEmitter
	QR      *share.QRGenerator
	Logger  *logger.Logger
}

func NewHandler(svc *ledger.Service, emitter *sse.LeaderboardEmitter, log *logger.Logger) *Handler {
	return &Handler{Service: svc, Emitter: emitter, Logger: log}
}

// writeServiceError maps ledger errors onto status codes
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	var validationErr *models.ValidationError
	switch {
	case errors.As(err, &validationErr):
		utils.WriteError(w, http.StatusBadRequest, "Invalid request", err)
	case errors.Is(err, models.ErrNotFound):
		utils.WriteError(w, http.StatusNotFound, "Contestant not found", err)
	case errors.Is(err, models.ErrAlreadyVoted):
		utils.WriteError(w, http.StatusConflict, "Already voted", err)
	default:
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
		utils.WriteError(w, http.StatusServiceUnavailable, "Storage unavailable", nil)
	}
}

func decodeBallot(r *http.Request) (models.BallotRequest, error) {
	var req models.BallotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, &models.ValidationError{Field: "body", Reason: "invalid JSON: " + err.Error()}
	}
	return req, nil
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Ping(r.Context()); err != nil {
		h.Logger.Error("HEALTH", fmt.Sprintf("Storage ping failed: %v", err))
		utils.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListContestants returns every entry, newest first
func (h *Handler) ListContestants(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Service.ListEntries(r.Context(), models.OrderNewest)
	if err != nil {
		h.writeServiceError(w, "ListContestants", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, entries)
}

// Feed returns the entries the session has not been shown yet, shuffled
func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	session := r.URL.Query().Get("session")
	entries, err := h.Service.FeedFor(r.Context(), session)
	if err != nil {
		h.writeServiceError(w, "Feed", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, entries)
}

// ContestantQR renders a QR code linking to the contestant, for posters and sharing
func (h *Handler) ContestantQR(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeServiceError(w, "ContestantQR", &models.ValidationError{Field: "id", Reason: "must be a positive integer"})
		return
	}
	if _, err := h.Service.GetEntry(r.Context(), id); err != nil {
		h.writeServiceError(w, "ContestantQR", err)
		return
	}

	size := share.DefaultSize
	if raw := r.URL.Query().Get("size"); raw != "" {
		if size, err = strconv.Atoi(raw); err != nil {
			h.writeServiceError(w, "ContestantQR", &models.ValidationError{Field: "size", Reason: "must be an integer"})
			return
		}
	}

	png, err := h.QR.PNG(id, size)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("ContestantQR: encode failed: %v", err))
		utils.WriteError(w, http.StatusInternalServerError, "Could not render QR code", nil)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(png)
}

func (h *Handler) RecordView(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBallot(r)
	if err == nil {
		err = h.Service.RecordExposure(r.Context(), req.ContestantID, req.Session)
	}
	if err != nil {
		h.writeServiceError(w, "RecordView", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("View recorded", nil))
}

func (h *Handler) Vote(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBallot(r)
	if err != nil {
		h.writeServiceError(w, "Vote", err)
		return
	}

	outcome, err := h.Service.CastVote(r.Context(), req.ContestantID, req.Session)
	if err != nil {
		h.writeServiceError(w, "Vote", err)
		return
	}

	resp := models.VoteResponse{Outcome: outcome.String()}
	switch outcome {
	case models.VoteAccepted:
		if votes, err := h.Service.Tally(r.Context(), req.ContestantID); err == nil {
			resp.Votes = votes
		}
		utils.WriteJSON(w, http.StatusOK, resp)
	case models.VoteAlreadyVoted:
		utils.WriteJSON(w, http.StatusConflict, resp)
	default:
		utils.WriteJSON(w, http.StatusNotFound, resp)
	}
}

func (h *Handler) Results(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxResultsLimit {
			h.writeServiceError(w, "Results", &models.ValidationError{
				Field: "limit", Reason: fmt.Sprintf("must be an integer between 1 and %d", maxResultsLimit),
			})
			return
		}
		limit = n
	}

	top, err := h.Service.Top(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, "Results", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, top)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Service.Stats(r.Context())
	if err != nil {
		h.writeServiceError(w, "Stats", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, stats)
}

// ---------------- ADMIN ----------------

func (h *Handler) CreateContestants(w http.ResponseWriter, r *http.Request) {
	var req models.CreateEntriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeServiceError(w, "CreateContestants", &models.ValidationError{Field: "body", Reason: "invalid JSON: " + err.Error()})
		return
	}

	created, err := h.Service.CreateEntries(r.Context(), req.Name, req.Refs())
	if err != nil {
		h.writeServiceError(w, "CreateContestants", err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, models.CreateEntriesResponse{Count: len(created), Contestants: created})
}

func (h *Handler) DeleteContestant(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeServiceError(w, "DeleteContestant", &models.ValidationError{Field: "id", Reason: "must be a positive integer"})
		return
	}
	if err := h.Service.DeleteEntry(r.Context(), id); err != nil {
		h.writeServiceError(w, "DeleteContestant", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Contestant deleted", nil))
}

func (h *Handler) ResetVotes(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.ResetAll(r.Context()); err != nil {
		h.writeServiceError(w, "ResetVotes", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("All votes reset", nil))
}

func (h *Handler) ClearViews(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.ClearExposures(r.Context()); err != nil {
		h.writeServiceError(w, "ClearViews", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Views cleared", nil))
}

func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	report, err := h.Service.Audit(r.Context())
	if err != nil {
		h.writeServiceError(w, "Audit", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, report)
}
