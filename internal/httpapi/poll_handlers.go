package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"pollhub.org/internal/audit"
	"pollhub.org/internal/auth"
	"pollhub.org/internal/obs"
	"pollhub.org/internal/poll"
)

type pollRequest struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

type voteRequest struct {
	OptionIndex *int `json:"option_index"`
}

func (a *API) issueCSRF(w http.ResponseWriter, r *http.Request) {
	if a.csrf == nil {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	token, err := a.csrf.Issue(w)
	if err != nil {
		obs.Logger().WithField("request_id", RequestIDFromContext(r.Context())).WithError(err).Error("csrf issue failed")
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]any{"csrf_token": token})
}

func (a *API) listPolls(w http.ResponseWriter, r *http.Request) {
	polls, err := a.polls.ListPolls(r.Context())
	if err != nil {
		a.handlePollError(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]any{"polls": polls})
}

func (a *API) listMyPolls(w http.ResponseWriter, r *http.Request) {
	polls, err := a.polls.ListUserPolls(r.Context(), callerID(r))
	if err != nil {
		a.handlePollError(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]any{"polls": polls})
}

func (a *API) getPoll(w http.ResponseWriter, r *http.Request) {
	p, err := a.polls.GetPoll(r.Context(), chi.URLParam(r, "pollID"))
	if err != nil {
		a.handlePollError(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]any{"poll": p})
}

func (a *API) pollResults(w http.ResponseWriter, r *http.Request) {
	res, err := a.polls.Results(r.Context(), chi.URLParam(r, "pollID"))
	if err != nil {
		a.handlePollError(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]any{"results": res})
}

func (a *API) createPoll(w http.ResponseWriter, r *http.Request) {
	var req pollRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := a.polls.CreatePoll(r.Context(), callerID(r), req.Question, req.Options)
	if err != nil {
		a.handlePollError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "poll.created", map[string]any{
		"poll_id": p.ID,
		"options": len(p.Options),
	})
	writeResult(w, http.StatusCreated, map[string]any{"poll": p})
}

func (a *API) updatePoll(w http.ResponseWriter, r *http.Request) {
	var req pollRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := a.polls.UpdatePoll(r.Context(), callerID(r), chi.URLParam(r, "pollID"), req.Question, req.Options)
	if err != nil {
		a.handlePollError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "poll.updated", map[string]any{"poll_id": p.ID})
	writeResult(w, http.StatusOK, map[string]any{"poll": p})
}

func (a *API) deletePoll(w http.ResponseWriter, r *http.Request) {
	pollID := chi.URLParam(r, "pollID")
	if err := a.polls.DeletePoll(r.Context(), callerID(r), pollID); err != nil {
		a.handlePollError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "poll.deleted", map[string]any{"poll_id": pollID})
	writeResult(w, http.StatusOK, nil)
}

func (a *API) submitVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	idx := -1
	if req.OptionIndex != nil {
		idx = *req.OptionIndex
	}
	v, err := a.polls.SubmitVote(r.Context(), chi.URLParam(r, "pollID"), callerID(r), idx)
	if err != nil {
		obs.ObserveVote(voteOutcome(err))
		a.handlePollError(w, r, err)
		return
	}
	obs.ObserveVote("accepted")
	_ = audit.LogEvent(r.Context(), "vote.submitted", map[string]any{
		"poll_id":      v.PollID,
		"vote_id":      v.ID,
		"option_index": v.OptionIndex,
	})
	writeResult(w, http.StatusCreated, map[string]any{"vote": v})
}

func callerID(r *http.Request) string {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}

func voteOutcome(err error) string {
	switch {
	case errors.Is(err, poll.ErrDuplicateVote):
		return "duplicate"
	case errors.Is(err, poll.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, poll.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, poll.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// handlePollError maps the poll error taxonomy onto HTTP. Messages of the
// caller-facing errors are passed through; store failures are logged and
// reported generically.
func (a *API) handlePollError(w http.ResponseWriter, r *http.Request, err error) {
	var perr *poll.PersistenceError
	switch {
	case errors.Is(err, poll.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, poll.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, poll.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, poll.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, poll.ErrDuplicateVote):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.As(err, &perr):
		obs.Logger().WithFields(logrus.Fields{
			"request_id": RequestIDFromContext(r.Context()),
			"op":         perr.Op,
		}).WithError(perr.Err).Error("store failure")
		writeError(w, r, http.StatusInternalServerError, "Something went wrong. Please try again.")
	default:
		obs.Logger().WithField("request_id", RequestIDFromContext(r.Context())).WithError(err).Error("unhandled poll error")
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// writeResult emits the {"error": null, ...} success envelope.
func writeResult(w http.ResponseWriter, code int, payload map[string]any) {
	body := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	body["error"] = nil
	writeJSON(w, code, body)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
