package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	appI18n "github.com/pavelanni/rater/internal/i18n"
	"github.com/pavelanni/rater/internal/metrics"
	"github.com/pavelanni/rater/internal/model"
	"github.com/pavelanni/rater/internal/persist"
	"github.com/pavelanni/rater/internal/session"
)

// Handler holds shared dependencies for HTTP handlers and the live sessions.
type Handler struct {
	machine *session.Machine
	store   *persist.Facade
	now     func() time.Time

	mu   sync.Mutex
	live map[string]*liveSession
}

// liveSession is the one in-memory session of a rater.
type liveSession struct {
	mu    sync.Mutex
	guard session.InFlight
	s     *model.Session
	// gone is set under mu when the entry leaves the live map. Nothing writes a
	// gone session to a store.
	gone bool
}

// New creates a new Handler.
func New(m *session.Machine, p *persist.Facade) *Handler {
	return &Handler{machine: m, store: p, now: time.Now, live: map[string]*liveSession{}}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/sessions", h.handleLogin)
	r.Route("/sessions/{userID}", func(r chi.Router) {
		r.Get("/", h.handleCurrent)
		r.Delete("/", h.handleReset)
		r.Post("/answers", h.handleAnswer)
		r.Post("/prev", h.handlePrev)
		r.Put("/dataset/{datasetKey}", h.handleSelectDataset)
		r.Get("/export", h.handleExport)
	})
}

// VisitLive calls write for every live session while holding that session's
// lock. It is the autosaver's visit function.
func (h *Handler) VisitLive(write persist.WriteFunc) {
	h.mu.Lock()
	entries := make(map[string]*liveSession, len(h.live))
	for id, ls := range h.live {
		entries[id] = ls
	}
	h.mu.Unlock()

	for id, ls := range entries {
		ls.mu.Lock()
		if ls.s != nil && !ls.gone {
			data, err := json.Marshal(ls.s)
			if err != nil {
				slog.Error("failed to encode session", "user", id, "error", err)
			} else {
				_ = write(id, data)
			}
		}
		ls.mu.Unlock()
	}
}

type loginRequest struct {
	UserID     string `json:"user_id"`
	Meta       string `json:"meta"`
	SampleSize int    `json:"sample_size"`
}

type answerRequest struct {
	CaseID       string           `json:"case_id"`
	Scores       map[string]int   `json:"scores"`
	OverallScore int              `json:"overall_score"`
	Hardness     model.Hardness   `json:"hardness"`
	CoTQuality   model.CoTQuality `json:"cot_quality"`
	Comment      string           `json:"comment"`
	ShowGT       bool             `json:"show_gt"`
}

type saveStatus struct {
	Local  bool `json:"local"`
	Remote bool `json:"remote"`
}

type viewResponse struct {
	Message   string            `json:"message,omitempty"`
	Remaining string            `json:"remaining,omitempty"`
	Advanced  bool              `json:"advanced,omitempty"`
	Saved     *saveStatus       `json:"saved,omitempty"`
	Source    persist.Source    `json:"source,omitempty"`
	View      *session.CaseView `json:"view,omitempty"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, appI18n.T(r.Context(), "BadRequest"), err)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		writeError(w, r, http.StatusUnprocessableEntity, appI18n.T(r.Context(), "UserIDRequired"),
			&model.ValidationError{Fields: []string{"user_id"}})
		return
	}

	ls := h.entry(req.UserID)
	ls.mu.Lock()
	for ls.gone {
		ls.mu.Unlock()
		ls = h.entry(req.UserID)
		ls.mu.Lock()
	}
	defer ls.mu.Unlock()

	existing := ls.s
	var source persist.Source
	if existing == nil {
		stored, src, err := h.store.Load(r.Context(), req.UserID)
		switch {
		case err == nil:
			existing, source = stored, src
		case errors.Is(err, model.ErrNotFound):
		default:
			// A stored session may exist; a fresh one would overwrite it on save.
			slog.Warn("could not load stored session", "user", req.UserID, "error", err)
			h.drop(req.UserID, ls)
			h.fail(w, r, err)
			return
		}
	}

	s, err := h.machine.Login(r.Context(), existing, req.UserID, req.Meta, req.SampleSize)
	if err != nil {
		if ls.s == nil {
			h.drop(req.UserID, ls)
		}
		h.fail(w, r, err)
		return
	}
	ls.s = s
	if existing != nil {
		h.checkSources(r.Context(), s)
	}

	res := h.store.Save(r.Context(), s)
	v := h.machine.Current(s)
	writeJSON(w, http.StatusOK, viewResponse{
		Remaining: remaining(r.Context(), s),
		Saved:     &saveStatus{Local: res.Local == nil, Remote: res.Remote == nil},
		Source:    source,
		View:      &v,
	})
}

func (h *Handler) handleCurrent(w http.ResponseWriter, r *http.Request) {
	ls, ok := h.acquire(chi.URLParam(r, "userID"))
	if !ok {
		h.fail(w, r, model.ErrNotFound)
		return
	}
	defer ls.mu.Unlock()
	v := h.machine.Current(ls.s)
	writeJSON(w, http.StatusOK, viewResponse{Remaining: remaining(r.Context(), ls.s), View: &v})
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	ls, ok := h.lookup(chi.URLParam(r, "userID"))
	if !ok {
		h.fail(w, r, model.ErrNotFound)
		return
	}
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, appI18n.T(r.Context(), "BadRequest"), err)
		return
	}

	if err := ls.guard.Acquire(); err != nil {
		h.fail(w, r, err)
		return
	}
	defer ls.guard.Release()
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.gone || ls.s == nil {
		h.fail(w, r, model.ErrNotFound)
		return
	}
	s := ls.s

	kind := ""
	if p := s.ViewPhase(); p != nil {
		kind = string(p.Kind)
	}
	a := model.Answer{
		OverallScore: req.OverallScore,
		Hardness:     req.Hardness,
		CoTQuality:   req.CoTQuality,
		Comment:      req.Comment,
		ShowGT:       req.ShowGT,
	}
	if len(req.Scores) > 0 {
		scores, err := h.machine.ResolveLabels(s, req.CaseID, req.Scores)
		if err != nil {
			h.countValidation(err, kind)
			h.fail(w, r, err)
			return
		}
		a.Scores = scores
	}

	out, err := h.machine.RecordAnswer(s, req.CaseID, a)
	if err != nil {
		h.countValidation(err, kind)
		h.fail(w, r, err)
		return
	}
	outcome := "new"
	if out.Updated {
		outcome = "updated"
	}
	metrics.AnswersSaved.WithLabelValues(kind, outcome).Inc()

	res := h.store.Save(r.Context(), s)
	msg := appI18n.T(r.Context(), "Saved")
	switch {
	case res.Local != nil && res.Remote != nil:
		msg = appI18n.T(r.Context(), "SaveFailed")
	case res.Remote != nil:
		msg = appI18n.T(r.Context(), "SavedLocally")
	}
	if out.Advanced {
		metrics.PhaseTransitions.WithLabelValues(string(out.To)).Inc()
		if out.To == model.StatusComplete {
			msg = appI18n.T(r.Context(), "AllComplete")
		} else {
			msg = appI18n.Td(r.Context(), "PhaseComplete", map[string]any{"Phase": s.Phases[s.Stage-1].Name})
		}
	}

	v := h.machine.Current(s)
	writeJSON(w, http.StatusOK, viewResponse{
		Message:   msg,
		Remaining: remaining(r.Context(), s),
		Advanced:  out.Advanced,
		Saved:     &saveStatus{Local: res.Local == nil, Remote: res.Remote == nil},
		View:      &v,
	})
}

func (h *Handler) handlePrev(w http.ResponseWriter, r *http.Request) {
	ls, ok := h.acquire(chi.URLParam(r, "userID"))
	if !ok {
		h.fail(w, r, model.ErrNotFound)
		return
	}
	defer ls.mu.Unlock()

	var msg string
	if h.machine.Prev(ls.s) {
		_ = h.store.SaveLocal(r.Context(), ls.s)
	} else {
		msg = appI18n.T(r.Context(), "AtFirstCase")
	}
	v := h.machine.Current(ls.s)
	writeJSON(w, http.StatusOK, viewResponse{Message: msg, View: &v})
}

func (h *Handler) handleSelectDataset(w http.ResponseWriter, r *http.Request) {
	ls, ok := h.acquire(chi.URLParam(r, "userID"))
	if !ok {
		h.fail(w, r, model.ErrNotFound)
		return
	}
	defer ls.mu.Unlock()

	if err := h.machine.SelectDataset(ls.s, chi.URLParam(r, "datasetKey")); err != nil {
		h.fail(w, r, err)
		return
	}
	_ = h.store.SaveLocal(r.Context(), ls.s)
	v := h.machine.Current(ls.s)
	writeJSON(w, http.StatusOK, viewResponse{View: &v})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var doc model.ExportDocument
	if ls, ok := h.acquire(userID); ok {
		doc = h.export(ls.s)
		ls.mu.Unlock()
	} else {
		s, _, err := h.store.Load(r.Context(), userID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		doc = h.export(s)
	}
	w.Header().Set("Content-Disposition", `attachment; filename="ratings_`+userID+`.json"`)
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	h.mu.Lock()
	ls := h.live[userID]
	delete(h.live, userID)
	metrics.ActiveSessions.Set(float64(len(h.live)))
	h.mu.Unlock()

	// The delete runs under the session lock, so no answer or autosave can
	// write the session back afterwards.
	if ls != nil {
		ls.mu.Lock()
		defer ls.mu.Unlock()
		ls.gone = true
		ls.s = nil
	}
	if err := h.store.Delete(r.Context(), userID); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewResponse{Message: appI18n.T(r.Context(), "SessionReset")})
}

func (h *Handler) export(s *model.Session) model.ExportDocument {
	return model.BuildExport(s, h.machine.Manifest().Models, uuid.NewString(), h.now().UTC())
}

// entry returns the live slot for userID, creating an empty one.
func (h *Handler) entry(userID string) *liveSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	ls, ok := h.live[userID]
	if !ok {
		ls = &liveSession{}
		h.live[userID] = ls
		metrics.ActiveSessions.Set(float64(len(h.live)))
	}
	return ls
}

// lookup returns the live session for userID once it has logged in.
func (h *Handler) lookup(userID string) (*liveSession, bool) {
	h.mu.Lock()
	ls, ok := h.live[userID]
	h.mu.Unlock()
	if !ok {
		return nil, false
	}
	ls.mu.Lock()
	ready := ls.s != nil && !ls.gone
	ls.mu.Unlock()
	return ls, ready
}

// acquire returns the live session for userID with its lock held. ok is false,
// and no lock is held, when there is no logged-in session.
func (h *Handler) acquire(userID string) (*liveSession, bool) {
	h.mu.Lock()
	ls, ok := h.live[userID]
	h.mu.Unlock()
	if !ok {
		return nil, false
	}
	ls.mu.Lock()
	if ls.gone || ls.s == nil {
		ls.mu.Unlock()
		return nil, false
	}
	return ls, true
}

// drop retires ls and removes it from the live map. The caller holds ls.mu.
func (h *Handler) drop(userID string, ls *liveSession) {
	ls.gone = true
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.live[userID] == ls {
		delete(h.live, userID)
		metrics.ActiveSessions.Set(float64(len(h.live)))
	}
}

func (h *Handler) checkSources(ctx context.Context, s *model.Session) {
	drifted, err := h.machine.CheckSources(ctx, s)
	if err != nil {
		slog.Warn("could not re-read dataset sources", "user", s.User.ID, "error", err)
		return
	}
	for _, key := range drifted {
		slog.Warn("dataset changed since sampling; keeping stored cases", "user", s.User.ID, "dataset", key)
	}
}

func (h *Handler) countValidation(err error, kind string) {
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		metrics.ValidationFailures.WithLabelValues(kind).Inc()
	}
}

func remaining(ctx context.Context, s *model.Session) string {
	done, total := s.Progress()
	if total == 0 {
		return ""
	}
	return appI18n.Tp(ctx, "CasesRemaining", total-done)
}
