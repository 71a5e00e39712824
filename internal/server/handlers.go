package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/inkwell-ai/inkwell/internal/model"
	"github.com/inkwell-ai/inkwell/internal/service/assumptions"
	"github.com/inkwell-ai/inkwell/internal/service/drafts"
)

// Pinger reports storage connectivity for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	sessions  *assumptions.Service
	drafts    *drafts.Resolver
	pinger    Pinger
	logger    *slog.Logger
	startedAt time.Time
	version   string
	maxBody   int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
type HandlersDeps struct {
	Sessions *assumptions.Service
	Drafts   *drafts.Resolver
	Pinger   Pinger
	Logger   *slog.Logger
	Version  string
	MaxBody  int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		sessions:  d.Sessions,
		drafts:    d.Drafts,
		pinger:    d.Pinger,
		logger:    d.Logger,
		startedAt: time.Now(),
		version:   d.Version,
		maxBody:   d.MaxBody,
	}
}

// HandleStartSession handles POST /v1/sessions.
func (h *Handlers) HandleStartSession(w http.ResponseWriter, r *http.Request) {
	var req model.StartSessionRequest
	if err := decodeJSON(r, &req, h.maxBody); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", "invalid request body: "+err.Error())
		return
	}
	if req.SectionID == "" || req.DocumentID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_body", "section_id and document_id are required")
		return
	}

	res, err := h.sessions.Start(r.Context(), assumptions.StartInput{
		SectionID:       req.SectionID,
		DocumentID:      req.DocumentID,
		TemplateVersion: req.TemplateVersion,
		StartedBy:       req.StartedBy,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, res)
}

// HandleGetSession handles GET /v1/sessions/{session_id}.
func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathUUID(w, r, "session_id")
	if !ok {
		return
	}
	session, prompts, err := h.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"session": session,
		"prompts": prompts,
	})
}

// HandleRespond handles POST /v1/assumptions/{assumption_id}/respond.
func (h *Handlers) HandleRespond(w http.ResponseWriter, r *http.Request) {
	assumptionID, ok := pathUUID(w, r, "assumption_id")
	if !ok {
		return
	}

	var req model.RespondRequest
	if err := decodeJSON(r, &req, h.maxBody); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", "invalid request body: "+err.Error())
		return
	}
	action, err := assumptions.ParseAction(req.Action)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	res, err := h.sessions.Respond(r.Context(), assumptionID, action, req.ActorID, assumptions.ActionPayload{
		Answer:                req.Answer,
		Notes:                 req.Notes,
		OverrideJustification: req.OverrideJustification,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// HandleCreateProposal handles POST /v1/sessions/{session_id}/proposals.
func (h *Handlers) HandleCreateProposal(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathUUID(w, r, "session_id")
	if !ok {
		return
	}

	var req model.CreateProposalRequest
	if err := decodeJSON(r, &req, h.maxBody); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", "invalid request body: "+err.Error())
		return
	}

	proposal, err := h.sessions.CreateProposal(r.Context(), sessionID, req.Source, req.ActorID, req.DraftOverride)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, proposal)
}

// HandleListProposals handles GET /v1/sessions/{session_id}/proposals.
func (h *Handlers) HandleListProposals(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathUUID(w, r, "session_id")
	if !ok {
		return
	}
	proposals, err := h.sessions.ListProposals(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, proposals)
}

// HandleCancelStream handles POST /v1/sessions/{session_id}/stream/cancel.
func (h *Handlers) HandleCancelStream(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathUUID(w, r, "session_id")
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason,omitempty"`
	}
	// Body is optional for cancellation.
	_ = decodeJSON(r, &req, h.maxBody)

	res := h.sessions.CancelStreaming(sessionID, req.Reason)
	writeJSON(w, r, http.StatusOK, res)
}

// HandleSaveDraftCheck handles POST /v1/sections/{section_id}/draft-save-check.
func (h *Handlers) HandleSaveDraftCheck(w http.ResponseWriter, r *http.Request) {
	sectionID := r.PathValue("section_id")

	var req model.SaveDraftCheckRequest
	if err := decodeJSON(r, &req, h.maxBody); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", "invalid request body: "+err.Error())
		return
	}

	res, err := h.drafts.CheckOnSave(r.Context(), sectionID, req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// HandleSaveDraft handles PUT /v1/sections/{section_id}/draft.
func (h *Handlers) HandleSaveDraft(w http.ResponseWriter, r *http.Request) {
	sectionID := r.PathValue("section_id")

	var req model.SaveDraftRequest
	if err := decodeJSON(r, &req, h.maxBody); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", "invalid request body: "+err.Error())
		return
	}

	draft, err := h.drafts.SaveDraft(r.Context(), model.Draft{
		SectionID:             sectionID,
		DraftVersion:          req.DraftVersion,
		DraftBaseVersion:      req.DraftBaseVersion,
		ContentMarkdown:       req.ContentMarkdown,
		FormattingAnnotations: req.FormattingAnnotations,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, draft)
}

// HandleGetDraft handles GET /v1/sections/{section_id}/draft.
func (h *Handlers) HandleGetDraft(w http.ResponseWriter, r *http.Request) {
	draft, err := h.drafts.GetDraft(r.Context(), r.PathValue("section_id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, draft)
}

// HandleConflictLog handles GET /v1/sections/{section_id}/conflicts.
func (h *Handlers) HandleConflictLog(w http.ResponseWriter, r *http.Request) {
	entries, err := h.drafts.ConflictLog(r.Context(), r.PathValue("section_id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, entries)
}

// HandleUpsertSection handles PUT /v1/sections/{section_id}.
func (h *Handlers) HandleUpsertSection(w http.ResponseWriter, r *http.Request) {
	sectionID := r.PathValue("section_id")

	var req model.UpsertSectionRequest
	if err := decodeJSON(r, &req, h.maxBody); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", "invalid request body: "+err.Error())
		return
	}

	section := model.Section{
		ID:              sectionID,
		DocumentID:      req.DocumentID,
		ApprovedVersion: req.ApprovedVersion,
		ApprovedContent: req.ApprovedContent,
	}
	if err := h.drafts.UpdateApprovedSection(r.Context(), section); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, section)
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	storageStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.pinger.Ping(r.Context()); err != nil {
		storageStatus = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, r, httpStatus, model.HealthResponse{
		Status:        status,
		Version:       h.version,
		Storage:       storageStatus,
		ActiveStreams: h.sessions.ActiveStreams(),
		Uptime:        int64(time.Since(h.startedAt).Seconds()),
	})
}

// pathUUID parses a UUID path segment, writing a 400 on failure.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_id", "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
