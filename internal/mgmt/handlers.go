package mgmt

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/portfolio-agent/internal/domain"
	perrors "github.com/p-blackswan/portfolio-agent/internal/errors"
	"github.com/p-blackswan/portfolio-agent/internal/health"
	"github.com/p-blackswan/portfolio-agent/internal/ledger"
	"github.com/p-blackswan/portfolio-agent/internal/orchestrator"
	"github.com/p-blackswan/portfolio-agent/internal/store"
)

// Portfolio is the orchestrator surface the API drives.
type Portfolio interface {
	Snapshot() domain.Graph
	Info() orchestrator.Info
	Submit(ctx context.Context, turnID, author string, raws []json.RawMessage, strict bool) (orchestrator.Report, error)
	Resume(ctx context.Context, turnID, reply string) (orchestrator.Report, error)
	Abandon(ctx context.Context, turnID string) (orchestrator.Report, error)
	Undo(ctx context.Context, turnID string, index int) (ledger.UndoResult, error)
	Import(ctx context.Context, g domain.Graph, mode orchestrator.ImportMode) (domain.Graph, error)
}

// AuditReader lists audit log entries.
type AuditReader interface {
	ListAudit(ctx context.Context, limit int) ([]store.AuditEntry, error)
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	engine    *TurnEngine
	portfolio Portfolio
	checker   *health.Checker
	audit     AuditReader
	logger    zerolog.Logger
	startTime time.Time
	version   string
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(engine *TurnEngine, portfolio Portfolio, checker *health.Checker, logger zerolog.Logger) *Handlers {
	return &Handlers{
		engine:    engine,
		portfolio: portfolio,
		checker:   checker,
		logger:    logger.With().Str("component", "handlers").Logger(),
		startTime: time.Now(),
		version:   "1.0.0",
	}
}

// SetAuditReader enables GET /api/v1/audit.
func (h *Handlers) SetAuditReader(a AuditReader) {
	h.audit = a
}

// SubmitTurn handles POST /api/v1/turns.
func (h *Handlers) SubmitTurn(c *fiber.Ctx) error {
	var req SubmitTurnRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.Message == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_message", "Bad Request",
			"Message is required")
	}
	if req.Author == "" {
		req.Author = PrincipalName(c)
	}

	job, err := h.engine.Submit(req)
	if err != nil {
		return problemResponse(c, fiber.StatusServiceUnavailable,
			"queue_full", "Service Unavailable",
			err.Error())
	}

	c.Location("/api/v1/turns/" + job.ID)
	return c.Status(fiber.StatusAccepted).JSON(SubmitTurnResponse{ID: job.ID, Status: job.Status})
}

// ListTurns handles GET /api/v1/turns.
func (h *Handlers) ListTurns(c *fiber.Ctx) error {
	var q ListTurnsQuery
	if err := c.QueryParser(&q); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_query", "Bad Request",
			"Invalid query parameters: "+err.Error())
	}

	turns, total := h.engine.List(q)
	if turns == nil {
		turns = []*TurnJob{}
	}
	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return c.JSON(TurnListResponse{Turns: turns, Total: total, Limit: limit, Offset: q.Offset})
}

// GetTurn handles GET /api/v1/turns/:id.
func (h *Handlers) GetTurn(c *fiber.Ctx) error {
	id := c.Params("id")
	job, ok := h.engine.Get(id)
	if !ok {
		return problemResponse(c, fiber.StatusNotFound,
			"turn_not_found", "Not Found",
			"Turn not found: "+id)
	}
	return c.JSON(TurnResponse{Turn: job})
}

// ResumeTurn handles POST /api/v1/turns/:id/resume.
func (h *Handlers) ResumeTurn(c *fiber.Ctx) error {
	var req ResumeRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.Reply == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_reply", "Bad Request",
			"Reply is required")
	}

	report, err := h.portfolio.Resume(c.UserContext(), utils.CopyString(c.Params("id")), req.Reply)
	if err != nil {
		return problemFromError(c, err)
	}
	return c.JSON(report)
}

// CancelTurn handles DELETE /api/v1/turns/:id. A pending turn is cancelled;
// a suspended turn has its remaining actions abandoned.
func (h *Handlers) CancelTurn(c *fiber.Ctx) error {
	id := utils.CopyString(c.Params("id"))
	if job, ok := h.engine.Get(id); ok && job.Status == JobPending {
		job, err := h.engine.Cancel(id)
		if err != nil {
			return problemResponse(c, fiber.StatusConflict,
				"invalid_state", "Conflict",
				err.Error())
		}
		return c.JSON(TurnResponse{Turn: job})
	}

	report, err := h.portfolio.Abandon(c.UserContext(), id)
	if err != nil {
		return problemFromError(c, err)
	}
	return c.JSON(report)
}

// UndoAction handles POST /api/v1/turns/:id/actions/:index/undo.
func (h *Handlers) UndoAction(c *fiber.Ctx) error {
	index, err := c.ParamsInt("index")
	if err != nil || index < 0 {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_index", "Bad Request",
			"Action index must be a non-negative integer")
	}

	res, err := h.portfolio.Undo(c.UserContext(), utils.CopyString(c.Params("id")), index)
	if err != nil {
		return problemFromError(c, err)
	}
	return c.JSON(UndoResponse{
		Undone:        res.Entry.Undone,
		AlreadyUndone: res.AlreadyUndone,
		Entry:         res.Entry,
	})
}

// SubmitBatch handles POST /api/v1/batches: validate and execute an action
// list directly, without the model.
func (h *Handlers) SubmitBatch(c *fiber.Ctx) error {
	var req BatchRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if len(req.Actions) == 0 {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_actions", "Bad Request",
			"At least one action is required")
	}
	if req.TurnID == "" {
		req.TurnID = uuid.New().String()
	}
	if req.Author == "" {
		req.Author = PrincipalName(c)
	}

	report, err := h.portfolio.Submit(c.UserContext(), req.TurnID, req.Author, req.Actions, false)
	if err != nil {
		return problemFromError(c, err)
	}
	return c.JSON(report)
}

// ListProjects handles GET /api/v1/projects.
func (h *Handlers) ListProjects(c *fiber.Ctx) error {
	g := h.portfolio.Snapshot()
	if g.Projects == nil {
		g.Projects = []domain.Project{}
	}
	if g.People == nil {
		g.People = []domain.Person{}
	}
	return c.JSON(ProjectListResponse{Projects: g.Projects, People: g.People})
}

// GetProject handles GET /api/v1/projects/:id.
func (h *Handlers) GetProject(c *fiber.Ctx) error {
	id := c.Params("id")
	g := h.portfolio.Snapshot()
	p := g.Project(id)
	if p == nil {
		return problemResponse(c, fiber.StatusNotFound,
			"project_not_found", "Not Found",
			"Project not found: "+id)
	}
	return c.JSON(p)
}

// Export handles GET /api/v1/export.
func (h *Handlers) Export(c *fiber.Ctx) error {
	g := h.portfolio.Snapshot()
	c.Attachment("portfolio.json")
	return c.JSON(g)
}

// Import handles POST /api/v1/import?mode=replace|merge.
func (h *Handlers) Import(c *fiber.Ctx) error {
	mode, err := orchestrator.ParseImportMode(c.Query("mode"))
	if err != nil {
		return problemFromError(c, err)
	}

	var g domain.Graph
	if err := c.BodyParser(&g); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid portfolio document: "+err.Error())
	}

	next, err := h.portfolio.Import(c.UserContext(), g, mode)
	if err != nil {
		return problemFromError(c, err)
	}
	return c.JSON(ImportResponse{Mode: mode, Projects: len(next.Projects), People: len(next.People)})
}

// State handles GET /api/v1/state.
func (h *Handlers) State(c *fiber.Ctx) error {
	return c.JSON(h.portfolio.Info())
}

// ListAudit handles GET /api/v1/audit.
func (h *Handlers) ListAudit(c *fiber.Ctx) error {
	if h.audit == nil {
		return problemResponse(c, fiber.StatusNotImplemented,
			"audit_unavailable", "Not Implemented",
			"No audit log is configured")
	}
	entries, err := h.audit.ListAudit(c.UserContext(), c.QueryInt("limit", 100))
	if err != nil {
		return problemFromError(c, err)
	}
	if entries == nil {
		entries = []store.AuditEntry{}
	}
	return c.JSON(fiber.Map{"entries": entries})
}

// TurnStats handles GET /api/v1/turns/stats.
func (h *Handlers) TurnStats(c *fiber.Ctx) error {
	return c.JSON(h.engine.Stats())
}

// HealthDetail handles GET /api/v1/health.
func (h *Handlers) HealthDetail(c *fiber.Ctx) error {
	results := h.checker.RunAll(c.UserContext())

	integrations := make(map[string]string, len(results))
	overall := "ok"
	for name, status := range results {
		integrations[name] = string(status)
		if status == health.StatusDown {
			overall = "degraded"
		}
	}

	return c.JSON(HealthDetailResponse{
		Status:       overall,
		Integrations: integrations,
		Uptime:       time.Since(h.startTime).Round(time.Second).String(),
		Version:      h.version,
	})
}

// problemFromError maps domain errors onto RFC 7807 responses.
func problemFromError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, perrors.ErrNotFound):
		return problemResponse(c, fiber.StatusNotFound, "not_found", "Not Found", err.Error())
	case errors.Is(err, perrors.ErrHasDependents):
		return problemResponse(c, fiber.StatusConflict, "has_dependents", "Conflict", err.Error())
	case errors.Is(err, perrors.ErrConflict):
		return problemResponse(c, fiber.StatusConflict, "conflict", "Conflict", err.Error())
	case errors.Is(err, perrors.ErrSuspended):
		return problemResponse(c, fiber.StatusConflict, "batch_suspended", "Conflict", err.Error())
	case errors.Is(err, perrors.ErrNotSuspended):
		return problemResponse(c, fiber.StatusConflict, "not_suspended", "Conflict", err.Error())
	case errors.Is(err, perrors.ErrBusy):
		return problemResponse(c, fiber.StatusConflict, "busy", "Conflict", err.Error())
	case errors.Is(err, perrors.ErrInvalidInput):
		return problemResponse(c, fiber.StatusBadRequest, "invalid_input", "Bad Request", err.Error())
	}
	return problemResponse(c, fiber.StatusInternalServerError, "internal_error", "Internal Server Error", err.Error())
}
