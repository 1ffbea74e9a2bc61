package handler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/deaddrop/internal/domain"
	"github.com/kursadbilgin/deaddrop/internal/service"
)

type NoteService interface {
	Create(ctx context.Context, in service.CreateNoteInput) (*domain.Note, error)
	GetByID(ctx context.Context, id string) (*domain.Note, error)
	List(ctx context.Context, in service.ListNotesInput) (*service.NoteList, error)
	Replay(ctx context.Context, id string) (*domain.Note, error)
}

type NoteHandler struct {
	svc NoteService
}

func RegisterNoteRoutes(router fiber.Router, svc NoteService) error {
	if router == nil {
		return errors.New("router is required")
	}
	if svc == nil {
		return errors.New("note service is required")
	}

	h := &NoteHandler{svc: svc}
	router.Post("/notes", h.Create)
	router.Get("/notes", h.List)
	router.Get("/notes/:id", h.GetByID)
	router.Post("/notes/:id/replay", h.Replay)
	return nil
}

type createNoteRequest struct {
	Title      string `json:"title"`
	Body       string `json:"body"`
	ReleaseAt  string `json:"releaseAt"`
	WebhookURL string `json:"webhookUrl"`
}

type createNoteResponse struct {
	ID string `json:"id"`
}

type attemptResponse struct {
	At         time.Time `json:"at"`
	StatusCode int       `json:"statusCode"`
	OK         bool      `json:"ok"`
	Error      *string   `json:"error,omitempty"`
}

type noteResponse struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	ReleaseAt   time.Time         `json:"releaseAt"`
	WebhookURL  string            `json:"webhookUrl"`
	Status      string            `json:"status"`
	Attempts    []attemptResponse `json:"attempts"`
	DeliveredAt *time.Time        `json:"deliveredAt"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

type listNotesResponse struct {
	Data []noteResponse `json:"data"`
	Meta listMeta       `json:"meta"`
}

func (h *NoteHandler) Create(c *fiber.Ctx) error {
	var req createNoteRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	releaseAt, err := time.Parse(time.RFC3339, strings.TrimSpace(req.ReleaseAt))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "releaseAt must be an RFC3339 timestamp")
	}

	note, err := h.svc.Create(c.UserContext(), service.CreateNoteInput{
		Title:      req.Title,
		Body:       req.Body,
		ReleaseAt:  releaseAt,
		WebhookURL: req.WebhookURL,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(createNoteResponse{ID: note.ID})
}

func (h *NoteHandler) List(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	if page < 1 {
		return fiber.NewError(fiber.StatusBadRequest, "page must be >= 1")
	}

	list, err := h.svc.List(c.UserContext(), service.ListNotesInput{
		Status: c.Query("status"),
		Page:   page,
	})
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]noteResponse, 0, len(list.Notes))
	for i := range list.Notes {
		data = append(data, toNoteResponse(&list.Notes[i]))
	}

	return c.JSON(listNotesResponse{
		Data: data,
		Meta: listMeta{Page: list.Page, PageSize: list.PageSize, Total: list.Total},
	})
}

func (h *NoteHandler) GetByID(c *fiber.Ctx) error {
	note, err := h.svc.GetByID(c.UserContext(), c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(toNoteResponse(note))
}

func (h *NoteHandler) Replay(c *fiber.Ctx) error {
	if _, err := h.svc.Replay(c.UserContext(), c.Params("id")); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(fiber.Map{"message": "Note requeued"})
}

func toNoteResponse(n *domain.Note) noteResponse {
	attempts := make([]attemptResponse, 0, len(n.Attempts))
	for _, a := range n.Attempts {
		attempts = append(attempts, attemptResponse{
			At:         a.At,
			StatusCode: a.StatusCode,
			OK:         a.OK,
			Error:      a.Error,
		})
	}

	return noteResponse{
		ID:          n.ID,
		Title:       n.Title,
		Body:        n.Body,
		ReleaseAt:   n.ReleaseAt,
		WebhookURL:  n.WebhookURL,
		Status:      n.Status.String(),
		Attempts:    attempts,
		DeliveredAt: n.DeliveredAt,
		CreatedAt:   n.CreatedAt,
		UpdatedAt:   n.UpdatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, "note not found")
	case errors.Is(err, domain.ErrNotReplayable):
		return fiber.NewError(fiber.StatusConflict, domain.ErrNotReplayable.Error())
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrInvalidTransition):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
