package notifications

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/amodvardhan/notification-engine/internal/domain"
	"github.com/amodvardhan/notification-engine/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrNotificationNotFound, Status: http.StatusNotFound, Message: "notification not found"},
	{Error: ErrTemplateNotFound, Status: http.StatusNotFound, Message: "template not found"},
	{Error: ErrInvalidChannel, Status: http.StatusBadRequest},
	{Error: ErrInvalidRecipient, Status: http.StatusBadRequest},
}

// Handler handles HTTP requests for the notifications module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new notifications handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers notification and template routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/notifications", func(r chi.Router) {
		r.Post("/", h.Enqueue)
		r.Get("/{id}", h.GetNotification)
		r.Get("/{id}/logs", h.ListLogs)
	})

	r.Route("/templates", func(r chi.Router) {
		r.Get("/", h.ListTemplates)
		r.Put("/", h.UpsertTemplate)
	})
}

// EnqueueRequest represents request body for enqueueing a notification.
type EnqueueRequest struct {
	Recipient    string         `json:"recipient" validate:"required"`
	Channel      string         `json:"channel" validate:"required,oneof=email sms push"`
	TemplateName string         `json:"template_name" validate:"omitempty,max=255"`
	Payload      map[string]any `json:"payload"`
	ScheduledAt  *time.Time     `json:"scheduled_at"`
}

// EnqueueResponse is returned when a notification is accepted.
type EnqueueResponse struct {
	NotificationID string                    `json:"notification_id"`
	Status         domain.NotificationStatus `json:"status"`
	ScheduledAt    *time.Time                `json:"scheduled_at,omitempty"`
}

// UpsertTemplateRequest represents request body for creating or replacing a template.
type UpsertTemplateRequest struct {
	Name            string `json:"name" validate:"required,max=255"`
	Channel         string `json:"channel" validate:"required,oneof=email sms push"`
	SubjectTemplate string `json:"subject_template"`
	BodyTemplate    string `json:"body_template" validate:"required"`
}

// Enqueue handles POST /notifications.
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	n, err := h.service.Enqueue(r.Context(), EnqueueInput{
		Recipient:    req.Recipient,
		Channel:      domain.Channel(req.Channel),
		TemplateName: req.TemplateName,
		Payload:      req.Payload,
		ScheduledAt:  req.ScheduledAt,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusAccepted, EnqueueResponse{
		NotificationID: n.ID,
		Status:         n.Status,
		ScheduledAt:    n.ScheduledAt,
	})
}

// GetNotification handles GET /notifications/{id}.
func (h *Handler) GetNotification(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.GetNotification(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, n)
}

// ListLogs handles GET /notifications/{id}/logs.
func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.service.ListLogs(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, logs)
}

// ListTemplates handles GET /templates.
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.service.ListTemplates(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, templates)
}

// UpsertTemplate handles PUT /templates.
func (h *Handler) UpsertTemplate(w http.ResponseWriter, r *http.Request) {
	var req UpsertTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	t, err := h.service.UpsertTemplate(r.Context(), TemplateInput{
		Name:            req.Name,
		Channel:         domain.Channel(req.Channel),
		SubjectTemplate: req.SubjectTemplate,
		BodyTemplate:    req.BodyTemplate,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, t)
}
