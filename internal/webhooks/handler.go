package webhooks

import (
	"encoding/json"
	"net/http"

	"github.com/amodvardhan/notification-engine/internal/domain"
	"github.com/amodvardhan/notification-engine/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrSubscriptionNotFound, Status: http.StatusNotFound, Message: "subscription not found"},
	{Error: ErrInvalidURL, Status: http.StatusBadRequest},
	{Error: ErrInvalidEventType, Status: http.StatusBadRequest},
}

// Handler handles HTTP requests for webhook subscriptions and event ingestion.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new webhooks handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers subscription routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/webhooks/subscriptions", func(r chi.Router) {
		r.Get("/", h.ListSubscriptions)
		r.Post("/", h.Subscribe)
		r.Delete("/{id}", h.Unsubscribe)
	})
}

// RegisterEventRoutes registers the event ingestion route.
func (h *Handler) RegisterEventRoutes(r chi.Router) {
	r.Post("/events/ingest", h.Ingest)
}

// SubscribeRequest represents request body for creating a subscription.
type SubscribeRequest struct {
	URL       string `json:"url" validate:"required,url"`
	EventType string `json:"event_type" validate:"required,max=255"`
	Secret    string `json:"secret" validate:"omitempty,max=1024"`
}

// IngestRequest represents request body for ingesting an event.
type IngestRequest struct {
	EventType      string         `json:"event_type" validate:"required,max=255"`
	NotificationID string         `json:"notification_id" validate:"omitempty,uuid"`
	Data           map[string]any `json:"data"`
}

// IngestResponse is returned when an event is accepted for fan-out.
type IngestResponse struct {
	EventID   string           `json:"event_id"`
	EventType domain.EventType `json:"event_type"`
}

// Subscribe handles POST /webhooks/subscriptions.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	sub, err := h.service.Subscribe(r.Context(), SubscribeInput{
		URL:       req.URL,
		EventType: domain.EventType(req.EventType),
		Secret:    req.Secret,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, sub)
}

// ListSubscriptions handles GET /webhooks/subscriptions.
func (h *Handler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.service.ListSubscriptions(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, subs)
}

// Unsubscribe handles DELETE /webhooks/subscriptions/{id}.
func (h *Handler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Unsubscribe(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Ingest handles POST /events/ingest.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	event, err := h.service.Ingest(r.Context(), IngestInput{
		EventType:      domain.EventType(req.EventType),
		NotificationID: req.NotificationID,
		Data:           req.Data,
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusAccepted, IngestResponse{
		EventID:   event.ID,
		EventType: event.Type,
	})
}
