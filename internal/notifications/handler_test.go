package notifications_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/amodvardhan/notification-engine/internal/notifications"
	"github.com/amodvardhan/notification-engine/internal/notifications/memory"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter() http.Handler {
	r := chi.NewRouter()
	notifications.NewHandler(notifications.NewService(memory.NewRepository(), nil, nil)).RegisterRoutes(r)
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Details any    `json:"details"`
	} `json:"error"`
}

func TestHandler_EnqueueAndGet(t *testing.T) {
	h := newTestRouter()

	rec := doJSON(t, h, http.MethodPost, "/notifications", map[string]any{
		"recipient": "user@example.com",
		"channel":   "email",
		"payload":   map[string]any{"subject": "s", "body": "b"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var created struct {
		Data notifications.EnqueueResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.NotEmpty(t, created.Data.NotificationID)
	assert.Equal(t, "pending", string(created.Data.Status))

	rec = doJSON(t, h, http.MethodGet, "/notifications/"+created.Data.NotificationID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"recipient":"user@example.com"`)
	assert.NotContains(t, rec.Body.String(), "claim_token")

	rec = doJSON(t, h, http.MethodGet, "/notifications/"+created.Data.NotificationID+"/logs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[]}`, rec.Body.String())
}

func TestHandler_EnqueueErrors(t *testing.T) {
	h := newTestRouter()

	tests := []struct {
		name    string
		body    any
		raw     string
		message string
	}{
		{name: "invalid json", raw: "{", message: "invalid json"},
		{name: "missing recipient", body: map[string]any{"channel": "sms"}, message: "validation error"},
		{name: "unknown channel", body: map[string]any{"recipient": "x", "channel": "fax"}, message: "validation error"},
		{name: "bad email", body: map[string]any{"recipient": "nope", "channel": "email"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rec *httptest.ResponseRecorder
			if tt.raw != "" {
				req := httptest.NewRequest(http.MethodPost, "/notifications", bytes.NewBufferString(tt.raw))
				rec = httptest.NewRecorder()
				h.ServeHTTP(rec, req)
			} else {
				rec = doJSON(t, h, http.MethodPost, "/notifications", tt.body)
			}

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var body errorBody
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.NotEmpty(t, body.Error.Message)
			if tt.message != "" {
				assert.Equal(t, tt.message, body.Error.Message)
			}
		})
	}
}

func TestHandler_NotFound(t *testing.T) {
	h := newTestRouter()

	rec := doJSON(t, h, http.MethodGet, "/notifications/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":{"message":"notification not found"}}`, rec.Body.String())

	rec = doJSON(t, h, http.MethodGet, "/notifications/does-not-exist/logs", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_Templates(t *testing.T) {
	h := newTestRouter()

	rec := doJSON(t, h, http.MethodPut, "/templates", map[string]any{
		"name":             "welcome",
		"channel":          "email",
		"subject_template": "Hi {{name}}",
		"body_template":    "Welcome {{name}}",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPut, "/templates", map[string]any{"name": "x", "channel": "email"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "body_template is required")

	rec = doJSON(t, h, http.MethodGet, "/templates", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Data []struct {
			Name    string `json:"name"`
			Channel string `json:"channel"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, "welcome", list.Data[0].Name)
	assert.Equal(t, "email", list.Data[0].Channel)
}
