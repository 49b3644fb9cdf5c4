package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"
)

// SpecRelPath is the location of the API contract relative to the module root.
const SpecRelPath = "api/openapi/openapi.yaml"

const apiPrefix = "/api/v1/"

// OpenAPIValidator checks API traffic against the OpenAPI contract and the
// {"data": ...} / {"error": {...}} envelope every /api/v1 route uses.
type OpenAPIValidator struct {
	router routers.Router
}

// SpecPath walks up from the working directory to the module root and
// returns the absolute path of the API contract.
func SpecPath(t *testing.T) string {
	t.Helper()

	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		candidate := filepath.Join(dir, SpecRelPath)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("%s not found above the working directory", SpecRelPath)
		}
		dir = parent
	}
}

// NewOpenAPIValidator loads the contract at specPath or fails the test.
func NewOpenAPIValidator(t *testing.T, specPath string) *OpenAPIValidator {
	t.Helper()

	v, err := LoadOpenAPIValidator(specPath)
	if err != nil {
		t.Fatalf("load OpenAPI validator: %v", err)
	}
	return v
}

// LoadOpenAPIValidator loads and validates the contract at specPath.
func LoadOpenAPIValidator(specPath string) (*OpenAPIValidator, error) {
	loader := openapi3.NewLoader()

	doc, err := loader.LoadFromFile(specPath)
	if err != nil {
		return nil, fmt.Errorf("load OpenAPI spec from %s: %w", specPath, err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validate OpenAPI spec: %w", err)
	}

	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("create OpenAPI router: %w", err)
	}

	return &OpenAPIValidator{router: router}, nil
}

// skip reports paths that serve plain text or documents rather than JSON.
func skip(path string) bool {
	switch path {
	case "/healthz", "/readyz", "/api/openapi.yaml", "/docs":
		return true
	}
	return false
}

// ValidateResponse reports contract or envelope violations for resp.
// The response body is read and restored.
func (v *OpenAPIValidator) ValidateResponse(t *testing.T, req *http.Request, resp *http.Response) {
	t.Helper()

	if skip(req.URL.Path) {
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Errorf("read response body: %v", err)
		return
	}
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))

	if err := v.checkContract(req, resp, body); err != nil {
		t.Errorf("OpenAPI: %s %s (status %d): %s\nResponse body: %s",
			req.Method, req.URL.Path, resp.StatusCode, shorten(err.Error(), 500), shorten(string(body), 200))
	}

	if strings.HasPrefix(req.URL.Path, apiPrefix) {
		if err := checkEnvelope(resp.StatusCode, body); err != nil {
			t.Errorf("envelope: %s %s (status %d): %v", req.Method, req.URL.Path, resp.StatusCode, err)
		}
	}
}

func (v *OpenAPIValidator) checkContract(req *http.Request, resp *http.Response, body []byte) error {
	// The legacy router matches on the path alone, without the test server host.
	routeReq, err := http.NewRequest(req.Method, req.URL.Path, nil)
	if err != nil {
		return fmt.Errorf("create route request: %w", err)
	}
	route, pathParams, err := v.router.FindRoute(routeReq)
	if err != nil {
		return fmt.Errorf("no route: %w", err)
	}

	return openapi3filter.ValidateResponse(context.Background(), &openapi3filter.ResponseValidationInput{
		RequestValidationInput: &openapi3filter.RequestValidationInput{
			Request:    req,
			PathParams: pathParams,
			Route:      route,
			Options:    &openapi3filter.Options{AuthenticationFunc: openapi3filter.NoopAuthenticationFunc},
		},
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   io.NopCloser(bytes.NewReader(body)),
		Options: &openapi3filter.Options{
			MultiError:            true,
			IncludeResponseStatus: true,
		},
	})
}

// checkEnvelope requires "data" on successful bodies and "error.message" on failures.
func checkEnvelope(status int, body []byte) error {
	if len(bytes.TrimSpace(body)) == 0 {
		if status == http.StatusNoContent {
			return nil
		}
		return errors.New("empty body")
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("body is not a JSON object: %w", err)
	}

	if status < 400 {
		if _, ok := envelope["data"]; !ok {
			return errors.New(`missing "data"`)
		}
		return nil
	}

	var e struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(envelope["error"], &e); err != nil || e.Message == "" {
		return errors.New(`missing "error.message"`)
	}
	return nil
}

func shorten(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
