package notifications

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/amodvardhan/notification-engine/internal/domain"
)

var placeholderRe = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Payload keys used when a notification carries its own content.
const (
	PayloadKeySubject = "subject"
	PayloadKeyBody    = "body"
)

// Rendered is the output of template rendering.
type Rendered struct {
	Subject string
	Body    string
}

// Render substitutes {{key}} placeholders in the template's subject and body.
// Unknown keys are left verbatim and values are not escaped.
func Render(tmpl domain.Template, payload map[string]any) Rendered {
	return Rendered{
		Subject: substitute(tmpl.SubjectTemplate, payload),
		Body:    substitute(tmpl.BodyTemplate, payload),
	}
}

// RenderLiteral renders the subject and body carried in the payload itself.
func RenderLiteral(payload map[string]any) Rendered {
	return Rendered{
		Subject: substitute(stringValue(payload, PayloadKeySubject), payload),
		Body:    substitute(stringValue(payload, PayloadKeyBody), payload),
	}
}

func substitute(text string, payload map[string]any) string {
	if text == "" || !strings.Contains(text, "{{") {
		return text
	}
	return placeholderRe.ReplaceAllStringFunc(text, func(match string) string {
		key := strings.TrimSpace(match[2 : len(match)-2])
		v, ok := payload[key]
		if !ok || v == nil {
			return match
		}
		return format(v)
	})
}

func stringValue(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	return format(v)
}

// format prints payload values the way they appeared in the request JSON;
// numbers never use exponent notation.
func format(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	default:
		return fmt.Sprint(v)
	}
}
