package domain

import "time"

// Template is a named, per-channel message template with {{key}} placeholders.
type Template struct {
	Name            string    `json:"name"`
	Channel         Channel   `json:"channel"`
	SubjectTemplate string    `json:"subject_template"`
	BodyTemplate    string    `json:"body_template"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
