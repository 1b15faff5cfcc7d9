package api

import (
	"time"

	"github.com/starford/mnemo/internal/answer"
	"github.com/starford/mnemo/internal/models"
	"github.com/starford/mnemo/internal/retrieval"
)

// CaptureRequest is the request body for POST /api/capture.
type CaptureRequest struct {
	Content    string            `json:"content" example:"git push origin main" validate:"required"`
	SourceType models.SourceType `json:"source_type" example:"shell" validate:"required"`
	Context    models.Context    `json:"context"`
	Timestamp  *time.Time        `json:"timestamp,omitempty"`
}

// AskRequest is the request body for POST /api/ask.
type AskRequest struct {
	Question string     `json:"question" example:"how did I deploy to staging?" validate:"required"`
	Cwd      string     `json:"cwd,omitempty" example:"/home/me/src/api"`
	Since    *time.Time `json:"since,omitempty"`
	Until    *time.Time `json:"until,omitempty"`
	Window   string     `json:"window,omitempty" example:"week" enums:"today,yesterday,week,month"`
}

func (r AskRequest) options(now time.Time) ([]answer.AskOption, error) {
	q := retrieval.Query{Cwd: r.Cwd}
	if r.Since != nil {
		q.Since = *r.Since
	}
	if r.Until != nil {
		q.Until = *r.Until
	}
	if err := q.SetWindow(r.Window, now); err != nil {
		return nil, err
	}
	var opts []answer.AskOption
	if q.Cwd != "" {
		opts = append(opts, answer.WithCwd(q.Cwd))
	}
	if !q.Since.IsZero() || !q.Until.IsZero() {
		opts = append(opts, answer.WithWindow(q.Since, q.Until))
	}
	return opts, nil
}

// PrivacyRuleRequest adds or removes one privacy rule.
type PrivacyRuleRequest struct {
	Category string `json:"category" example:"contains" validate:"required"`
	Pattern  string `json:"pattern" example:"password" validate:"required"`
}

// EntryListResponse wraps entry listings.
type EntryListResponse struct {
	Entries []models.Entry `json:"entries" validate:"required"`
	Count   int            `json:"count" validate:"required"`
}

// CleanResponse reports a data wipe.
type CleanResponse struct {
	Deleted int `json:"deleted" validate:"required"`
}
