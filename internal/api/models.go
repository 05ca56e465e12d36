package api

import (
	"encoding/json"
	"time"

	"github.com/phrazzld/topicq/internal/domain"
	"github.com/phrazzld/topicq/internal/report"
)

// SweepRequest is the body of the sweep endpoints. Every field is optional.
type SweepRequest struct {
	Loops         int      `json:"loops" validate:"gte=0,lte=100"`
	IntervalMS    int      `json:"interval_ms" validate:"gte=0,lte=60000"`
	Organizations []string `json:"organizations" validate:"omitempty,dive,required"`
}

// SweepResponse returns every iteration together with the aggregate.
type SweepResponse struct {
	Iterations []report.Iteration `json:"iterations"`
	Summary    report.Summary     `json:"summary"`
}

// EnqueueMessageRequest is the body of POST /admin/messages.
type EnqueueMessageRequest struct {
	TopicID          string          `json:"topic_id" validate:"required,max=255"`
	OrganizationCode string          `json:"organization_code" validate:"required,max=64"`
	UserID           string          `json:"user_id" validate:"max=255"`
	ProjectID        string          `json:"project_id" validate:"max=255"`
	PayloadType      string          `json:"payload_type" validate:"required,max=100"`
	Data             json.RawMessage `json:"data"`
	EligibleAt       *time.Time      `json:"eligible_at"`
}

func (r EnqueueMessageRequest) toNewMessage() domain.NewMessage {
	msg := domain.NewMessage{
		TopicID:          r.TopicID,
		OrganizationCode: r.OrganizationCode,
		UserID:           r.UserID,
		ProjectID:        r.ProjectID,
		Payload:          domain.Payload{Type: r.PayloadType, Data: r.Data},
	}
	if r.EligibleAt != nil {
		msg.EligibleAt = r.EligibleAt.UTC()
	}
	return msg
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}
