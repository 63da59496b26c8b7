package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
)

const TypeDeleteArtifact = "artifact:delete"

// DeleteArtifactPayload names a temporary artifact whose inline deletion
// failed and must be retried out of band.
type DeleteArtifactPayload struct {
	ObjectKey   string    `json:"object_key"`
	RequestedAt time.Time `json:"requested_at"`
}

func NewDeleteArtifactTask(payload DeleteArtifactPayload) (*asynq.Task, error) {
	if strings.TrimSpace(payload.ObjectKey) == "" {
		return nil, fmt.Errorf("object key is required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal delete payload: %w", err)
	}
	return asynq.NewTask(TypeDeleteArtifact, body), nil
}

func ParseDeleteArtifactPayload(task *asynq.Task) (DeleteArtifactPayload, error) {
	var payload DeleteArtifactPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return DeleteArtifactPayload{}, fmt.Errorf("unmarshal delete payload: %w", err)
	}
	if strings.TrimSpace(payload.ObjectKey) == "" {
		return DeleteArtifactPayload{}, fmt.Errorf("delete payload has no object key")
	}
	return payload, nil
}
