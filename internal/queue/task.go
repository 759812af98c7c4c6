package queue

import (
	"encoding/json"
	"fmt"
)

type TaskType string

const (
	TaskTypeDeliberate TaskType = "deliberate"
)

// Task is one deliberation handed from the API server to a worker. It
// carries everything the engine needs, since the session only exists in
// the status registry until its audit trail is written.
type Task struct {
	TaskType        TaskType
	SessionID       int64
	Question        string
	Participants    []string
	ChairmanModelID *string
	TraceID         *string
	Attempt         int
}

func encodeParticipants(ids []string) (string, error) {
	body, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("encoding participants: %w", err)
	}
	return string(body), nil
}

func decodeParticipants(raw string) ([]string, error) {
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("decoding participants: %w", err)
	}
	return ids, nil
}
