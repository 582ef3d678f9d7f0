package notes

import (
	"encoding/json"
	"fmt"
)

// ErrorCodeRateLimit is the service's quota-exceeded code. The payload
// carries the cooldown in rateLimitDuration (seconds).
const ErrorCodeRateLimit = 19

// ServiceError is a structured error payload from the note service. When it
// crosses an IPC boundary the type is lost and only Error()'s text survives,
// so Error embeds the JSON payload and Classify can recover the fields by
// pattern matching.
type ServiceError struct {
	ErrorCode         int    `json:"errorCode"`
	RateLimitDuration int    `json:"rateLimitDuration,omitempty"`
	Message           string `json:"message,omitempty"`
}

func (e *ServiceError) Error() string {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf("note service error: errorCode=%d", e.ErrorCode)
	}
	return fmt.Sprintf("note service error: %s", payload)
}
