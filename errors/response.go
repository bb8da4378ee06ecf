package errors

import (
	"errors"
	"time"
)

// Body is the error object inside the response envelope.
type Body struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Details   []string  `json:"details,omitempty"`
}

// Response is the JSON envelope returned for every failed request.
type Response struct {
	Success bool `json:"success"`
	Error   Body `json:"error"`
}

// NewResponse builds the envelope for err and returns it with its HTTP status.
// Internal details never reach the message.
func NewResponse(err error, now time.Time) (int, Response) {
	status, code, message := Classify(err)
	body := Body{Code: code, Message: message, Timestamp: now.UTC()}
	var ve *ViolationError
	if errors.As(err, &ve) {
		body.Details = append([]string(nil), ve.Violations...)
	}
	return status, Response{Success: false, Error: body}
}
