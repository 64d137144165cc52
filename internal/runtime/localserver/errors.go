package localserver

import (
	"fmt"

	"github.com/drblury/funcflow/internal/runtime/jsoncodec"
)

// InvocationFailedError carries the error payload the runtime posted to
// /runtime/invocation/error.
type InvocationFailedError struct {
	RequestID string
	Payload   []byte
}

// ErrorPayload is the decoded {"errorType","errorMessage"} body.
type ErrorPayload struct {
	ErrorType    string `json:"errorType"`
	ErrorMessage string `json:"errorMessage"`
}

// Decode parses the payload. Payloads that are not the expected JSON object
// come back with the raw text as the message.
func (e *InvocationFailedError) Decode() ErrorPayload {
	var p ErrorPayload
	if err := jsoncodec.Unmarshal(e.Payload, &p); err != nil || p.ErrorType == "" {
		return ErrorPayload{ErrorType: "InvocationFailed", ErrorMessage: string(e.Payload)}
	}
	return p
}

func (e *InvocationFailedError) Error() string {
	p := e.Decode()
	return fmt.Sprintf("funcflow: invocation %s failed: %s: %s", e.RequestID, p.ErrorType, p.ErrorMessage)
}

func (e *InvocationFailedError) ErrorType() string { return e.Decode().ErrorType }

type requestMismatchError struct {
	want string
	got  string
}

func (e *requestMismatchError) Error() string {
	return fmt.Sprintf("funcflow: report for request %q but %q is active", e.got, e.want)
}

// pollRejectedError is returned when the runtime polls while a cycle is
// already parked or in flight.
type pollRejectedError struct {
	state State
}

func (e *pollRejectedError) Error() string {
	return fmt.Sprintf("funcflow: runtime poll rejected while local server is %s", e.state)
}
