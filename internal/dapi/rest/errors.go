package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Message identifiers carried in device error payloads. The device reports
// its own identifiers; the ones below are synthesized by this client when
// the device response cannot be used as-is.
const (
	MessageIDClientError          = "error.dapi.client_error"
	MessageIDBrowserError         = "error.dapi.browser_error"
	MessageIDBadRequest           = "error.dapi.bad_request"
	MessageIDNotFound             = "error.dapi.not_found"
	MessageIDInternalServerError  = "error.dapi.internal_server_error"
	MessageIDTemporaryUnavailable = "error.dapi.temporary_unavailable"
	MessageIDUnexpectedResponse   = "error.dapi.unexpected_response"
)

// ErrorDetail is a single error entry from a device response.
type ErrorDetail struct {
	MessageID string `json:"message_id"`
	Message   string `json:"message"`
}

// APIError is the uniform error shape every device call resolves to.
// Code is the HTTP status of the response, or 0 when the request never
// reached the device.
type APIError struct {
	Code   int           `json:"code"`
	Errors []ErrorDetail `json:"errors"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("device api error (code %d)", e.Code)
	}
	ids := make([]string, 0, len(e.Errors))
	for _, d := range e.Errors {
		ids = append(ids, d.MessageID)
	}
	return fmt.Sprintf("device api error (code %d): %s", e.Code, strings.Join(ids, ", "))
}

// First returns the leading error detail, or a zero detail when the list
// is empty.
func (e *APIError) First() ErrorDetail {
	if len(e.Errors) == 0 {
		return ErrorDetail{}
	}
	return e.Errors[0]
}

// AsAPIError unwraps err into an *APIError when one is present in its chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

func newAPIError(code int, messageID, message string) *APIError {
	return &APIError{
		Code:   code,
		Errors: []ErrorDetail{{MessageID: messageID, Message: message}},
	}
}

// ClientError builds a code-0 error for a request that was rejected before
// it was sent.
func ClientError(message string) *APIError {
	return newAPIError(0, MessageIDClientError, message)
}

// BrowserError builds a code-0 error for a precondition that only the
// caller, not the device, can violate.
func BrowserError(message string) *APIError {
	return newAPIError(0, MessageIDBrowserError, message)
}

// errorBody is the error envelope the device returns on failed calls.
type errorBody struct {
	Errors []ErrorDetail `json:"errors"`
}

// normalizeFailure converts a non-2xx response into an APIError. A body
// that parses as the device error envelope is passed through; everything
// else falls back to a synthesized detail keyed off the status code.
func normalizeFailure(status int, body []byte) *APIError {
	if len(body) > 0 {
		var eb errorBody
		if err := json.Unmarshal(body, &eb); err != nil {
			return newAPIError(status, MessageIDClientError, "invalid_json")
		}
		if len(eb.Errors) > 0 {
			return &APIError{Code: status, Errors: eb.Errors}
		}
	}

	switch status {
	case http.StatusBadRequest:
		return newAPIError(status, MessageIDBadRequest, "too_long_uri")
	case http.StatusNotFound:
		return newAPIError(status, MessageIDNotFound, "resource_not_found")
	case http.StatusInternalServerError:
		return newAPIError(status, MessageIDInternalServerError, "unknown_error")
	case http.StatusServiceUnavailable:
		return newAPIError(status, MessageIDTemporaryUnavailable, "system_busy")
	default:
		return newAPIError(status, MessageIDUnexpectedResponse, "unknown_status")
	}
}
