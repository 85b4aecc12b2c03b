package spot

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Exchange error codes the engine reacts to.
const (
	CodeTimestampSkew = -1021
)

// APIError is an exchange-side rejection decoded from the response body.
type APIError struct {
	HTTPStatus int
	Code       int    `json:"code"`
	Msg        string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance error %d (http %d): %s", e.Code, e.HTTPStatus, e.Msg)
}

// parseAPIError decodes the error body; falls back to a generic APIError
// when the body is not the usual {code, msg} shape.
func parseAPIError(httpStatus int, body []byte) *APIError {
	apiErr := &APIError{HTTPStatus: httpStatus}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Msg == "" && apiErr.Code == 0 {
		apiErr.Msg = string(body)
	}
	return apiErr
}

// IsTimestampSkew reports whether err is the -1021 recvWindow rejection.
func IsTimestampSkew(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeTimestampSkew
}

// IsTransient reports whether a failed call is worth retrying: network
// errors, 5xx responses, and timestamp skew. Hard rejects (filters,
// permissions, bad signature) are not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatus >= 500 || apiErr.Code == CodeTimestampSkew
	}
	// Anything that never reached the exchange (dial, timeout) is transient.
	return true
}
