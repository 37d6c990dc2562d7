package anthropic

import (
	"errors"
	"net/http"

	sdk "github.com/anthropics/anthropic-sdk-go"
)

// StatusCode returns the HTTP status of an API error, or 0 when err did not
// come from an API response.
func StatusCode(err error) int {
	if apiErr := apiError(err); apiErr != nil {
		return apiErr.StatusCode
	}
	return 0
}

// ResponseHeader returns the headers of an API error response, or nil.
// Rate-limit replies carry Retry-After here.
func ResponseHeader(err error) http.Header {
	if apiErr := apiError(err); apiErr != nil && apiErr.Response != nil {
		return apiErr.Response.Header
	}
	return nil
}

func apiError(err error) *sdk.Error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return nil
}
