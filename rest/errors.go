package rest

import "fmt"

// RateLimitingFailedError is raised once a request has been requeued past
// its retry budget without ever being admitted.
type RateLimitingFailedError struct {
	Route        Route
	LastResponse *Response
}

func (e *RateLimitingFailedError) Error() string {
	return fmt.Sprintf("rest: %s %s exceeded rate-limit retry budget", e.Route.Method, e.Route.Path())
}

// HTTPRequestStatusError is the base shape for every non-2xx, non-429
// response the engine surfaces to the caller.
type HTTPRequestStatusError struct {
	Route      Route
	StatusCode int
	Body       []byte
}

func (e *HTTPRequestStatusError) Error() string {
	return fmt.Sprintf("rest: %s %s returned status %d", e.Route.Method, e.Route.Path(), e.StatusCode)
}

// BadRequestError wraps a 400 response with its body attached, per spec,
// since callers generally need the validation error payload.
type BadRequestError struct{ *HTTPRequestStatusError }

// UnauthorizedError wraps a 401 response.
type UnauthorizedError struct{ *HTTPRequestStatusError }

// ForbiddenError wraps a 403 response.
type ForbiddenError struct{ *HTTPRequestStatusError }

// NotFoundError wraps a 404 response.
type NotFoundError struct{ *HTTPRequestStatusError }

// InternalServerError wraps a 5xx response that persisted past retries.
type InternalServerError struct{ *HTTPRequestStatusError }

func classifyStatus(route Route, status int, body []byte) error {
	base := &HTTPRequestStatusError{Route: route, StatusCode: status, Body: body}
	switch status {
	case 400:
		return &BadRequestError{base}
	case 401:
		return &UnauthorizedError{base}
	case 403:
		return &ForbiddenError{base}
	case 404:
		return &NotFoundError{base}
	default:
		if status >= 500 {
			return &InternalServerError{base}
		}
		return base
	}
}
