package httpx

import "net/http"

// Status codes used by handlers and tests, re-exported so callers only
// import httpx.
const (
	StatusOK                 = http.StatusOK
	StatusCreated            = http.StatusCreated
	StatusNoContent          = http.StatusNoContent
	StatusBadRequest         = http.StatusBadRequest
	StatusUnauthorized       = http.StatusUnauthorized // missing or invalid credential
	StatusForbidden          = http.StatusForbidden    // authenticated, lacks role
	StatusNotFound           = http.StatusNotFound
	StatusConflict           = http.StatusConflict
	StatusTooManyRequests    = http.StatusTooManyRequests
	StatusInternalError      = http.StatusInternalServerError
	StatusServiceUnavailable = http.StatusServiceUnavailable
	StatusGatewayTimeout     = http.StatusGatewayTimeout
)
