package httpx

import (
	"net/http"
	"strconv"

	apperrors "github.com/quantmatrix/taskplane/internal/errors"
)

// parseIntQuery returns the integer value of a query param or a default.
// It is tolerant of missing/invalid values.
func parseIntQuery(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// ParseLimitOffset parses common pagination params and clamps to sane bounds.
// - defLimit: default limit when not specified
// - maxLimit: maximum allowed limit (values > maxLimit are clamped to maxLimit).
func ParseLimitOffset(r *http.Request, defLimit, maxLimit int) (int, int) {
	// Defensive: ensure maxLimit is at least 1 to avoid clamping to 0 or negatives
	if maxLimit < 1 {
		maxLimit = 1
	}

	lim := parseIntQuery(r, "limit", defLimit)
	off := parseIntQuery(r, "offset", 0)
	if lim < 1 {
		lim = 1
	}
	if lim > maxLimit {
		lim = maxLimit
	}
	if off < 0 {
		off = 0
	}
	return lim, off
}

// writeServiceError maps application error codes onto HTTP statuses and
// writes the standard error body.
func writeServiceError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	errCode := "internal_error"
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeValidation:
		code, errCode = http.StatusBadRequest, "validation_failed"
	case apperrors.ErrCodeNotFound:
		code, errCode = http.StatusNotFound, "not_found"
	case apperrors.ErrCodeConflict:
		code, errCode = http.StatusConflict, "conflict"
	case apperrors.ErrCodeUnauthorized:
		code, errCode = http.StatusUnauthorized, "authentication_required"
	case apperrors.ErrCodeForbidden:
		code, errCode = http.StatusForbidden, "insufficient_permissions"
	}
	WriteError(w, ErrorParams{Code: code, ErrCode: errCode, Err: err})
}
