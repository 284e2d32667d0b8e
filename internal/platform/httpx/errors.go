package httpx

import (
	"errors"
	"net/http"
)

// Classified errors that domain packages wrap their sentinels with so handlers
// can map them to a status without importing every sibling package.
var (
	ErrNotFound   = errors.New("resource not found")
	ErrConflict   = errors.New("conflicting state")
	ErrValidation = errors.New("validation failed")
)

// RespondError maps a classified error to an RFC7807 response. Unclassified
// errors are treated as internal faults and their detail withheld.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
