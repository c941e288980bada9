package httpx

import (
	"errors"
	"net/http"

	"github.com/meridian-hr/meridian-hr/internal/platform/db"
	"github.com/meridian-hr/meridian-hr/internal/shared"
)

// RespondError maps domain errors to RFC7807 problem responses.
func RespondError(w http.ResponseWriter, err error) {
	var de *shared.DomainError
	if errors.As(err, &de) {
		Problem(w, statusForKind(de.Kind), de.Code, de.Message)
		return
	}
	if errors.Is(err, db.ErrVersionConflict) {
		Problem(w, http.StatusConflict, "VERSION_CONFLICT", "the record was updated by another user; reload and retry")
		return
	}
	Problem(w, http.StatusInternalServerError, "INTERNAL", "")
}

func statusForKind(kind shared.Kind) int {
	switch kind {
	case shared.KindBadRequest:
		return http.StatusBadRequest
	case shared.KindUnauthorized:
		return http.StatusUnauthorized
	case shared.KindForbidden, shared.KindMonthClosed:
		return http.StatusForbidden
	case shared.KindNotFound:
		return http.StatusNotFound
	case shared.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
