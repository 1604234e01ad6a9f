package httpadapter

import (
	"net/http"

	"github.com/avatarkit/vrmforge/internal/core/domain"
)

// mapErrorToHTTPStatus translates domain error kinds into response codes.
// Stage failures carry no kind and fall through to 500; the envelope adds
// the stage tag separately.
func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrJobNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrArtifactNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
