package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/pairlink/core"
)

// writeError maps domain errors to a status code, a stable error slug and a
// message meant for the user.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	slug := "internal"
	body := gin.H{}

	var verr *core.VerificationError
	switch {
	case errors.As(err, &verr):
		status, slug = http.StatusUnauthorized, "verification_failed"
		body["attempts_remaining"] = verr.Remaining
	case errors.Is(err, core.ErrProviderUnavailable):
		status, slug = http.StatusServiceUnavailable, "provider_unavailable"
	case errors.Is(err, core.ErrSessionExpired):
		status, slug = http.StatusGone, "session_expired"
	case errors.Is(err, core.ErrUpstreamUnavailable):
		status, slug = http.StatusBadGateway, "upstream_unavailable"
	case errors.Is(err, core.ErrInvalidCode):
		status, slug = http.StatusBadRequest, "invalid_code"
	case errors.Is(err, core.ErrSubmissionInFlight):
		status, slug = http.StatusConflict, "submission_in_flight"
	case errors.Is(err, core.ErrInvalidState), errors.Is(err, core.ErrSessionClosed):
		status, slug = http.StatusConflict, "invalid_state"
	case errors.Is(err, core.ErrFlowNotFound), errors.Is(err, core.ErrSessionNotFound):
		status, slug = http.StatusNotFound, "not_found"
	case errors.Is(err, core.ErrUnsupportedChain):
		status, slug = http.StatusBadRequest, "unsupported_chain"
	case errors.Is(err, core.ErrInvalidAddress), errors.Is(err, core.ErrInvalidSignature):
		status, slug = http.StatusUnauthorized, "invalid_approval"
	}

	body["error"] = slug
	body["message"] = core.UserMessage(err)
	c.JSON(status, body)
}
