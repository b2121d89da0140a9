// Package api exposes the settlement and admin surfaces over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	serrors "github.com/axleworks/settler/common/errors"
)

// ProblemDetails is the RFC 7807 error body every failed request returns.
type ProblemDetails struct {
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Status    int       `json:"status"`
	Detail    string    `json:"detail"`
	Instance  string    `json:"instance,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const problemTypeBase = "https://api.axleworks.io/errors/"

// writeProblem maps a settlement error kind onto an HTTP status and writes
// the problem body. The detail carries the error chain verbatim so the true
// rejection reason is never masked by the transport.
func writeProblem(c *gin.Context, err error) {
	kind := serrors.KindOf(err)
	var status int
	var slug, title string
	switch kind {
	case serrors.KindValidation:
		status, slug, title = http.StatusBadRequest, "validation-error", "Validation Error"
	case serrors.KindAuthorization:
		status, slug, title = http.StatusForbidden, "forbidden", "Forbidden"
	case serrors.KindStateConflict:
		status, slug, title = http.StatusConflict, "state-conflict", "State Conflict"
	case serrors.KindExternalCall:
		status, slug, title = http.StatusBadGateway, "external-call-failure", "External Call Failure"
	case serrors.KindInvariant:
		status, slug, title = http.StatusUnprocessableEntity, "invariant-violation", "Invariant Violation"
	default:
		status, slug, title = http.StatusInternalServerError, "internal-error", "Internal Error"
	}
	c.Header("Content-Type", "application/problem+json")
	c.JSON(status, ProblemDetails{
		Type:      problemTypeBase + slug,
		Title:     title,
		Status:    status,
		Detail:    err.Error(),
		Instance:  c.Request.URL.Path,
		Timestamp: time.Now().UTC(),
	})
}

func writeBadRequest(c *gin.Context, detail string) {
	c.Header("Content-Type", "application/problem+json")
	c.JSON(http.StatusBadRequest, ProblemDetails{
		Type:      problemTypeBase + "bad-request",
		Title:     "Bad Request",
		Status:    http.StatusBadRequest,
		Detail:    detail,
		Instance:  c.Request.URL.Path,
		Timestamp: time.Now().UTC(),
	})
}
