// Package response renders handler results: entity snapshots on
// success, a {"detail": ...} body on failure, and byte-exact replays of
// idempotency-cached responses. Every response echoes the correlation
// id header.
package response

import (
	"errors"
	"net/http"

	"payrail/pkg/apperror"
	"payrail/pkg/correlation"

	"github.com/gin-gonic/gin"
)

// HeaderCorrelationID is echoed on every response.
const HeaderCorrelationID = "X-Correlation-Id"

// ErrorBody is the failure envelope.
type ErrorBody struct {
	Detail string `json:"detail"`
}

func echoCorrelation(c *gin.Context) {
	c.Header(HeaderCorrelationID, correlation.FromContext(c.Request.Context()))
}

// JSON sends data with the given status.
func JSON(c *gin.Context, status int, data any) {
	echoCorrelation(c)
	c.JSON(status, data)
}

// OK sends a 200 response with data.
func OK(c *gin.Context, data any) { JSON(c, http.StatusOK, data) }

// Created sends a 201 response with data.
func Created(c *gin.Context, data any) { JSON(c, http.StatusCreated, data) }

// Raw replays a previously serialized JSON body, preserving the
// original status code. Used for idempotent replays.
func Raw(c *gin.Context, status int, body []byte) {
	echoCorrelation(c)
	c.Data(status, "application/json", body)
}

// Error maps err to its HTTP status and a {"detail": ...} body.
// Non-AppError values surface as 500 with a generic detail.
func Error(c *gin.Context, err error) {
	echoCorrelation(c)
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.HTTPStatus, ErrorBody{Detail: appErr.Detail})
		return
	}
	c.JSON(http.StatusInternalServerError, ErrorBody{Detail: "Internal server error"})
}
