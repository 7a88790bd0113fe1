// Package api implements the admin HTTP API for the harvester scheduler.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error codes returned alongside the message, matching the recovery
// middleware's body.
const (
	codeBadRequest = "BAD_REQUEST"
	codeNotFound   = "NOT_FOUND"
	codeInternal   = "INTERNAL_ERROR"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{Error: message, Code: code})
}

func respondNotFound(c *gin.Context, resource string) {
	respondError(c, http.StatusNotFound, codeNotFound, resource+" not found")
}

func respondBadRequest(c *gin.Context, message string) {
	respondError(c, http.StatusBadRequest, codeBadRequest, message)
}

func respondInternalError(c *gin.Context, message string) {
	respondError(c, http.StatusInternalServerError, codeInternal, message)
}
