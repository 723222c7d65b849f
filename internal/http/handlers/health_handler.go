package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health returns a liveness handler that reports the service name.
//
// @ID          health
// @Summary     Liveness probe
// @Tags        Health
// @Produce     json
// @Success     200  {object}  handlers.StatusResponse
// @Router      /health [get]
func Health(service string) gin.HandlerFunc {
	body := StatusResponse{Status: "ok", Message: service + " is running"}
	return func(c *gin.Context) {
		ok(c, http.StatusOK, body)
	}
}
