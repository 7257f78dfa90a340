// Package handler provides HTTP handlers for the VPS manager API.
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"nfcunha/vpsmanager/core/auth"
	"nfcunha/vpsmanager/utils/apperr"
	"nfcunha/vpsmanager/utils/docker"

	"github.com/gin-gonic/gin"
)

// claimsKey is the gin context key holding the authenticated *auth.Claims.
const claimsKey = "claims"

// respondError answers with the status derived from err and the helios
// {error, detail} body.
func respondError(c *gin.Context, message string, err error) {
	c.JSON(apperr.HTTPStatus(err), gin.H{
		"error":  message,
		"detail": err.Error(),
	})
}

// respondEngineFailure answers a failed mutating action. Validation errors
// are 400; anything else is a 500 carrying the translated Engine error.
func respondEngineFailure(c *gin.Context, err error) {
	if errors.Is(err, apperr.ErrInvalidInput) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "Invalid action",
			"detail": err.Error(),
		})
		return
	}

	t := docker.Translate(err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":      t.Error,
		"details":    t.Details,
		"suggestion": t.Suggestion,
		"stackTrace": errorChain(err),
	})
}

// errorChain lists err and every error it wraps, outermost first.
func errorChain(err error) []string {
	var chain []string
	for err != nil {
		chain = append(chain, err.Error())
		err = errors.Unwrap(err)
	}
	return chain
}

// claims returns the authenticated caller, or nil on public routes.
func claims(c *gin.Context) *auth.Claims {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil
	}
	cl, _ := v.(*auth.Claims)
	return cl
}

// userID returns the authenticated caller's id, or "" when anonymous.
func userID(c *gin.Context) string {
	if cl := claims(c); cl != nil {
		return cl.ID
	}
	return ""
}

// queryInt reads a positive integer query parameter, falling back to def.
func queryInt(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
