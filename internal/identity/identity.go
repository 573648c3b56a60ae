// Package identity resolves the calling user on protected routes.
//
// Authentication itself lives in the upstream session layer; by the time
// a request reaches this service the caller has already been verified and
// the trusted proxy injects the user id as a header. This middleware only
// parses and exposes that id.
package identity

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Header carries the authenticated user id, set by the upstream layer.
const Header = "X-User-ID"

const contextKey = "callerUserID"

// Middleware requires a valid user id header and stores it on the context.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(Header)
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthenticated",
				"message": "Missing or invalid " + Header + " header",
			})
			return
		}
		c.Set(contextKey, id)
		c.Next()
	}
}

// CallerID returns the authenticated user id set by Middleware.
// Returns 0 if the middleware did not run on this route.
func CallerID(c *gin.Context) int64 {
	return c.GetInt64(contextKey)
}
