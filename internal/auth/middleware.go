package auth

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	ClientIDHeader = "X-Client-ID"
	ClientIDQuery  = "client_id" // websocket upgrades cannot set headers from browsers
	clientIDKey    = "client_id"
)

var clientIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,64}$`)

// identifies the caller by X-Client-ID (or ?client_id=) and adds it to context;
// callers without one are keyed by their address
func ClientMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(ClientIDHeader))
		if id == "" {
			id = strings.TrimSpace(c.Query(ClientIDQuery))
		}

		if id == "" {
			c.Set(clientIDKey, addressID(c.ClientIP()))
			c.Next()
			return
		}

		if !ValidClientID(id) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_client_id",
				"message": "client id must be 8-64 letters, digits, '-' or '_'",
			})
			c.Abort()
			return
		}

		c.Set(clientIDKey, id)
		c.Next()
	}
}

// extracts client_id from context after ClientMiddleware
func GetClientID(c *gin.Context) (string, bool) {
	id, exists := c.Get(clientIDKey)

	if !exists {
		return "", false
	}

	return id.(string), true
}

func ValidClientID(id string) bool {
	return clientIDPattern.MatchString(id)
}

// stable id for anonymous callers; ipv6 colons are not valid in ids
func addressID(ip string) string {
	if ip == "" {
		ip = "unknown"
	}
	return "ip-" + strings.NewReplacer(":", "-", ".", "-").Replace(ip)
}
