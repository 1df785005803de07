package websocket

import (
	"encoding/json"
	"net/http"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"codeberg.org/lessonforge/server/internal/logger"
	"github.com/google/uuid"
)

var secretPattern = regexp.MustCompile(`(?i)(key|token|secret)=[^&\s]+`)

func getAllowedWebSocketOrigins() []string {
	if envOrigins := os.Getenv("ALLOWED_ORIGINS"); envOrigins != "" {
		origins := strings.Split(envOrigins, ",")

		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}

		return origins
	}

	return []string{}
}

func CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	env := os.Getenv("ENVIRONMENT")
	if env != "production" {
		return true
	}

	if origin == "" {
		logger.Warn("websocket connection with no origin header")
		return false
	}

	allowedOrigins := getAllowedWebSocketOrigins()

	if len(allowedOrigins) == 0 {
		logger.Warn("websocket origin rejected - ALLOWED_ORIGINS not configured",
			"origin", origin,
		)
		return false
	}

	if slices.Contains(allowedOrigins, origin) {
		return true
	}

	logger.Warn("websocket origin rejected - not in allowed origins",
		"origin", origin,
		"allowed_origins", allowedOrigins,
	)

	return false
}

func GenerateClientID() string {
	return uuid.NewString()
}

// builds a message with payload encoded as JSON; a nil payload is omitted
func NewMessage(msgType, owner string, payload any) (*Message, error) {
	msg := &Message{
		Type:      msgType,
		Owner:     owner,
		Timestamp: time.Now(),
	}

	if payload == nil {
		return msg, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	msg.Payload = raw
	return msg, nil
}

// masks credentials that may appear in upstream error text
func sanitizeErrorString(s string) string {
	if os.Getenv("ENVIRONMENT") == "production" {
		return ""
	}

	return secretPattern.ReplaceAllString(s, "$1=***")
}
