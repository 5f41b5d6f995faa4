package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/mathieu-neron/trendsync/internal/model"
)

// Query parameter limits.
const (
	MaxMinVideos     = 1000
	DefaultMinVideos = 1
)

// ErrorResponse is a helper that returns a standard API error response.
func ErrorResponse(c fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"message": message,
		},
	})
}

// ValidateVideoID checks that a video ID is well-formed and fits videos.identifier.
func ValidateVideoID(id string) (string, string) {
	id, msg := model.ValidateIdentifier(id)
	if msg != "" {
		return "", strings.Replace(msg, "identifier", "videoId", 1)
	}
	return id, ""
}

// ValidateSince parses an optional RFC3339 lower bound. Empty returns fallback.
func ValidateSince(raw string, fallback time.Time) (time.Time, string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, ""
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, "since must be a valid RFC3339 timestamp"
	}
	return t.UTC(), ""
}

// ValidateMinVideos parses the optional minVideos threshold of the channel rollup.
func ValidateMinVideos(raw string) (int, string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultMinVideos, ""
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || n > MaxMinVideos {
		return 0, "minVideos must be an integer between 0 and 1000"
	}
	return n, ""
}
