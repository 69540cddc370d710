package middleware

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/glaciergh0st/HuntLens/internal/domain/runs"
)

// Input validation and sanitization utilities

// ValidateRunID checks that id is a UUID.
func ValidateRunID(id string) error {
	if id == "" {
		return fmt.Errorf("run ID cannot be empty")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid run ID format")
	}
	return nil
}

// ValidateRunStatus accepts an empty filter or a terminal run status.
func ValidateRunStatus(status string) error {
	switch runs.Status(status) {
	case "", runs.StatusDone, runs.StatusFailed:
		return nil
	}
	return fmt.Errorf("invalid status: %s (allowed: done, failed)", status)
}

// ValidateK checks a requested evidence count.
func ValidateK(k, maxK int) error {
	if k < 1 || k > maxK {
		return fmt.Errorf("k must be between 1 and %d, got %d", maxK, k)
	}
	return nil
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}
	return strings.TrimSpace(result.String())
}

// ValidateLimit validates pagination limit
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 20 // default
	}
	if limit > 100 {
		return 100 // max limit
	}
	return limit
}

// ValidatePage clamps the page number to 1 or more.
func ValidatePage(page int) int {
	return max(page, 1)
}
