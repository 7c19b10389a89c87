package services

import (
	"regexp"
	"strings"

	"github.com/ajeer/ajeer-backend/internal/apperr"
)

// Identifier shape accepted from clients for user and conversation ids.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{5,50}$`)

// ValidateID checks a client-supplied identifier.
func ValidateID(id, locale string) error {
	if !idPattern.MatchString(id) {
		return apperr.Validation(apperr.CodeInvalidIDFormat, map[string]interface{}{"locale": locale})
	}
	return nil
}

// ValidateMessage checks message content against the required/length rules
// and returns the trimmed content.
func ValidateMessage(content string, maxLength int, locale string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", apperr.Validation(apperr.CodeFieldRequired, map[string]interface{}{"locale": locale})
	}
	if maxLength > 0 && len(content) > maxLength {
		return "", apperr.Validation(apperr.CodeMessageTooLong, map[string]interface{}{
			"locale": locale,
			"max":    maxLength,
		})
	}
	return content, nil
}
