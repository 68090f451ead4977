package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// UsernameRegex validates username format
var UsernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

const (
	MaxUsernameLen    = 50
	MaxPasswordLen    = 100
	MaxTitleLen       = 200
	MaxDescriptionLen = 5000
)

// ValidateUsername validates username
func ValidateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("username is required")
	}
	if len(username) > MaxUsernameLen {
		return fmt.Errorf("username is too long (max %d characters)", MaxUsernameLen)
	}
	if !UsernameRegex.MatchString(username) {
		return fmt.Errorf("username contains invalid characters (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidatePassword validates password
func ValidatePassword(password string) error {
	if password == "" {
		return fmt.Errorf("password is required")
	}
	if len(password) > MaxPasswordLen {
		return fmt.Errorf("password is too long (max %d characters)", MaxPasswordLen)
	}
	return nil
}

// ValidateTitle validates a video or channel title
func ValidateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("title is required")
	}
	if utf8.RuneCountInString(title) > MaxTitleLen {
		return fmt.Errorf("title is too long (max %d characters)", MaxTitleLen)
	}
	if !utf8.ValidString(title) {
		return fmt.Errorf("title contains invalid characters")
	}
	return nil
}

// ValidateDescription validates a video or channel description
func ValidateDescription(description string) error {
	if utf8.RuneCountInString(description) > MaxDescriptionLen {
		return fmt.Errorf("description is too long (max %d characters)", MaxDescriptionLen)
	}
	if !utf8.ValidString(description) {
		return fmt.Errorf("description contains invalid characters")
	}
	return nil
}
