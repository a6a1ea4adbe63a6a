package validation

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid input")

var (
	// IDRegex validates group, channel and peer identifiers
	IDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// UsernameRegex validates usernames
	UsernameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// ValidateUsername validates username
func ValidateUsername(username string) error {
	if username == "" {
		return invalid("username is required")
	}
	if len(username) > 50 {
		return invalid("username is too long (max 50 characters)")
	}
	if !UsernameRegex.MatchString(username) {
		return invalid("username contains invalid characters (only letters, numbers, ., _, - allowed)")
	}
	return nil
}

// ValidateID validates a group or channel identifier
func ValidateID(id, fieldName string) error {
	if id == "" {
		return invalid("%s is required", fieldName)
	}
	if len(id) > 100 {
		return invalid("%s is too long (max 100 characters)", fieldName)
	}
	if !IDRegex.MatchString(id) {
		return invalid("invalid %s format", fieldName)
	}
	return nil
}

// ValidatePeerID validates peer ID
func ValidatePeerID(peerID string) error {
	return ValidateID(peerID, "peer ID")
}

// ValidateName validates a display name of a group or channel
func ValidateName(name, fieldName string, max int) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return invalid("%s is required", fieldName)
	}
	if !utf8.ValidString(name) {
		return invalid("%s contains invalid characters", fieldName)
	}
	if utf8.RuneCountInString(name) > max {
		return invalid("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}

// ValidateMessageText validates the text body of a chat message
func ValidateMessageText(text string, max int) error {
	if !utf8.ValidString(text) {
		return invalid("message contains invalid characters")
	}
	if utf8.RuneCountInString(text) > max {
		return invalid("message is too long (max %d characters)", max)
	}
	return nil
}

// ValidateImageURL accepts absolute http(s) URLs and server-relative paths.
func ValidateImageURL(raw string) error {
	if strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//") {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return invalid("invalid image URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalid("image URL must be http or https")
	}
	if u.Host == "" {
		return invalid("image URL must have a host")
	}
	return nil
}

// ValidateURL validates a ws/http endpoint URL
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return invalid("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return invalid("invalid URL format: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return invalid("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return invalid("URL must have a host")
	}
	return nil
}
