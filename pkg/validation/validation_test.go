package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		wantErr  bool
	}{
		{"valid username", "user123", false},
		{"single letter", "a", false},
		{"valid with dot", "jane.doe", false},
		{"valid with dash", "user-name", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 51), true},
		{"space", "user name", true},
		{"at sign", "user@name", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsername(tt.username)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalid)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateID(t *testing.T) {
	assert.NoError(t, ValidateID("g-1_a", "group id"))
	assert.NoError(t, ValidateID("6f1c2a9e-6b1e-4d52-9a3c-1d1f0e3b2a11", "group id"))
	assert.Error(t, ValidateID("", "group id"))
	assert.Error(t, ValidateID("has space", "group id"))
	assert.Error(t, ValidateID(strings.Repeat("x", 101), "group id"))
	assert.Error(t, ValidatePeerID("peer/1"))
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("General chat", "channel name", 64))
	assert.NoError(t, ValidateName("Привет", "channel name", 6))
	assert.Error(t, ValidateName("   ", "channel name", 64))
	assert.Error(t, ValidateName(strings.Repeat("a", 65), "channel name", 64))
	assert.Error(t, ValidateName(string([]byte{0xff}), "channel name", 64))
}

func TestValidateMessageText(t *testing.T) {
	assert.NoError(t, ValidateMessageText("hello", 10))
	assert.NoError(t, ValidateMessageText("", 10))
	assert.Error(t, ValidateMessageText(strings.Repeat("a", 11), 10))
}

func TestValidateImageURL(t *testing.T) {
	assert.NoError(t, ValidateImageURL("https://cdn.example.com/a.png"))
	assert.NoError(t, ValidateImageURL("/uploads/a.png"))
	assert.Error(t, ValidateImageURL("//evil.example.com/a.png"))
	assert.Error(t, ValidateImageURL("javascript:alert(1)"))
	assert.Error(t, ValidateImageURL("https:///nohost"))
}

func TestValidateURL(t *testing.T) {
	assert.NoError(t, ValidateURL("ws://localhost:8080/ws"))
	assert.NoError(t, ValidateURL("https://example.com"))
	assert.Error(t, ValidateURL(""))
	assert.Error(t, ValidateURL("ftp://example.com"))
	assert.Error(t, ValidateURL("http://"))
}
