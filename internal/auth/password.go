// password.go

// Input validation for emails, passwords, and display names.
package auth

import (
	"fmt"
	netmail "net/mail"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ValidateEmail checks format and length constraints; returns error message or empty string.
// RFC 5321: min ~5 chars (a@b.c), max 254.
func ValidateEmail(email string) string {
	if email == "" {
		return "No email provided"
	}
	emailLen := len(email)
	if emailLen < 5 {
		return "Email too short!"
	}
	if emailLen > 254 {
		return "Email too long!"
	}
	if _, err := netmail.ParseAddress(email); err != nil {
		return "Invalid email format"
	}
	return ""
}

// PasswordPolicy defines password complexity rules applied at registration and password change.
//
//	MinLength is the minimum rune count (user-perceived chars); 0 skips minimum enforcement.
//	MaxLength is the maximum rune count (user-perceived chars); 0 skips maximum enforcement.
//	RequireUppercase, RequireDigit, and RequireSpecial each gate a character-class check;
//	false means skip that check entirely. Special characters are defined by the specialChars
//	constant. No RequireLowercase field -- lowercase is assumed for all passwords. The zero
//	value is fully permissive: no length limits, no character class checks enforced.
type PasswordPolicy struct {
	MinLength        int
	MaxLength        int
	RequireUppercase bool
	RequireDigit     bool
	RequireSpecial   bool
}

// specialChars defines which characters satisfy the RequireSpecial rule.
// All printable non-alphanumeric ASCII punctuation and symbols.
const specialChars = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// Validate checks password against every enabled rule and returns a slice of human-readable
// failure messages; an empty slice means the password is valid.
func (p PasswordPolicy) Validate(password string) []string {
	var failures []string

	if password == "" {
		failures = append(failures, "No password provided")
	}

	if p.MinLength > 0 && utf8.RuneCountInString(password) < p.MinLength {
		failures = append(failures, fmt.Sprintf("Password must be at least %d characters", p.MinLength))
	}
	if p.MaxLength > 0 && utf8.RuneCountInString(password) > p.MaxLength {
		failures = append(failures, fmt.Sprintf("Password must be at most %d characters", p.MaxLength))
	}

	var seenUpper, seenDigit, seenSpecial bool
	for _, r := range password {
		if unicode.IsControl(r) {
			return []string{"Password contains invalid characters"}
		}
		switch {
		case unicode.IsUpper(r):
			seenUpper = true
		case unicode.IsDigit(r):
			seenDigit = true
		case strings.ContainsRune(specialChars, r):
			seenSpecial = true
		}
	}

	if p.RequireUppercase && !seenUpper {
		failures = append(failures, "Password must contain at least one uppercase letter")
	}
	if p.RequireDigit && !seenDigit {
		failures = append(failures, "Password must contain at least one digit")
	}
	if p.RequireSpecial && !seenSpecial {
		failures = append(failures, "Password must contain at least one special character")
	}

	return failures
}

// DefaultPasswordPolicy applies to signup, reset, and change.
var DefaultPasswordPolicy = PasswordPolicy{MinLength: 8}

// maxPasswordBytes bounds hashing cost.
const maxPasswordBytes = 128

// ValidatePassword checks a new password against DefaultPasswordPolicy;
// returns the first failure message or empty string.
func ValidatePassword(password string) string {
	if len(password) > maxPasswordBytes {
		return "Password too long!"
	}
	if failures := DefaultPasswordPolicy.Validate(password); len(failures) > 0 {
		return failures[0]
	}
	return ""
}

// maxNameLength bounds display names in runes.
const maxNameLength = 100

// ValidateName checks a display name; returns error message or empty string.
func ValidateName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "No name provided"
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "Name too long!"
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return "Name contains invalid characters"
		}
	}
	return ""
}
