package membership

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/mail"
	"strings"
	"unicode"

	"coursemarket/internal/apperr"

	"golang.org/x/crypto/argon2"
)

const minPasswordLen = 3

const passwordSpecials = "_#!%"

// validateCredentials checks the registration email and password policy and
// reports every violation at once.
func validateCredentials(email, password string) error {
	fields := apperr.FieldErrors{}

	if email == "" {
		fields.Add("email", "This field is required.")
	} else if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		fields.Add("email", "Enter a valid email address.")
	}

	if password == "" {
		fields.Add("password", "This field is required.")
	} else if msg := passwordProblem(password); msg != "" {
		fields.Add("password", msg)
	}

	return apperr.Collect(fields)
}

// passwordProblem returns the first policy rule password breaks, or "".
func passwordProblem(password string) string {
	var lower, upper, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		}
	}

	switch {
	case len([]rune(password)) < minPasswordLen:
		return fmt.Sprintf("Password must be at least %d characters long.", minPasswordLen)
	case !lower:
		return "Password must contain at least one lowercase letter."
	case !upper:
		return "Password must contain at least one uppercase letter."
	case !digit:
		return "Password must contain at least one digit."
	case !special:
		return "Password must contain at least one of the following special characters: _, #, !, %"
	}
	return ""
}

// hashPassword generates a salted Argon2id hash of the password.
func hashPassword(password string) (string, string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", "", err
	}

	hash := argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)

	return base64.StdEncoding.EncodeToString(hash), base64.StdEncoding.EncodeToString(salt), nil
}

// verifyPassword compares a password with a salted hash.
func verifyPassword(password, salt, hash string) (bool, error) {
	decodedSalt, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return false, fmt.Errorf("failed to decode salt: %w", err)
	}

	decodedHash, err := base64.StdEncoding.DecodeString(hash)
	if err != nil {
		return false, fmt.Errorf("failed to decode hash: %w", err)
	}

	comparisonHash := argon2.IDKey([]byte(password), decodedSalt, 1, 64*1024, 4, 32)

	return subtle.ConstantTimeCompare(decodedHash, comparisonHash) == 1, nil
}
