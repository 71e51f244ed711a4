// Package valueobjects contains the sample user-registration service's
// immutable, self-validating value types.
package valueobjects

import (
	"errors"
	"net/mail"
	"strings"
)

// Email represents a validated email address, used by the sample
// user-registration service.
type Email struct {
	value string
}

// NewEmail creates a new Email value object with validation.
func NewEmail(email string) (Email, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return Email{}, errors.New("email cannot be empty")
	}

	_, err := mail.ParseAddress(email)
	if err != nil {
		return Email{}, errors.New("invalid email format")
	}

	return Email{value: email}, nil
}

func (e Email) String() string          { return e.value }
func (e Email) Equals(other Email) bool { return e.value == other.value }
