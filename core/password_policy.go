package core

import (
	"fmt"
	"unicode"
)

// PasswordPolicy is the store-side rule set applied before a secret is hashed.
type PasswordPolicy struct {
	MinLength       int
	RequireDigit    bool
	RequireLower    bool
	RequireUpper    bool
	RequireNonAlnum bool
}

// bcrypt ignores input past 72 bytes; refuse rather than truncate silently.
const maxPasswordBytes = 72

// DefaultPasswordPolicy mirrors the identity defaults the HR API has always used.
var DefaultPasswordPolicy = PasswordPolicy{
	MinLength:       6,
	RequireDigit:    true,
	RequireLower:    true,
	RequireUpper:    true,
	RequireNonAlnum: true,
}

// Check returns one message per violated rule, in a stable order.
func (p PasswordPolicy) Check(password string) []string {
	var msgs []string
	if len([]rune(password)) < p.MinLength {
		msgs = append(msgs, fmt.Sprintf("password must be at least %d characters", p.MinLength))
	}
	if len(password) > maxPasswordBytes {
		msgs = append(msgs, fmt.Sprintf("password must be at most %d bytes", maxPasswordBytes))
	}

	var digit, lower, upper, other bool
	for _, r := range password {
		switch {
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case !unicode.IsLetter(r):
			other = true
		}
	}
	if p.RequireDigit && !digit {
		msgs = append(msgs, "password must contain a digit")
	}
	if p.RequireLower && !lower {
		msgs = append(msgs, "password must contain a lowercase letter")
	}
	if p.RequireUpper && !upper {
		msgs = append(msgs, "password must contain an uppercase letter")
	}
	if p.RequireNonAlnum && !other {
		msgs = append(msgs, "password must contain a non-alphanumeric character")
	}
	return msgs
}
