package generator

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

// PasswordOptions configures password generation
type PasswordOptions struct {
	Length           int
	IncludeLowercase bool
	IncludeUppercase bool
	IncludeNumbers   bool
	IncludeSymbols   bool
	ExcludeSimilar   bool
	// Exclude lists characters that must never appear
	Exclude string
}

// DefaultOptions returns sensible default password options
func DefaultOptions() PasswordOptions {
	return PasswordOptions{
		Length:           16,
		IncludeLowercase: true,
		IncludeUppercase: true,
		IncludeNumbers:   true,
		IncludeSymbols:   true,
		ExcludeSimilar:   true,
	}
}

// Character sets
const (
	lowercase = "abcdefghijklmnopqrstuvwxyz"
	uppercase = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	numbers   = "0123456789"
	symbols   = "!@#$%^&*"
	similar   = "il1Lo0O"
)

const maxAttempts = 100

// GeneratePassword creates a random password according to options. Every
// selected character class appears at least once.
func GeneratePassword(options PasswordOptions) (string, error) {
	if options.Length <= 0 {
		return "", errors.New("password length must be positive")
	}

	var classes []string
	for _, c := range []struct {
		on  bool
		set string
	}{
		{options.IncludeLowercase, lowercase},
		{options.IncludeUppercase, uppercase},
		{options.IncludeNumbers, numbers},
		{options.IncludeSymbols, symbols},
	} {
		if !c.on {
			continue
		}
		set := filter(c.set, options)
		if set == "" {
			return "", errors.New("character class emptied by exclusions")
		}
		classes = append(classes, set)
	}

	if len(classes) == 0 {
		return "", errors.New("no character set selected")
	}
	if options.Length < len(classes) {
		return "", errors.New("password length too short for the selected character sets")
	}

	chars := strings.Join(classes, "")
	for attempt := 0; attempt < maxAttempts; attempt++ {
		result := make([]byte, options.Length)
		for i := range result {
			idx, err := randomInt(len(chars))
			if err != nil {
				return "", err
			}
			result[i] = chars[idx]
		}

		if meetsRequirements(string(result), classes) {
			return string(result), nil
		}
	}

	return "", errors.New("failed to generate a password meeting the requirements")
}

// filter drops excluded and, optionally, look-alike characters
func filter(set string, options PasswordOptions) string {
	var b strings.Builder
	for _, c := range set {
		if strings.ContainsRune(options.Exclude, c) {
			continue
		}
		if options.ExcludeSimilar && strings.ContainsRune(similar, c) {
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// meetsRequirements checks that every class is represented
func meetsRequirements(password string, classes []string) bool {
	for _, set := range classes {
		if !strings.ContainsAny(password, set) {
			return false
		}
	}
	return true
}

// randomInt generates a cryptographically secure random integer between 0 and max-1
func randomInt(max int) (int, error) {
	if max <= 0 {
		return 0, errors.New("max must be positive")
	}

	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}

	return int(n.Int64()), nil
}
