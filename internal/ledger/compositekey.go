package ledger

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// compositeKeyNamespace keeps index entries out of the document key space: no record key
// may start with it, and selector queries skip every key that does.
const compositeKeyNamespace = "\x00"

const (
	minUnicodeRuneValue = 0
	maxUnicodeRuneValue = utf8.MaxRune
)

var ErrInvalidCompositeKey = errors.New("invalid composite key")

// CreateCompositeKey joins objectType and attributes with U+0000, which is rejected inside
// any component.
func CreateCompositeKey(objectType string, attributes []string) (string, error) {
	if err := validateCompositeKeyAttribute(objectType); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(compositeKeyNamespace)
	sb.WriteString(objectType)
	sb.WriteRune(minUnicodeRuneValue)
	for _, att := range attributes {
		if err := validateCompositeKeyAttribute(att); err != nil {
			return "", err
		}
		sb.WriteString(att)
		sb.WriteRune(minUnicodeRuneValue)
	}
	return sb.String(), nil
}

func SplitCompositeKey(key string) (string, []string, error) {
	if !IsCompositeKey(key) || !strings.HasSuffix(key, string(rune(minUnicodeRuneValue))) {
		return "", nil, fmt.Errorf("%w: %q", ErrInvalidCompositeKey, key)
	}

	parts := strings.Split(key[len(compositeKeyNamespace):len(key)-1], string(rune(minUnicodeRuneValue)))
	return parts[0], parts[1:], nil
}

func IsCompositeKey(key string) bool {
	return strings.HasPrefix(key, compositeKeyNamespace)
}

func validateCompositeKeyAttribute(str string) error {
	if !utf8.ValidString(str) {
		return fmt.Errorf("%w: not a valid utf8 string: %x", ErrInvalidCompositeKey, str)
	}
	for index, runeValue := range str {
		if runeValue == minUnicodeRuneValue || runeValue == maxUnicodeRuneValue {
			return fmt.Errorf("%w: reserved rune %#U at index %d in %q",
				ErrInvalidCompositeKey, runeValue, index, str)
		}
	}
	return nil
}
