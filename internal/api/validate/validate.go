package validate

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

// timeZoneRx matches IANA-style zone names like "Europe/Berlin" or "UTC".
var timeZoneRx = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+\-_]*(/[A-Za-z0-9+\-_]+)*$`)

// Message validates chat message content: non-blank, at most 2000 characters.
func Message(v string) error {
	if v == "" {
		return fmt.Errorf("message is required")
	}
	if utf8.RuneCountInString(v) > 2000 {
		return fmt.Errorf("message exceeds 2000 characters")
	}
	return nil
}

func NonEmpty(field, v string) error {
	if v == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

// MaxRunes rejects v when it exceeds limit characters. Nil means unset.
func MaxRunes(field string, v *string, limit int) error {
	if v == nil {
		return nil
	}
	if utf8.RuneCountInString(*v) > limit {
		return fmt.Errorf("%s exceeds %d characters", field, limit)
	}
	return nil
}

func TimeZone(v string) error {
	if v == "" {
		return nil
	}
	if len(v) > 64 || !timeZoneRx.MatchString(v) {
		return fmt.Errorf("invalid time zone")
	}
	return nil
}
