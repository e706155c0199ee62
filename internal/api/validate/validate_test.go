package validate

import (
	"strings"
	"testing"
)

func TestMessage(t *testing.T) {
	if err := Message(""); err == nil {
		t.Fatalf("empty message must fail")
	}
	if err := Message(strings.Repeat("a", 2000)); err != nil {
		t.Fatalf("2000 chars must pass: %v", err)
	}
	if err := Message(strings.Repeat("a", 2001)); err == nil {
		t.Fatalf("2001 chars must fail")
	}
	// The bound counts characters, not bytes.
	if err := Message(strings.Repeat("日", 2000)); err != nil {
		t.Fatalf("2000 multibyte chars must pass: %v", err)
	}
	if err := Message(strings.Repeat("日", 2001)); err == nil {
		t.Fatalf("2001 multibyte chars must fail")
	}
}

func TestMaxRunes(t *testing.T) {
	if err := MaxRunes("name", nil, 5); err != nil {
		t.Fatalf("nil must pass: %v", err)
	}
	short := "héllo"
	if err := MaxRunes("name", &short, 5); err != nil {
		t.Fatalf("5 runes within limit 5: %v", err)
	}
	long := "héllo!"
	if err := MaxRunes("name", &long, 5); err == nil {
		t.Fatalf("6 runes over limit 5 must fail")
	}
}

func TestTimeZone(t *testing.T) {
	for _, ok := range []string{"", "UTC", "Europe/Berlin", "America/New_York", "Etc/GMT+2"} {
		if err := TimeZone(ok); err != nil {
			t.Fatalf("%q must pass: %v", ok, err)
		}
	}
	for _, bad := range []string{"../etc", "Europe//Berlin", "bad zone", strings.Repeat("A", 65)} {
		if err := TimeZone(bad); err == nil {
			t.Fatalf("%q must fail", bad)
		}
	}
}
