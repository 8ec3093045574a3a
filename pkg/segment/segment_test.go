package segment

import (
	"errors"
	"math/rand"
	"strings"
	"testing"
)

func feedAll(s *Segmenter, fragments ...string) []Unit {
	var units []Unit
	for _, f := range fragments {
		if u, ok := s.Feed(f); ok {
			units = append(units, u)
		}
	}
	if u, ok := s.Finalize(); ok {
		units = append(units, u)
	}
	return units
}

func texts(units []Unit) []string {
	out := make([]string, len(units))
	for i, u := range units {
		out[i] = u.Text
	}
	return out
}

func TestFeedJoinsUntilBoundary(t *testing.T) {
	s := New(Minimal)

	if _, ok := s.Feed("Hello"); ok {
		t.Fatal("unexpected unit after first fragment")
	}
	u, ok := s.Feed(" world.")
	if !ok {
		t.Fatal("expected a unit after the second fragment")
	}
	if u.Text != "Hello world." {
		t.Errorf("unit = %q, want %q", u.Text, "Hello world.")
	}
	if u.Index != 0 {
		t.Errorf("index = %d, want 0", u.Index)
	}
	if s.Pending() != "" {
		t.Errorf("pending = %q after flush", s.Pending())
	}
}

func TestExtendedSoftBoundaries(t *testing.T) {
	got := texts(feedAll(New(Extended), "Wait,", " ok?"))
	want := []string{"Wait,", " ok?"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("units = %q, want %q", got, want)
	}
}

func TestMinimalIgnoresCommas(t *testing.T) {
	got := texts(feedAll(New(Minimal), "Wait,", " ok?"))
	if len(got) != 1 || got[0] != "Wait, ok?" {
		t.Errorf("units = %q, want [\"Wait, ok?\"]", got)
	}
}

func TestMultipleBoundariesFlushOnce(t *testing.T) {
	s := New(Minimal)
	s.Feed("So")
	u, ok := s.Feed(" yes. No! Maybe?")
	if !ok {
		t.Fatal("expected a unit")
	}
	if u.Text != "So yes. No! Maybe?" {
		t.Errorf("unit = %q", u.Text)
	}
	if _, ok := s.Finalize(); ok {
		t.Error("nothing should remain after the flush")
	}
}

func TestBoundaryOnlyInNewText(t *testing.T) {
	s := New(Minimal)
	// The boundary arrived earlier and was flushed; a plain fragment must not flush.
	s.Feed("Done.")
	if _, ok := s.Feed(" next"); ok {
		t.Error("fragment without boundary flushed")
	}
}

func TestFinalizeEmpty(t *testing.T) {
	s := New(Extended)
	if _, ok := s.Finalize(); ok {
		t.Error("Finalize on empty buffer produced a unit")
	}
	if _, ok := s.Finalize(); ok {
		t.Error("second Finalize produced a unit")
	}
}

func TestFinalizeRemainder(t *testing.T) {
	s := New(Minimal)
	s.Feed("Sure.")
	s.Feed(" And then")
	u, ok := s.Finalize()
	if !ok || u.Text != " And then" {
		t.Fatalf("Finalize = %q, %v", u.Text, ok)
	}
	if u.Index != 1 {
		t.Errorf("index = %d, want 1", u.Index)
	}
}

func TestFinalizeDropsWhitespace(t *testing.T) {
	s := New(Minimal)
	s.Feed("Hi.")
	s.Feed("  \n")
	if u, ok := s.Finalize(); ok {
		t.Errorf("whitespace remainder emitted as %q", u.Text)
	}
}

func TestReset(t *testing.T) {
	s := New(Minimal)
	s.Feed("One.")
	s.Feed("partial")
	s.Reset()
	if s.Pending() != "" {
		t.Errorf("pending = %q after Reset", s.Pending())
	}
	u, _ := s.Feed("Two.")
	if u.Index != 0 {
		t.Errorf("index = %d after Reset, want 0", u.Index)
	}
}

func TestCustomBoundaries(t *testing.T) {
	got := texts(feedAll(NewWithBoundaries("|"), "a.b", "|c"))
	if len(got) != 1 || got[0] != "a.b|c" {
		t.Errorf("units = %q", got)
	}
}

// Concatenating all units reproduces the input, and no unit is blank.
func TestConcatenationProperty(t *testing.T) {
	pieces := []string{"Hello", " ", "world", ".", " How", " are", " you", "?", " I'm", " fine", ",", " thanks", "!", " ok", ";", " bye", ":", "x", "y z"}
	rng := rand.New(rand.NewSource(7))

	for _, mode := range []Mode{Minimal, Extended} {
		for trial := 0; trial < 200; trial++ {
			n := 1 + rng.Intn(30)
			fragments := make([]string, n)
			for i := range fragments {
				fragments[i] = pieces[rng.Intn(len(pieces))]
			}
			// Keep the last fragment non-blank so no whitespace-only tail is dropped.
			fragments = append(fragments, "end")

			units := feedAll(New(mode), fragments...)
			var joined strings.Builder
			for i, u := range units {
				if strings.TrimSpace(u.Text) == "" {
					t.Fatalf("%s trial %d: blank unit %d", mode, trial, i)
				}
				if u.Index != i {
					t.Fatalf("%s trial %d: unit %d has index %d", mode, trial, i, u.Index)
				}
				joined.WriteString(u.Text)
			}
			if want := strings.Join(fragments, ""); joined.String() != want {
				t.Fatalf("%s trial %d: joined %q, want %q", mode, trial, joined.String(), want)
			}
		}
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode("Extended"); err != nil || m != Extended {
		t.Errorf("ParseMode(Extended) = %v, %v", m, err)
	}
	if m, err := ParseMode("minimal"); err != nil || m != Minimal {
		t.Errorf("ParseMode(minimal) = %v, %v", m, err)
	}
	if _, err := ParseMode("sentences"); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("ParseMode(sentences) error = %v", err)
	}
}
