package session

import "strings"

// Transcript is the ordered list of fragments recognized since the last
// send or clear. Only the supervisor goroutine touches it.
type Transcript struct {
	fragments []string
}

// Append adds a fragment.
func (t *Transcript) Append(fragment string) {
	t.fragments = append(t.fragments, fragment)
}

// Len returns the number of fragments.
func (t *Transcript) Len() int {
	return len(t.fragments)
}

// Empty reports whether nothing has been recognized.
func (t *Transcript) Empty() bool {
	return len(t.fragments) == 0
}

// Text joins the fragments with single spaces.
func (t *Transcript) Text() string {
	return strings.Join(t.fragments, " ")
}

// Fragments returns a copy of the fragments.
func (t *Transcript) Fragments() []string {
	return append([]string(nil), t.fragments...)
}

// Reset empties the transcript.
func (t *Transcript) Reset() {
	t.fragments = t.fragments[:0]
}
