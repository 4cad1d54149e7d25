// Package transcript accumulates the text rendition of a live voice session.
//
// Fragments arrive from the session's receive loop in utterance order and are
// appended verbatim; the accumulator never rewrites, merges, or re-punctuates
// what the model said. Readers take snapshots (full or tail) without blocking
// the writer for longer than a copy.
package transcript

import (
	"strings"
	"sync"
	"time"
)

// Entry is one appended transcript fragment.
type Entry struct {
	// Text is the fragment exactly as the model produced it, including any
	// leading or trailing whitespace it carried.
	Text string

	// At is the local arrival time of the fragment.
	At time.Time
}

// Accumulator is an append-only transcript store. The zero value is ready to
// use. Safe for concurrent use.
type Accumulator struct {
	mu      sync.RWMutex
	entries []Entry
}

// Append records one fragment. Empty fragments are ignored so the entry list
// stays one-to-one with spoken text.
func (a *Accumulator) Append(text string) {
	if text == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, Entry{Text: text, At: time.Now()})
}

// Len returns the number of recorded fragments.
func (a *Accumulator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

// Entries returns a copy of every recorded fragment in arrival order.
func (a *Accumulator) Entries() []Entry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Tail returns a copy of the most recent n fragments, oldest first. When
// fewer than n fragments exist, all of them are returned.
func (a *Accumulator) Tail(n int) []Entry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	if n > len(a.entries) {
		n = len(a.entries)
	}
	out := make([]Entry, n)
	copy(out, a.entries[len(a.entries)-n:])
	return out
}

// TailText returns the last n characters of the full transcript, for bounded
// display. When the transcript holds fewer than n characters, all of it is
// returned. Counting is by rune, so multi-byte characters are never split.
func (a *Accumulator) TailText(n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(a.Text())
	if n >= len(runes) {
		return string(runes)
	}
	return string(runes[len(runes)-n:])
}

// Text concatenates every fragment into the full transcript. Fragments are
// joined as-is: the model's own spacing and punctuation carry through.
func (a *Accumulator) Text() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var b strings.Builder
	for _, e := range a.entries {
		b.WriteString(e.Text)
	}
	return b.String()
}

// Reset discards all recorded fragments. Used when a new session begins and
// the previous conversation should no longer be shown.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = nil
}
