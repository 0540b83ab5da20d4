// Package prefs holds the user preferences that survive restarts.
package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// StorageKey is the key-value entry preferences are persisted under
const StorageKey = "_mediaStore"

var defaultSources = []string{
	"SpotifyAB.SpotifyMusic_zpdnekdrzrea0!Spotify",
	"foobar2000.exe",
}

// Preferences is the persisted part of the store state
type Preferences struct {
	// SourcePriority is a newline separated, lowercase list of sources, highest first
	SourcePriority string `json:"sourcePriority"`
	StyleOverride  string `json:"styleOverride"`
}

// Defaults returns the preferences used when nothing valid is persisted
func Defaults() Preferences {
	return Preferences{
		SourcePriority: JoinSources(defaultSources),
		StyleOverride:  "",
	}
}

// JoinSources builds a priority list from sources ordered highest first
func JoinSources(sources []string) string {
	return strings.ToLower(strings.Join(sources, "\n"))
}

// Sources splits a priority list back into its entries, skipping blank lines
func (p Preferences) Sources() []string {
	var out []string
	for _, line := range strings.Split(p.SourcePriority, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// Failure classifies why persisted preferences were discarded
type Failure int

const (
	FailureNone Failure = iota
	// FailureEmpty means nothing was stored yet
	FailureEmpty
	// FailureSyntax means the stored value is not valid JSON
	FailureSyntax
	// FailureSchema means the JSON does not have the expected shape
	FailureSchema
)

func (f Failure) String() string {
	switch f {
	case FailureNone:
		return "none"
	case FailureEmpty:
		return "empty"
	case FailureSyntax:
		return "syntax"
	case FailureSchema:
		return "schema"
	default:
		return "unknown"
	}
}

// Result is the outcome of Decode. Prefs is always usable.
type Result struct {
	Prefs   Preferences
	Failure Failure
	Err     error
}

// OK reports whether the persisted value was used
func (r Result) OK() bool {
	return r.Failure == FailureNone
}

type stored struct {
	SourcePriority *string `json:"sourcePriority"`
	StyleOverride  *string `json:"styleOverride"`
}

// Decode parses persisted preferences and merges them over Defaults.
// Any failure yields the defaults together with the failure kind; it never
// returns an error to act on.
func Decode(raw []byte) Result {
	prefs := Defaults()
	if len(strings.TrimSpace(string(raw))) == 0 {
		return Result{Prefs: prefs, Failure: FailureEmpty, Err: errors.New("no persisted preferences")}
	}

	var s stored
	if err := json.Unmarshal(raw, &s); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return Result{Prefs: prefs, Failure: FailureSchema, Err: fmt.Errorf("decode preferences: %w", err)}
		}
		return Result{Prefs: prefs, Failure: FailureSyntax, Err: fmt.Errorf("decode preferences: %w", err)}
	}

	if s.SourcePriority != nil {
		prefs.SourcePriority = *s.SourcePriority
	}
	if s.StyleOverride != nil {
		prefs.StyleOverride = *s.StyleOverride
	}
	return Result{Prefs: prefs}
}

// Encode serializes exactly the persisted fields
func Encode(p Preferences) ([]byte, error) {
	return json.Marshal(p)
}
