// Package voice defines the closed set of synthesis voices a run may select.
package voice

import (
	"fmt"
	"strings"
)

// Voice identifies one of the supported text-to-speech voices.
type Voice string

const (
	Alloy   Voice = "alloy"
	Echo    Voice = "echo"
	Fable   Voice = "fable"
	Onyx    Voice = "onyx"
	Nova    Voice = "nova"
	Shimmer Voice = "shimmer"
)

// Default is used when no voice is configured.
const Default = Alloy

var all = []Voice{Alloy, Echo, Fable, Onyx, Nova, Shimmer}

var descriptions = map[Voice]string{
	Alloy:   "neutral, balanced",
	Echo:    "warm, measured male",
	Fable:   "expressive, British-accented",
	Onyx:    "deep, authoritative male",
	Nova:    "bright, energetic female",
	Shimmer: "soft, clear female",
}

// All returns the supported voices in their canonical order.
func All() []Voice {
	return append([]Voice(nil), all...)
}

// Parse resolves a case-insensitive voice name. An empty value yields Default.
func Parse(value string) (Voice, error) {
	normalized := Voice(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return Default, nil
	}
	if normalized.Valid() {
		return normalized, nil
	}
	return "", fmt.Errorf("unsupported voice %q (choose one of %s)", value, strings.Join(Names(), ", "))
}

// Names returns the voice identifiers as strings.
func Names() []string {
	names := make([]string, len(all))
	for i, v := range all {
		names[i] = string(v)
	}
	return names
}

// Valid reports whether v belongs to the supported set.
func (v Voice) Valid() bool {
	_, ok := descriptions[v]
	return ok
}

// Description returns a short human-readable character summary.
func (v Voice) Description() string {
	return descriptions[v]
}

func (v Voice) String() string {
	return string(v)
}
