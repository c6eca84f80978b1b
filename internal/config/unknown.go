package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownSectionKeys lists the valid keys of each config section.
var knownSectionKeys = map[string][]string{
	"open_humans": {"server", "client_id", "client_secret", "source_name", "scope", "push_method"},
	"storage":     {"db_path"},
	"export":      {"parallelism", "run_interval", "token_offset"},
	"logging":     {"log_level", "log_format"},
	"network":     {"timeout", "user_agent"},
}

// knownSectionsList is the sorted list of section names for Levenshtein
// matching. Sorted for deterministic suggestions on ties.
var knownSectionsList = func() []string {
	keys := make([]string, 0, len(knownSectionKeys))
	for k := range knownSectionKeys {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	// An undecoded table reports itself and each of its keys.
	seen := make(map[string]bool)

	for _, key := range md.Undecoded() {
		err := buildKeyError(key)
		if seen[err.Error()] {
			continue
		}

		seen[err.Error()] = true
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// buildKeyError describes one undecoded key. A key in a known section is
// matched against that section's keys; anything else against section names.
func buildKeyError(key toml.Key) error {
	if len(key) >= 2 {
		if known, ok := knownSectionKeys[key[0]]; ok {
			if s := closestMatch(key[1], known); s != "" {
				return fmt.Errorf("unknown config key %q in [%s], did you mean %q?", key[1], key[0], s)
			}

			return fmt.Errorf("unknown config key %q in [%s]", key[1], key[0])
		}
	}

	name := key[0]

	if s := closestMatch(name, knownSectionsList); s != "" {
		return fmt.Errorf("unknown config section %q, did you mean [%s]?", name, s)
	}

	// A bare top-level key that belongs in a section.
	for _, section := range knownSectionsList {
		for _, k := range knownSectionKeys[section] {
			if k == name {
				return fmt.Errorf("config key %q must be inside [%s]", name, section)
			}
		}
	}

	return fmt.Errorf("unknown config key %q", strings.Join(key, "."))
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Single-row optimization avoids allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
