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

// knownKeys lists the valid keys of every section.
var knownKeys = map[string][]string{
	"server":  {"api_url", "client_id", "token_url"},
	"sync":    {"debounce", "interval", "notifications", "watch_store"},
	"network": {"metadata_timeout", "upload_timeout", "user_agent"},
	"logging": {"log_file", "log_format", "log_level", "log_max_size_mb", "log_retention_days"},
	"storage": {"data_dir", "db_path", "media_dir"},
}

// knownSections is the sorted list of section names for Levenshtein matching.
var knownSections = func() []string {
	names := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		names = append(names, k)
	}

	sort.Strings(names)

	return names
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key. Keys in
// sections are reported as "section.key".
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	// An unknown table shows up once for itself and once per key inside it.
	reported := make(map[string]bool)

	for _, key := range md.Undecoded() {
		section := key[0]
		if _, known := knownKeys[section]; !known {
			if !reported[section] {
				reported[section] = true
				errs = append(errs, unknownSectionError(section))
			}

			continue
		}

		errs = append(errs, buildKeyError(key))
	}

	return errors.Join(errs...)
}

func buildKeyError(key toml.Key) error {
	section := key[0]
	keys := knownKeys[section]

	leaf := strings.Join(key[1:], ".")

	suggestion := closestMatch(leaf, keys)
	if suggestion != "" {
		return fmt.Errorf("unknown config key %q, did you mean %q?", key.String(), section+"."+suggestion)
	}

	return fmt.Errorf("unknown config key %q", key.String())
}

func unknownSectionError(section string) error {
	if suggestion := closestMatch(section, knownSections); suggestion != "" {
		return fmt.Errorf("unknown config section %q, did you mean %q?", section, suggestion)
	}

	return fmt.Errorf("unknown config section %q", section)
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

	// Single-row optimization.
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
