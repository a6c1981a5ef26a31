package logapi

import (
	"sort"
	"strings"
)

// SourceCount pairs a log source with how many entries it produced.
type SourceCount struct {
	Source string
	Count  int
}

// GroupBySource tallies entries per source, most frequent first; ties break
// alphabetically so output is stable.
func GroupBySource(entries []Entry) []SourceCount {
	counts := map[string]int{}
	for _, e := range entries {
		source := e.Source
		if source == "" {
			source = "unknown"
		}
		counts[source]++
	}

	out := make([]SourceCount, 0, len(counts))
	for source, count := range counts {
		out = append(out, SourceCount{Source: source, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Source < out[j].Source
	})
	return out
}

// FilterMessage returns the entries whose message contains the substring,
// case-insensitively.
func FilterMessage(entries []Entry, substr string) []Entry {
	substr = strings.ToLower(substr)
	var out []Entry
	for _, e := range entries {
		if strings.Contains(strings.ToLower(e.Message), substr) {
			out = append(out, e)
		}
	}
	return out
}
