package core

import "strings"

const defaultPatternHistoryMax = 50

// patternHistory remembers recent search patterns, newest last, without
// consecutive or repeated duplicates.
type patternHistory struct {
	entries []string
	max     int
}

func newPatternHistory(max int) *patternHistory {
	if max <= 0 {
		max = defaultPatternHistoryMax
	}
	return &patternHistory{max: max}
}

func (h *patternHistory) Append(entry string) bool {
	if h == nil {
		return false
	}
	if strings.TrimSpace(entry) == "" {
		return false
	}
	if len(h.entries) > 0 && h.entries[len(h.entries)-1] == entry {
		return false
	}
	for i, existing := range h.entries {
		if existing == entry {
			h.entries = append(h.entries[:i], h.entries[i+1:]...)
			break
		}
	}
	h.entries = append(h.entries, entry)
	if len(h.entries) > h.max {
		h.entries = h.entries[len(h.entries)-h.max:]
	}
	return true
}

func (h *patternHistory) Entries() []string {
	if h == nil {
		return nil
	}
	return append([]string(nil), h.entries...)
}
