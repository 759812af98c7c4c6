package council

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	fencedJSON   = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	finalRanking = regexp.MustCompile(`(?i)final\s+ranking\s*:`)
	numberedLine = regexp.MustCompile(`^\s*\d+\s*[.)]\s*(.+)$`)
	labelToken   = regexp.MustCompile(`(?i)\bresponse-([0-9a-z]{5})\b`)
)

// ParseRanking extracts a judge's ordering and validates it is exactly a
// permutation of labels. JSON is preferred; a FINAL RANKING numbered list
// is the fallback.
func ParseRanking(raw string, labels []string) ([]string, error) {
	ordered, ok := parseJSONRanking(raw)
	if !ok {
		ordered, ok = parseListRanking(raw)
	}
	if !ok {
		return nil, fmt.Errorf("%w: no ranking found", ErrMalformedRanking)
	}
	if err := validatePermutation(ordered, labels); err != nil {
		return nil, err
	}
	return ordered, nil
}

func parseJSONRanking(raw string) ([]string, bool) {
	candidates := make([]string, 0, 2)
	if m := fencedJSON.FindStringSubmatch(raw); m != nil {
		candidates = append(candidates, m[1])
	}
	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start >= 0 && end > start {
		candidates = append(candidates, raw[start:end+1])
	}

	for _, c := range candidates {
		var reply rankingReply
		if err := json.Unmarshal([]byte(c), &reply); err != nil || len(reply.Ranking) == 0 {
			continue
		}
		out := make([]string, len(reply.Ranking))
		for i, item := range reply.Ranking {
			out[i] = normalizeLabel(item)
		}
		return out, true
	}
	return nil, false
}

func parseListRanking(raw string) ([]string, bool) {
	loc := finalRanking.FindStringIndex(raw)
	if loc == nil {
		return nil, false
	}

	var out []string
	for _, line := range strings.Split(raw[loc[1]:], "\n") {
		m := numberedLine.FindStringSubmatch(line)
		if m == nil {
			if len(out) > 0 && strings.TrimSpace(line) != "" {
				break
			}
			continue
		}
		out = append(out, normalizeLabel(m[1]))
	}
	return out, len(out) > 0
}

// normalizeLabel pulls the label token out of decorated text such as
// "**Response-7K2QX** (strongest)". Anything unrecognizable is kept as-is
// so validation can report it as foreign.
func normalizeLabel(s string) string {
	if m := labelToken.FindStringSubmatch(s); m != nil {
		return labelPrefix + strings.ToUpper(m[1])
	}
	return strings.TrimSpace(s)
}

func validatePermutation(ordered, labels []string) error {
	want := make(map[string]bool, len(labels))
	for _, l := range labels {
		want[l] = false
	}

	for _, l := range ordered {
		seen, known := want[l]
		if !known {
			return fmt.Errorf("%w: foreign label %q", ErrMalformedRanking, l)
		}
		if seen {
			return fmt.Errorf("%w: duplicate label %q", ErrMalformedRanking, l)
		}
		want[l] = true
	}

	for _, l := range labels {
		if !want[l] {
			return fmt.Errorf("%w: missing label %q", ErrMalformedRanking, l)
		}
	}
	return nil
}
