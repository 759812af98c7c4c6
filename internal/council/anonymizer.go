package council

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"regexp"
	"strings"

	"basegraph.app/council/internal/model"
)

const (
	labelPrefix = "Response-"
	labelLength = 5
	// Crockford base32: no I, L, O or U, so labels never spell words or
	// confuse 0/O and 1/I.
	labelAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"
	// redactedMarker replaces self-identifying model ids inside response text.
	redactedMarker = "[model]"
	maxLabelTries  = 8
)

// Anonymizer hides model identity behind random labels and shuffles the
// presentation order for every judge.
type Anonymizer struct {
	random io.Reader
}

func NewAnonymizer() *Anonymizer {
	return &Anonymizer{random: rand.Reader}
}

// NewAnonymizerWithSource is for tests that need reproducible labels.
func NewAnonymizerWithSource(r io.Reader) *Anonymizer {
	return &Anonymizer{random: r}
}

// Anonymize labels every successful response. participants are redacted
// from the response texts so a model cannot sign its own answer.
func (a *Anonymizer) Anonymize(responses []model.ModelResponse, participants []string) ([]model.AnonymizedEntry, map[string]string, error) {
	entries := make([]model.AnonymizedEntry, 0, len(responses))
	mapping := make(map[string]string, len(responses))

	for _, r := range responses {
		if !r.Succeeded {
			continue
		}
		label, err := a.uniqueLabel(mapping)
		if err != nil {
			return nil, nil, err
		}
		mapping[label] = r.ModelID
		entries = append(entries, model.AnonymizedEntry{
			Label: label,
			Text:  redact(r.Text, participants),
		})
	}

	return entries, mapping, nil
}

// Shuffle returns a freshly permuted copy of entries.
func (a *Anonymizer) Shuffle(entries []model.AnonymizedEntry) ([]model.AnonymizedEntry, error) {
	out := make([]model.AnonymizedEntry, len(entries))
	copy(out, entries)

	for i := len(out) - 1; i > 0; i-- {
		j, err := a.intn(i + 1)
		if err != nil {
			return nil, err
		}
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (a *Anonymizer) uniqueLabel(taken map[string]string) (string, error) {
	for range maxLabelTries {
		label, err := a.label()
		if err != nil {
			return "", err
		}
		if _, dup := taken[label]; !dup {
			return label, nil
		}
	}
	return "", fmt.Errorf("anonymize: no unique label after %d tries", maxLabelTries)
}

func (a *Anonymizer) label() (string, error) {
	buf := make([]byte, labelLength)
	if _, err := io.ReadFull(a.random, buf); err != nil {
		return "", fmt.Errorf("anonymize: read random: %w", err)
	}
	var sb strings.Builder
	sb.WriteString(labelPrefix)
	for _, b := range buf {
		// 256 is a multiple of 32, so the low five bits are uniform.
		sb.WriteByte(labelAlphabet[b&31])
	}
	return sb.String(), nil
}

// intn draws a uniform int in [0, n) by rejection sampling.
func (a *Anonymizer) intn(n int) (int, error) {
	limit := ^uint64(0) - ^uint64(0)%uint64(n)
	var buf [8]byte
	for {
		if _, err := io.ReadFull(a.random, buf[:]); err != nil {
			return 0, fmt.Errorf("shuffle: read random: %w", err)
		}
		v := binary.BigEndian.Uint64(buf[:])
		if v < limit {
			return int(v % uint64(n)), nil
		}
	}
}

func redact(text string, modelIDs []string) string {
	for _, id := range modelIDs {
		if id == "" {
			continue
		}
		re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(id))
		text = re.ReplaceAllLiteralString(text, redactedMarker)
	}
	return text
}

// mentionsAny reports the first model id that appears in text, ignoring case.
func mentionsAny(text string, modelIDs []string) (string, bool) {
	lower := strings.ToLower(text)
	for _, id := range modelIDs {
		if id != "" && strings.Contains(lower, strings.ToLower(id)) {
			return id, true
		}
	}
	return "", false
}
