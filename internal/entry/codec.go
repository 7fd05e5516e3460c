package entry

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformed reports a line that cannot be decoded as an audit entry.
// Callers scanning a segment skip-and-report such lines; they never abort a
// whole walk.
var ErrMalformed = errors.New("malformed entry")

const (
	metaDelim     = " | "
	pairDelim     = "; "
	agentPrefix   = "Agent: "
	projectPrefix = "Project: "
	idPrefix      = "ID: "
)

// Encode renders the entry as its single-line on-disk representation.
// It rejects entries the decoder could not round-trip: embedded newlines,
// a message containing the metadata delimiter, bracket-breaking tags, or
// duplicate metadata keys.
func Encode(e Entry) (string, error) {
	if e.Severity < Info || e.Severity > Critical {
		return "", fmt.Errorf("entry: invalid severity %d", int(e.Severity))
	}
	if e.Timestamp.IsZero() {
		return "", errors.New("entry: zero timestamp")
	}
	if err := validateTag("agent", e.Agent); err != nil {
		return "", err
	}
	if err := validateTag("project", e.Project); err != nil {
		return "", err
	}
	if err := validateTag("id", e.ID); err != nil && e.ID != "" {
		return "", err
	}
	if e.Message == "" {
		return "", errors.New("entry: empty message")
	}
	if strings.ContainsAny(e.Message, "\n\r") {
		return "", errors.New("entry: message contains newline")
	}
	if strings.Contains(e.Message, metaDelim) {
		return "", fmt.Errorf("entry: message contains metadata delimiter %q", metaDelim)
	}
	// On an id-less line the decoder would read such a message prefix as the
	// optional id field.
	if e.ID == "" && strings.HasPrefix(e.Message, "["+idPrefix) {
		return "", fmt.Errorf("entry: id-less message starts with %q", "["+idPrefix)
	}

	var b strings.Builder
	b.WriteString("[")
	b.WriteString(e.Severity.Glyph())
	b.WriteString("] [")
	b.WriteString(e.Timestamp.UTC().Format(TimeLayout))
	b.WriteString("] [")
	b.WriteString(agentPrefix)
	b.WriteString(e.Agent)
	b.WriteString("] [")
	b.WriteString(projectPrefix)
	b.WriteString(e.Project)
	b.WriteString("]")
	if e.ID != "" {
		b.WriteString(" [")
		b.WriteString(idPrefix)
		b.WriteString(e.ID)
		b.WriteString("]")
	}
	b.WriteString(" ")
	b.WriteString(e.Message)

	if len(e.Metadata) > 0 {
		seen := make(map[string]struct{}, len(e.Metadata))
		b.WriteString(metaDelim)
		for i, p := range e.Metadata {
			if err := validateMetaKey(p.Key); err != nil {
				return "", err
			}
			if _, dup := seen[p.Key]; dup {
				return "", fmt.Errorf("entry: duplicate metadata key %q", p.Key)
			}
			seen[p.Key] = struct{}{}
			if strings.ContainsAny(p.Value, ";\n\r") {
				return "", fmt.Errorf("entry: metadata value for %q contains reserved character", p.Key)
			}
			if i > 0 {
				b.WriteString(pairDelim)
			}
			b.WriteString(p.Key)
			b.WriteString("=")
			b.WriteString(p.Value)
		}
	}
	return b.String(), nil
}

// Decode parses one on-disk line. Lines from older segments may omit the ID
// field and may carry legacy word-form severity markers; anything missing
// timestamp, agent, project, or message fails with ErrMalformed.
func Decode(line string) (Entry, error) {
	s := strings.TrimSuffix(line, "\r")
	if s == "" {
		return Entry{}, fmt.Errorf("%w: empty line", ErrMalformed)
	}

	marker, rest, err := nextField(s)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: missing severity marker", ErrMalformed)
	}
	sev, ok := parseMarker(marker)
	if !ok {
		return Entry{}, fmt.Errorf("%w: unknown severity marker %q", ErrMalformed, marker)
	}

	tsStr, rest, err := nextField(rest)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: missing timestamp", ErrMalformed)
	}
	ts, err := time.Parse(TimeLayout, tsStr)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: bad timestamp %q", ErrMalformed, tsStr)
	}

	agentField, rest, err := nextField(rest)
	if err != nil || !strings.HasPrefix(agentField, agentPrefix) {
		return Entry{}, fmt.Errorf("%w: missing agent tag", ErrMalformed)
	}
	agent := agentField[len(agentPrefix):]
	if agent == "" {
		return Entry{}, fmt.Errorf("%w: empty agent", ErrMalformed)
	}

	projectField, rest, err := nextField(rest)
	if err != nil || !strings.HasPrefix(projectField, projectPrefix) {
		return Entry{}, fmt.Errorf("%w: missing project tag", ErrMalformed)
	}
	project := projectField[len(projectPrefix):]
	if project == "" {
		return Entry{}, fmt.Errorf("%w: empty project", ErrMalformed)
	}

	// Optional correlation id (absent in older segments).
	var id string
	if strings.HasPrefix(rest, " ["+idPrefix) {
		var idField string
		idField, rest, err = nextField(rest)
		if err != nil {
			return Entry{}, fmt.Errorf("%w: unterminated id tag", ErrMalformed)
		}
		id = idField[len(idPrefix):]
	}

	if !strings.HasPrefix(rest, " ") {
		return Entry{}, fmt.Errorf("%w: missing message", ErrMalformed)
	}
	msg := rest[1:]

	var pairs []Pair
	if i := strings.Index(msg, metaDelim); i >= 0 {
		metaStr := msg[i+len(metaDelim):]
		msg = msg[:i]
		pairs, err = parseMetadata(metaStr)
		if err != nil {
			return Entry{}, err
		}
	}
	if msg == "" {
		return Entry{}, fmt.Errorf("%w: empty message", ErrMalformed)
	}

	return Entry{
		Severity:  sev,
		Timestamp: ts,
		Agent:     agent,
		Project:   project,
		ID:        id,
		Message:   msg,
		Metadata:  pairs,
	}, nil
}

// nextField consumes an optional leading space and one bracketed field.
func nextField(s string) (content, rest string, err error) {
	s = strings.TrimPrefix(s, " ")
	if !strings.HasPrefix(s, "[") {
		return "", "", fmt.Errorf("%w: expected bracketed field", ErrMalformed)
	}
	end := strings.Index(s, "]")
	if end < 0 {
		return "", "", fmt.Errorf("%w: unterminated bracketed field", ErrMalformed)
	}
	return s[1:end], s[end+1:], nil
}

func parseMetadata(s string) ([]Pair, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty metadata suffix", ErrMalformed)
	}
	parts := strings.Split(s, pairDelim)
	pairs := make([]Pair, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		k, v, ok := strings.Cut(part, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: bad metadata pair %q", ErrMalformed, part)
		}
		if _, dup := seen[k]; dup {
			return nil, fmt.Errorf("%w: duplicate metadata key %q", ErrMalformed, k)
		}
		seen[k] = struct{}{}
		pairs = append(pairs, Pair{Key: k, Value: v})
	}
	return pairs, nil
}

func validateTag(name, v string) error {
	if v == "" {
		return fmt.Errorf("entry: empty %s", name)
	}
	if strings.ContainsAny(v, "[]\n\r") {
		return fmt.Errorf("entry: %s contains reserved character", name)
	}
	return nil
}

func validateMetaKey(k string) error {
	if k == "" {
		return errors.New("entry: empty metadata key")
	}
	if strings.ContainsAny(k, "=; \n\r") {
		return fmt.Errorf("entry: metadata key %q contains reserved character", k)
	}
	return nil
}
