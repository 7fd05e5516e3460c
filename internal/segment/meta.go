package segment

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/paxocial/scribe-mcp-sub003/internal/entry"
)

const (
	headerMagic  = "# scribelog segment v1"
	trailerMagic = "# scribelog trailer"
)

// Header is the back-link metadata block at the top of every segment file.
type Header struct {
	Project  string
	Sequence uint64
	// RotationID identifies the rotation that created this segment. The root
	// segment carries the id minted at project creation.
	RotationID string
	RotatedAt  time.Time
	// TotalRotations is the project's rotation count when this segment was
	// created.
	TotalRotations uint64
	// Genesis is the project's fixed chain-root hash. Set on sequence 0 only.
	Genesis string
	// PrevPath/PrevHash/PrevEntries back-link to the predecessor segment.
	// Set on sequence > 0 only. PrevPath is the predecessor's file name,
	// re-resolved against the project directory at read time.
	PrevPath    string
	PrevHash    string
	PrevEntries uint64
}

// BaseHash returns the chain value the segment's first entry links from.
func (h Header) BaseHash() string {
	if h.Sequence == 0 {
		return h.Genesis
	}
	return h.PrevHash
}

// Trailer is the closing metadata block written by rotation. Its presence
// marks the segment closed.
type Trailer struct {
	RotationID string
	RotatedAt  time.Time
	Entries    uint64
	ChainHash  string
	NextPath   string
}

func encodeHeader(h Header) string {
	var b strings.Builder
	b.WriteString(headerMagic + "\n")
	fmt.Fprintf(&b, "# project: %s\n", h.Project)
	fmt.Fprintf(&b, "# sequence: %d\n", h.Sequence)
	fmt.Fprintf(&b, "# rotation-id: %s\n", h.RotationID)
	fmt.Fprintf(&b, "# rotated-at: %s\n", h.RotatedAt.UTC().Format(entry.TimeLayout))
	fmt.Fprintf(&b, "# total-rotations: %d\n", h.TotalRotations)
	if h.Sequence == 0 {
		fmt.Fprintf(&b, "# genesis: %s\n", h.Genesis)
	} else {
		fmt.Fprintf(&b, "# previous-path: %s\n", h.PrevPath)
		fmt.Fprintf(&b, "# previous-hash: %s\n", h.PrevHash)
		fmt.Fprintf(&b, "# previous-entries: %d\n", h.PrevEntries)
	}
	return b.String()
}

func encodeTrailer(t Trailer) string {
	var b strings.Builder
	b.WriteString(trailerMagic + "\n")
	fmt.Fprintf(&b, "# rotation-id: %s\n", t.RotationID)
	fmt.Fprintf(&b, "# rotated-at: %s\n", t.RotatedAt.UTC().Format(entry.TimeLayout))
	fmt.Fprintf(&b, "# entries: %d\n", t.Entries)
	fmt.Fprintf(&b, "# chain-hash: %s\n", t.ChainHash)
	fmt.Fprintf(&b, "# next-path: %s\n", t.NextPath)
	return b.String()
}

// metaFields parses "# key: value" lines into a map, ignoring the magic line.
func metaFields(lines []string) map[string]string {
	m := make(map[string]string, len(lines))
	for _, l := range lines {
		body := strings.TrimPrefix(l, "# ")
		k, v, ok := strings.Cut(body, ": ")
		if !ok {
			continue
		}
		m[k] = v
	}
	return m
}

func parseHeader(lines []string) (Header, error) {
	if len(lines) == 0 || lines[0] != headerMagic {
		return Header{}, fmt.Errorf("segment: missing header magic")
	}
	f := metaFields(lines[1:])
	var h Header
	h.Project = f["project"]
	if h.Project == "" {
		return Header{}, fmt.Errorf("segment: header missing project")
	}
	seq, err := strconv.ParseUint(f["sequence"], 10, 64)
	if err != nil {
		return Header{}, fmt.Errorf("segment: header bad sequence %q", f["sequence"])
	}
	h.Sequence = seq
	h.RotationID = f["rotation-id"]
	if ts, err := time.Parse(entry.TimeLayout, f["rotated-at"]); err == nil {
		h.RotatedAt = ts
	}
	h.TotalRotations, _ = strconv.ParseUint(f["total-rotations"], 10, 64)
	if seq == 0 {
		h.Genesis = f["genesis"]
		if h.Genesis == "" {
			return Header{}, fmt.Errorf("segment: root header missing genesis")
		}
	} else {
		h.PrevPath = f["previous-path"]
		h.PrevHash = f["previous-hash"]
		if h.PrevPath == "" || h.PrevHash == "" {
			return Header{}, fmt.Errorf("segment: header missing previous linkage")
		}
		h.PrevEntries, err = strconv.ParseUint(f["previous-entries"], 10, 64)
		if err != nil {
			return Header{}, fmt.Errorf("segment: header bad previous-entries %q", f["previous-entries"])
		}
	}
	return h, nil
}

// parseTrailer returns ok=false when the block is incomplete, which readers
// treat as a torn close: the segment is still open.
func parseTrailer(lines []string) (Trailer, bool) {
	if len(lines) == 0 || lines[0] != trailerMagic {
		return Trailer{}, false
	}
	f := metaFields(lines[1:])
	var t Trailer
	t.RotationID = f["rotation-id"]
	if ts, err := time.Parse(entry.TimeLayout, f["rotated-at"]); err == nil {
		t.RotatedAt = ts
	}
	n, err := strconv.ParseUint(f["entries"], 10, 64)
	if err != nil {
		return Trailer{}, false
	}
	t.Entries = n
	t.ChainHash = f["chain-hash"]
	t.NextPath = f["next-path"]
	if t.ChainHash == "" {
		return Trailer{}, false
	}
	return t, true
}

// FileName returns the canonical file name for a segment sequence number.
func FileName(seq uint64) string {
	return fmt.Sprintf("segment-%06d.log", seq)
}
