package segment

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/paxocial/scribe-mcp-sub003/internal/entry"
)

// Item is one committed entry with its position in the segment.
type Item struct {
	// Pos is the 0-based position among the segment's committed entry lines.
	Pos   int
	Entry entry.Entry
}

// BadLine is a committed line that failed to decode. Scans skip and report
// these; they never abort a walk.
type BadLine struct {
	Pos int
	Raw string
	Err error
}

// Parsed is the read-only view of a segment file. Re-loading the same file
// yields the same view, which is what makes scans restartable.
type Parsed struct {
	Path    string
	Header  Header
	Trailer *Trailer
	Items   []Item
	Bad     []BadLine
	// Torn reports a not-yet-committed tail: an unterminated or undecodable
	// final line, or an incomplete trailer block left by a crash mid-close.
	// TornOffset is the byte offset the tail starts at.
	Torn       bool
	TornOffset int64
}

type rawLine struct {
	text       string
	start      int64
	terminated bool
}

// Load parses a segment file. Malformed mid-file lines are collected in Bad;
// a torn tail is excluded from Items entirely.
func Load(path string) (*Parsed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ioErr("open", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var offset int64
	var headerLines []string
	var entryLines []rawLine
	var trailerLines []string
	var trailerStart int64
	var trailerTerminated bool

	const (
		phaseHeader = iota
		phaseEntries
		phaseTrailer
	)
	phase := phaseHeader
	first := true

	for {
		raw, rerr := br.ReadString('\n')
		if raw == "" && rerr != nil {
			break
		}
		start := offset
		offset += int64(len(raw))
		terminated := strings.HasSuffix(raw, "\n")
		text := strings.TrimSuffix(raw, "\n")

		if first {
			if text != headerMagic {
				return nil, fmt.Errorf("segment %s: not a segment file", path)
			}
			headerLines = append(headerLines, text)
			first = false
			continue
		}

		switch phase {
		case phaseHeader:
			if text == trailerMagic {
				phase = phaseTrailer
				trailerStart = start
				trailerLines = append(trailerLines, text)
				trailerTerminated = terminated
				continue
			}
			if strings.HasPrefix(text, "#") {
				headerLines = append(headerLines, text)
				continue
			}
			phase = phaseEntries
			fallthrough
		case phaseEntries:
			if text == trailerMagic {
				phase = phaseTrailer
				trailerStart = start
				trailerLines = append(trailerLines, text)
				trailerTerminated = terminated
				continue
			}
			if text == "" {
				continue
			}
			entryLines = append(entryLines, rawLine{text: text, start: start, terminated: terminated})
		case phaseTrailer:
			trailerLines = append(trailerLines, text)
			trailerTerminated = terminated
		}

		if rerr == io.EOF {
			break
		}
	}

	h, err := parseHeader(headerLines)
	if err != nil {
		return nil, fmt.Errorf("segment %s: %w", path, err)
	}

	p := &Parsed{Path: path, Header: h}

	if len(trailerLines) > 0 {
		if t, ok := parseTrailer(trailerLines); ok && trailerTerminated {
			p.Trailer = &t
		} else {
			// Crash mid-close: the segment is still open and the partial
			// trailer is a torn tail.
			p.Torn = true
			p.TornOffset = trailerStart
		}
	}

	for i, rl := range entryLines {
		last := i == len(entryLines)-1
		openTail := last && p.Trailer == nil && !p.Torn
		if openTail && !rl.terminated {
			p.Torn = true
			p.TornOffset = rl.start
			continue
		}
		e, derr := entry.Decode(rl.text)
		if derr != nil {
			if openTail {
				p.Torn = true
				p.TornOffset = rl.start
				continue
			}
			p.Bad = append(p.Bad, BadLine{Pos: i, Raw: rl.text, Err: derr})
			continue
		}
		p.Items = append(p.Items, Item{Pos: i, Entry: e})
	}
	return p, nil
}

// CommittedCount returns the number of committed entry lines, decodable or not.
func (p *Parsed) CommittedCount() uint64 {
	return uint64(len(p.Items) + len(p.Bad))
}
