package service

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/paxocial/scribe-mcp-sub003/internal/entry"
	"github.com/paxocial/scribe-mcp-sub003/internal/segment"
)

// Cursor encodes a query resume position as 12 bytes: big-endian segment
// sequence (4 bytes) and entry index (8 bytes). Callers treat its string
// form as opaque.
type Cursor [12]byte

// idxEnd marks "start from this segment's last entry" in reverse walks.
const idxEnd = ^uint64(0)

func cursorFrom(seq, idx uint64) Cursor {
	var c Cursor
	binary.BigEndian.PutUint32(c[:4], uint32(seq))
	binary.BigEndian.PutUint64(c[4:], idx)
	return c
}

func (c Cursor) seq() uint64 { return uint64(binary.BigEndian.Uint32(c[:4])) }
func (c Cursor) idx() uint64 { return binary.BigEndian.Uint64(c[4:]) }

// String renders the cursor in its opaque wire form.
func (c Cursor) String() string { return hex.EncodeToString(c[:]) }

var errBadCursor = errors.New("invalid pagination cursor")

// ParseCursor decodes a cursor previously returned in Page.NextCursor.
func ParseCursor(s string) (Cursor, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(Cursor{}) {
		return Cursor{}, errBadCursor
	}
	var c Cursor
	copy(c[:], raw)
	return c, nil
}

// QueryOptions filters and paginates a query walk.
type QueryOptions struct {
	// Reverse walks newest-first.
	Reverse bool
	// Limit caps the page size; 0 uses the configured default.
	Limit int
	// Cursor resumes a prior walk from its NextCursor.
	Cursor string

	Severity *entry.Severity
	Agent    string
	Since    time.Time
	Until    time.Time
	// Filter is an optional CEL expression; see package doc for variables.
	Filter string
}

// SkippedLine reports a malformed line encountered during the walk. The walk
// continues past it.
type SkippedLine struct {
	Segment uint64
	Pos     int
	Reason  string
}

// Page is one page of query results.
type Page struct {
	Entries []entry.Entry
	// NextCursor resumes the walk; empty when the walk is exhausted.
	NextCursor string
	Skipped    []SkippedLine
}

// Query walks the project's segments in chain order applying the filters,
// returning up to one page of entries and a continuation cursor.
func (s *Service) Query(ctx context.Context, project string, opts QueryOptions) (*Page, error) {
	paths, err := s.segmentPaths(project)
	if err != nil {
		return nil, err
	}
	filter, err := newCELFilter(opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("query filter: %w", err)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = s.cfg.QueryPageSize
	}
	if limit <= 0 {
		limit = 100
	}

	startSeq, startIdx := uint64(0), uint64(0)
	hasStart := false
	if opts.Cursor != "" {
		c, err := ParseCursor(opts.Cursor)
		if err != nil {
			return nil, err
		}
		startSeq, startIdx = c.seq(), c.idx()
		hasStart = true
	}

	if opts.Reverse {
		if !hasStart {
			startSeq, startIdx = idxEnd, idxEnd
		}
		return s.walkReverse(ctx, paths, opts, filter, limit, startSeq, startIdx)
	}
	return s.walkForward(ctx, paths, opts, filter, limit, startSeq, startIdx)
}

func (s *Service) walkForward(ctx context.Context, paths []string, opts QueryOptions, filter celFilter, limit int, startSeq, startIdx uint64) (*Page, error) {
	page := &Page{}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := segment.Load(path)
		if err != nil {
			return nil, err
		}
		seq := p.Header.Sequence
		if seq < startSeq {
			continue
		}
		for _, bad := range p.Bad {
			if seq == startSeq && uint64(bad.Pos) < startIdx {
				continue
			}
			page.Skipped = append(page.Skipped, SkippedLine{Segment: seq, Pos: bad.Pos, Reason: bad.Err.Error()})
		}
		for _, it := range p.Items {
			if seq == startSeq && uint64(it.Pos) < startIdx {
				continue
			}
			if !matches(opts, it.Entry) || !filter.Eval(seq, it.Pos, it.Entry) {
				continue
			}
			page.Entries = append(page.Entries, it.Entry)
			if len(page.Entries) == limit {
				page.NextCursor = cursorFrom(seq, uint64(it.Pos)+1).String()
				return page, nil
			}
		}
	}
	return page, nil
}

func (s *Service) walkReverse(ctx context.Context, paths []string, opts QueryOptions, filter celFilter, limit int, startSeq, startIdx uint64) (*Page, error) {
	page := &Page{}
	for i := len(paths) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := segment.Load(paths[i])
		if err != nil {
			return nil, err
		}
		seq := p.Header.Sequence
		if seq > startSeq {
			continue
		}
		for _, bad := range p.Bad {
			if seq == startSeq && startIdx != idxEnd && uint64(bad.Pos) > startIdx {
				continue
			}
			page.Skipped = append(page.Skipped, SkippedLine{Segment: seq, Pos: bad.Pos, Reason: bad.Err.Error()})
		}
		for j := len(p.Items) - 1; j >= 0; j-- {
			it := p.Items[j]
			if seq == startSeq && startIdx != idxEnd && uint64(it.Pos) > startIdx {
				continue
			}
			if !matches(opts, it.Entry) || !filter.Eval(seq, it.Pos, it.Entry) {
				continue
			}
			page.Entries = append(page.Entries, it.Entry)
			if len(page.Entries) == limit {
				switch {
				case it.Pos > 0:
					page.NextCursor = cursorFrom(seq, uint64(it.Pos)-1).String()
				case seq > 0:
					page.NextCursor = cursorFrom(seq-1, idxEnd).String()
				}
				return page, nil
			}
		}
	}
	return page, nil
}

func matches(opts QueryOptions, e entry.Entry) bool {
	if opts.Severity != nil && e.Severity != *opts.Severity {
		return false
	}
	if opts.Agent != "" && e.Agent != opts.Agent {
		return false
	}
	if !opts.Since.IsZero() && e.Timestamp.Before(opts.Since) {
		return false
	}
	if !opts.Until.IsZero() && e.Timestamp.After(opts.Until) {
		return false
	}
	return true
}
