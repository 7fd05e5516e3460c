package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/paxocial/scribe-mcp-sub003/internal/hashchain"
	"github.com/paxocial/scribe-mcp-sub003/internal/segment"
)

// ErrChainBroken reports a failed chain verification. The wrapping error
// names the project, segment, and entry position of the first break.
var ErrChainBroken = errors.New("chain broken")

// Break pinpoints the first verification failure. Position is the entry
// index within the segment, or -1 for a segment-level break (bad header,
// missing trailer, broken linkage).
type Break struct {
	Segment  uint64
	Position int
	Reason   string
	Want     string
	Got      string
}

// Report is the outcome of a full chain verification.
type Report struct {
	Project  string
	OK       bool
	Segments int
	Entries  uint64
	// RootHash is the chain hash after replaying every committed entry.
	RootHash string
	Break    *Break
}

// Err converts a failed report into a ChainBroken error, or nil when clean.
func (r *Report) Err() error {
	if r.OK || r.Break == nil {
		return nil
	}
	return fmt.Errorf("%w: project %q segment %d position %d: %s",
		ErrChainBroken, r.Project, r.Break.Segment, r.Break.Position, r.Break.Reason)
}

// Verify replays the project's whole chain from genesis: every segment's
// header back-link, every committed entry's hash against the stored index,
// every trailer's closing hash and count. It stops at the first break and
// names it. Read-only; safe to run concurrently with appends.
func (s *Service) Verify(ctx context.Context, project string) (*Report, error) {
	paths, err := s.segmentPaths(project)
	if err != nil {
		return nil, err
	}

	rep := &Report{Project: project, Segments: len(paths)}
	fail := func(seg uint64, pos int, reason, want, got string) (*Report, error) {
		rep.Break = &Break{Segment: seg, Position: pos, Reason: reason, Want: want, Got: got}
		return rep, nil
	}

	var prev *segment.Parsed
	running := ""
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := segment.Load(path)
		if err != nil {
			return nil, err
		}
		h := p.Header

		if h.Sequence != uint64(i) {
			return fail(uint64(i), -1, "segment sequence gap",
				fmt.Sprintf("%d", i), fmt.Sprintf("%d", h.Sequence))
		}
		if i == 0 {
			want := hashchain.Genesis(project)
			if h.Genesis != want {
				return fail(0, -1, "genesis mismatch", want, h.Genesis)
			}
			running = h.Genesis
		} else {
			if prev.Trailer == nil {
				return fail(uint64(i-1), -1, "interior segment missing trailer", "", "")
			}
			if got := filepath.Base(path); prev.Trailer.NextPath != got {
				return fail(uint64(i-1), -1, "trailer next-path mismatch", prev.Trailer.NextPath, got)
			}
			if want := filepath.Base(prev.Path); h.PrevPath != want {
				return fail(h.Sequence, -1, "header previous-path mismatch", want, h.PrevPath)
			}
			if h.PrevHash != prev.Trailer.ChainHash {
				return fail(h.Sequence, -1, "header back-link hash mismatch", prev.Trailer.ChainHash, h.PrevHash)
			}
			if h.PrevEntries != prev.Trailer.Entries {
				return fail(h.Sequence, -1, "header back-link entry count mismatch",
					fmt.Sprintf("%d", prev.Trailer.Entries), fmt.Sprintf("%d", h.PrevEntries))
			}
			if h.PrevHash != running {
				return fail(h.Sequence, -1, "chain discontinuity at segment boundary", running, h.PrevHash)
			}
		}

		base := running
		var segHashes []string
		bi := 0
		for _, it := range p.Items {
			// A malformed line inside a committed region means the file was
			// altered after the fact: everything past it is unverifiable.
			if bi < len(p.Bad) && p.Bad[bi].Pos < it.Pos {
				return fail(h.Sequence, p.Bad[bi].Pos, "malformed entry: "+p.Bad[bi].Err.Error(), "", "")
			}
			canonical, cerr := segment.Canonical(it.Entry)
			if cerr != nil {
				return fail(h.Sequence, it.Pos, "entry not canonicalizable: "+cerr.Error(), "", "")
			}
			next := hashchain.Link(running, canonical)
			if want, ok := s.reg.EntryHash(project, h.Sequence, uint64(it.Pos)); ok && want != next {
				return fail(h.Sequence, it.Pos, "entry hash diverges from append-time index", want, next)
			}
			if wantID := hashchain.ShortID(next); it.Entry.ID != wantID {
				return fail(h.Sequence, it.Pos, "entry id does not match chain hash", wantID, it.Entry.ID)
			}
			running = next
			segHashes = append(segHashes, next)
			rep.Entries++
		}
		if bi < len(p.Bad) {
			bad := p.Bad[bi]
			return fail(h.Sequence, bad.Pos, "malformed entry: "+bad.Err.Error(), "", "")
		}

		segRoot := hashchain.SegmentRoot(base, segHashes)
		if p.Trailer != nil {
			if p.Trailer.ChainHash != segRoot {
				return fail(h.Sequence, -1, "trailer chain hash mismatch", segRoot, p.Trailer.ChainHash)
			}
			if got := uint64(len(p.Items)); p.Trailer.Entries != got {
				return fail(h.Sequence, -1, "trailer entry count mismatch",
					fmt.Sprintf("%d", p.Trailer.Entries), fmt.Sprintf("%d", got))
			}
		} else if i < len(paths)-1 {
			return fail(h.Sequence, -1, "interior segment missing trailer", "", "")
		} else {
			// Active segment: the registry snapshot lags the file only across a
			// crashed index commit, so compare hashes when the counts agree.
			st, known, serr := s.reg.Snapshot(project)
			if serr != nil {
				return nil, serr
			}
			if known && st.Sequence == h.Sequence && st.EntryCount == uint64(len(p.Items)) && st.LastHash != running {
				return fail(h.Sequence, -1, "registry chain state diverged", st.LastHash, running)
			}
		}
		prev = p
	}

	rep.RootHash = running
	rep.OK = true
	return rep, nil
}
