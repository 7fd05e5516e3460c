package segment

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/paxocial/scribe-mcp-sub003/internal/entry"
	"github.com/paxocial/scribe-mcp-sub003/internal/hashchain"
)

// ErrClosed reports an append attempted on a rotated-away segment. It
// indicates a registry or caller bug and is surfaced as-is.
var ErrClosed = errors.New("segment closed")

// ErrIO reports a failed durable write or read. The in-memory chain state is
// rolled back before it is returned, so retrying the operation is safe.
var ErrIO = errors.New("io failure")

func ioErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrIO, op, err)
}

// Canonical returns the bytes an entry's chain hash is computed over: the
// encoded line with the ID field blank. The id is derived from the hash, so
// it cannot participate in it.
func Canonical(e entry.Entry) ([]byte, error) {
	e.ID = ""
	line, err := entry.Encode(e)
	if err != nil {
		return nil, err
	}
	return []byte(line), nil
}

// Segment is an open handle on one segment file. Mutating methods assume the
// caller holds the project's write lock; the chain hash is sequential state
// and two racing appends would fork it.
type Segment struct {
	path   string
	header Header

	f        *os.File
	size     int64
	count    uint64
	lastHash string
	closed   bool
	trailer  *Trailer

	undoOK    bool
	undoSize  int64
	undoHash  string
	undoCount uint64

	preTrailerSize int64
}

// Create writes a new segment file with the given header and returns an open
// handle positioned for appends. The file must not already exist.
func Create(path string, h Header) (*Segment, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, ioErr("create", err)
	}
	hdr := encodeHeader(h)
	if _, err := f.WriteString(hdr); err != nil {
		f.Close()
		os.Remove(path)
		return nil, ioErr("write header", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, ioErr("sync header", err)
	}
	return &Segment{
		path:     path,
		header:   h,
		f:        f,
		size:     int64(len(hdr)),
		lastHash: h.BaseHash(),
	}, nil
}

// OpenActive opens an existing segment for appending, replaying its entries
// to restore the running chain state and truncating away any torn tail left
// by an unclean shutdown. Opening a closed segment fails with ErrClosed.
func OpenActive(path string) (*Segment, error) {
	p, err := Load(path)
	if err != nil {
		return nil, err
	}
	if p.Trailer != nil {
		return nil, fmt.Errorf("%s: %w", path, ErrClosed)
	}
	if p.Torn {
		if err := os.Truncate(path, p.TornOffset); err != nil {
			return nil, ioErr("truncate torn tail", err)
		}
	}

	run := p.Header.BaseHash()
	for _, it := range p.Items {
		c, err := Canonical(it.Entry)
		if err != nil {
			return nil, fmt.Errorf("segment %s: entry %d: %w", path, it.Pos, err)
		}
		run = hashchain.Link(run, c)
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, ioErr("stat", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return nil, ioErr("open", err)
	}
	return &Segment{
		path:     path,
		header:   p.Header,
		f:        f,
		size:     fi.Size(),
		count:    p.CommittedCount(),
		lastHash: run,
	}, nil
}

// Append links, encodes, and durably writes one entry, returning the
// committed entry with its content-derived id assigned. On write failure the
// file and chain state are restored to their pre-append values.
func (s *Segment) Append(e entry.Entry) (entry.Entry, error) {
	if s.closed {
		return entry.Entry{}, fmt.Errorf("%s: %w", s.path, ErrClosed)
	}
	if e.Project != s.header.Project {
		return entry.Entry{}, fmt.Errorf("segment: entry project %q does not match segment project %q", e.Project, s.header.Project)
	}
	canonical, err := Canonical(e)
	if err != nil {
		return entry.Entry{}, err
	}
	newHash := hashchain.Link(s.lastHash, canonical)
	e.ID = hashchain.ShortID(newHash)
	line, err := entry.Encode(e)
	if err != nil {
		return entry.Entry{}, err
	}

	data := []byte(line + "\n")
	if _, err := s.f.Write(data); err != nil {
		_ = s.f.Truncate(s.size)
		return entry.Entry{}, ioErr("append", err)
	}
	if err := s.f.Sync(); err != nil {
		_ = s.f.Truncate(s.size)
		return entry.Entry{}, ioErr("sync", err)
	}

	s.undoOK = true
	s.undoSize = s.size
	s.undoHash = s.lastHash
	s.undoCount = s.count
	s.size += int64(len(data))
	s.lastHash = newHash
	s.count++
	return e, nil
}

// Rollback undoes the most recent successful Append, truncating the entry
// off disk and restoring the chain state. Used when the index commit that
// follows the file write fails, so a retry does not double-count.
func (s *Segment) Rollback() error {
	if !s.undoOK {
		return errors.New("segment: nothing to roll back")
	}
	if err := s.f.Truncate(s.undoSize); err != nil {
		return ioErr("rollback truncate", err)
	}
	if err := s.f.Sync(); err != nil {
		return ioErr("rollback sync", err)
	}
	s.size = s.undoSize
	s.lastHash = s.undoHash
	s.count = s.undoCount
	s.undoOK = false
	return nil
}

// Close writes the trailer block, freezing the segment's final chain hash and
// entry count. After Close the segment rejects appends.
func (s *Segment) Close(nextPath, rotationID string, at time.Time) (Trailer, error) {
	if s.closed {
		return Trailer{}, fmt.Errorf("%s: %w", s.path, ErrClosed)
	}
	t := Trailer{
		RotationID: rotationID,
		RotatedAt:  at,
		Entries:    s.count,
		ChainHash:  s.lastHash,
		NextPath:   nextPath,
	}
	data := encodeTrailer(t)
	if _, err := s.f.WriteString(data); err != nil {
		_ = s.f.Truncate(s.size)
		return Trailer{}, ioErr("write trailer", err)
	}
	if err := s.f.Sync(); err != nil {
		_ = s.f.Truncate(s.size)
		return Trailer{}, ioErr("sync trailer", err)
	}
	s.preTrailerSize = s.size
	s.size += int64(len(data))
	s.closed = true
	s.trailer = &t
	s.undoOK = false
	return t, nil
}

// Reopen strips a freshly written trailer, returning the segment to the open
// state. It is the undo path for a rotation whose registry advance failed:
// the registry still points here, so the segment must accept appends again.
func (s *Segment) Reopen() error {
	if !s.closed {
		return errors.New("segment: not closed")
	}
	if err := s.f.Truncate(s.preTrailerSize); err != nil {
		return ioErr("reopen truncate", err)
	}
	if err := s.f.Sync(); err != nil {
		return ioErr("reopen sync", err)
	}
	s.size = s.preTrailerSize
	s.closed = false
	s.trailer = nil
	return nil
}

// Release closes the underlying file handle. The segment's on-disk state is
// untouched.
func (s *Segment) Release() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// Path returns the segment's file path.
func (s *Segment) Path() string { return s.path }

// Header returns the segment's back-link metadata.
func (s *Segment) Header() Header { return s.header }

// Count returns the number of committed entries.
func (s *Segment) Count() uint64 { return s.count }

// LastHash returns the chain's current running value.
func (s *Segment) LastHash() string { return s.lastHash }

// IsClosed reports whether a trailer has been written.
func (s *Segment) IsClosed() bool { return s.closed }

// TrailerBlock returns the trailer if the segment is closed.
func (s *Segment) TrailerBlock() (Trailer, bool) {
	if s.trailer == nil {
		return Trailer{}, false
	}
	return *s.trailer, true
}
