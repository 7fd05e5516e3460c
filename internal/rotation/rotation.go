package rotation

import (
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/paxocial/scribe-mcp-sub003/internal/registry"
	"github.com/paxocial/scribe-mcp-sub003/internal/segment"
	logpkg "github.com/paxocial/scribe-mcp-sub003/pkg/log"
)

// Hook is an optional callback invoked after a rotation closes a segment.
// Implementations may enqueue the closed segment for archival or emit
// metrics.
type Hook interface {
	SegmentClosed(project string, sequence uint64, trailer segment.Trailer)
}

type noopHook struct{}

func (noopHook) SegmentClosed(string, uint64, segment.Trailer) {}

// Summary reports the outcome of a rotation attempt.
type Summary struct {
	Project string
	Rotated bool
	// The fields below are set when Rotated is true.
	RotationID     string
	ClosedSequence uint64
	ClosedEntries  uint64
	ChainHash      string
	NewSequence    uint64
	NewPath        string
}

// Manager decides when segments roll over and performs the rollover.
type Manager struct {
	logger logpkg.Logger
	hook   Hook
}

// New creates a Manager. A nil hook defaults to a no-op.
func New(logger logpkg.Logger, hook Hook) *Manager {
	if hook == nil {
		hook = noopHook{}
	}
	return &Manager{logger: logger.WithComponent("rotation"), hook: hook}
}

// MaybeRotate rotates the project's active segment if its entry count has
// reached threshold. Caller holds p.Mu.
func (m *Manager) MaybeRotate(p *registry.Project, threshold int) (*Summary, error) {
	if threshold <= 0 || p.Active.Count() < uint64(threshold) {
		return &Summary{Project: p.Name}, nil
	}
	return m.Rotate(p)
}

// Rotate closes the active segment and opens its successor. Rotating an
// empty or already-rotated-away segment is a no-op, which is what resolves
// concurrent rotation attempts to exactly one successor. Caller holds p.Mu.
func (m *Manager) Rotate(p *registry.Project) (*Summary, error) {
	old := p.Active
	if old.IsClosed() || old.Count() == 0 {
		return &Summary{Project: p.Name}, nil
	}

	st := p.State()
	newSeq := st.ActiveSequence + 1
	rotationID := uuid.NewString()
	now := time.Now().UTC()
	nextName := segment.FileName(newSeq)
	nextPath := filepath.Join(p.Dir, nextName)

	// Successor first: a failure here leaves the active segment untouched.
	newSeg, err := segment.Create(nextPath, segment.Header{
		Project:        p.Name,
		Sequence:       newSeq,
		RotationID:     rotationID,
		RotatedAt:      now,
		TotalRotations: st.TotalRotations + 1,
		PrevPath:       filepath.Base(old.Path()),
		PrevHash:       old.LastHash(),
		PrevEntries:    old.Count(),
	})
	if err != nil {
		return nil, err
	}

	trailer, err := old.Close(nextName, rotationID, now)
	if err != nil {
		_ = newSeg.Release()
		_ = os.Remove(nextPath)
		return nil, err
	}

	if err := p.AdvanceTo(newSeg); err != nil {
		// Registry pointer is unchanged; strip the trailer so the old segment
		// accepts appends again, and remove the orphan successor.
		if rerr := old.Reopen(); rerr != nil {
			m.logger.Error("failed to reopen segment after aborted rotation",
				logpkg.Str("project", p.Name), logpkg.Err(rerr))
		}
		_ = newSeg.Release()
		_ = os.Remove(nextPath)
		return nil, err
	}

	m.logger.Info("segment rotated",
		logpkg.Str("project", p.Name),
		logpkg.Uint64("closed_sequence", st.ActiveSequence),
		logpkg.Uint64("closed_entries", trailer.Entries),
		logpkg.Uint64("new_sequence", newSeq),
		logpkg.Str("rotation_id", rotationID))
	m.hook.SegmentClosed(p.Name, st.ActiveSequence, trailer)

	return &Summary{
		Project:        p.Name,
		Rotated:        true,
		RotationID:     rotationID,
		ClosedSequence: st.ActiveSequence,
		ClosedEntries:  trailer.Entries,
		ChainHash:      trailer.ChainHash,
		NewSequence:    newSeq,
		NewPath:        nextName,
	}, nil
}
