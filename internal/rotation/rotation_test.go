package rotation

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/paxocial/scribe-mcp-sub003/internal/entry"
	"github.com/paxocial/scribe-mcp-sub003/internal/registry"
	"github.com/paxocial/scribe-mcp-sub003/internal/segment"
	pebblestore "github.com/paxocial/scribe-mcp-sub003/internal/storage/pebble"
	logpkg "github.com/paxocial/scribe-mcp-sub003/pkg/log"
)

func newTestProject(t *testing.T) (*registry.Registry, *registry.Project) {
	t.Helper()
	dir := t.TempDir()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: filepath.Join(dir, "index"), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	logger := logpkg.NewLogger(logpkg.WithOutput(io.Discard))
	r, err := registry.New(db, filepath.Join(dir, "logs"), "[a-z]+", logger)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	p, err := r.Resolve("demo")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return r, p
}

func appendN(t *testing.T, p *registry.Project, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		e := entry.Entry{
			Severity:  entry.Info,
			Timestamp: time.Date(2026, 8, 23, 10, 0, i, 0, time.UTC),
			Agent:     "tester",
			Project:   "demo",
			Message:   "entry",
		}
		if _, err := p.AppendEntry(context.Background(), e); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
}

type captureHook struct {
	calls []segment.Trailer
}

func (h *captureHook) SegmentClosed(_ string, _ uint64, tr segment.Trailer) {
	h.calls = append(h.calls, tr)
}

func TestMaybeRotateBelowThresholdIsNoop(t *testing.T) {
	_, p := newTestProject(t)
	m := New(logpkg.NewLogger(logpkg.WithOutput(io.Discard)), nil)

	p.Mu.Lock()
	defer p.Mu.Unlock()
	appendN(t, p, 1)
	sum, err := m.MaybeRotate(p, 2)
	if err != nil {
		t.Fatalf("maybe rotate: %v", err)
	}
	if sum.Rotated {
		t.Fatalf("rotated below threshold")
	}
	if p.State().ActiveSequence != 0 {
		t.Fatalf("active pointer moved")
	}
}

func TestRotationLinkage(t *testing.T) {
	_, p := newTestProject(t)
	hook := &captureHook{}
	m := New(logpkg.NewLogger(logpkg.WithOutput(io.Discard)), hook)

	p.Mu.Lock()
	appendN(t, p, 2)
	closedHash := p.Active.LastHash()
	oldPath := p.Active.Path()
	sum, err := m.MaybeRotate(p, 2)
	p.Mu.Unlock()
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if !sum.Rotated || sum.ClosedSequence != 0 || sum.NewSequence != 1 || sum.ClosedEntries != 2 {
		t.Fatalf("unexpected summary: %+v", sum)
	}

	closed, err := segment.Load(oldPath)
	if err != nil {
		t.Fatalf("load closed: %v", err)
	}
	if closed.Trailer == nil {
		t.Fatalf("closed segment missing trailer")
	}
	if closed.Trailer.ChainHash != closedHash || closed.Trailer.Entries != 2 {
		t.Fatalf("trailer mismatch: %+v", closed.Trailer)
	}
	if closed.Trailer.NextPath != segment.FileName(1) {
		t.Fatalf("trailer next-path: %q", closed.Trailer.NextPath)
	}

	h := p.Active.Header()
	if h.Sequence != 1 || h.PrevHash != closed.Trailer.ChainHash || h.PrevEntries != 2 || h.PrevPath != segment.FileName(0) {
		t.Fatalf("successor header mismatch: %+v", h)
	}
	if p.Active.LastHash() != closed.Trailer.ChainHash {
		t.Fatalf("chain must continue from trailer hash")
	}

	if len(hook.calls) != 1 || hook.calls[0].ChainHash != closedHash {
		t.Fatalf("hook not invoked with trailer: %+v", hook.calls)
	}
}

func TestForcedRotationIsIdempotent(t *testing.T) {
	_, p := newTestProject(t)
	m := New(logpkg.NewLogger(logpkg.WithOutput(io.Discard)), nil)

	p.Mu.Lock()
	defer p.Mu.Unlock()
	appendN(t, p, 1)

	first, err := m.Rotate(p)
	if err != nil || !first.Rotated {
		t.Fatalf("first force rotate: %+v %v", first, err)
	}
	// Immediate second force: the fresh segment is empty, so this is a no-op.
	second, err := m.Rotate(p)
	if err != nil {
		t.Fatalf("second force rotate: %v", err)
	}
	if second.Rotated {
		t.Fatalf("second rotation created a segment")
	}
	if p.State().ActiveSequence != 1 {
		t.Fatalf("want exactly one successor, active=%d", p.State().ActiveSequence)
	}
}

func TestAppendsContinueAcrossRotation(t *testing.T) {
	_, p := newTestProject(t)
	m := New(logpkg.NewLogger(logpkg.WithOutput(io.Discard)), nil)

	p.Mu.Lock()
	defer p.Mu.Unlock()
	appendN(t, p, 3)
	if _, err := m.Rotate(p); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	appendN(t, p, 1)
	st := p.State()
	if st.ActiveSequence != 1 || st.EntryCount != 1 || st.TotalRotations != 1 {
		t.Fatalf("state after post-rotation append: %+v", st)
	}
}
