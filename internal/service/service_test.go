package service

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paxocial/scribe-mcp-sub003/internal/config"
	"github.com/paxocial/scribe-mcp-sub003/internal/entry"
	"github.com/paxocial/scribe-mcp-sub003/internal/registry"
	"github.com/paxocial/scribe-mcp-sub003/internal/rotation"
	pebblestore "github.com/paxocial/scribe-mcp-sub003/internal/storage/pebble"
	logpkg "github.com/paxocial/scribe-mcp-sub003/pkg/log"
)

type testStack struct {
	svc *Service
	reg *registry.Registry
	db  *pebblestore.DB
	dir string
}

func openStack(t *testing.T, dir string, cfg config.Config) *testStack {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: filepath.Join(dir, "index"), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	logger := logpkg.NewLogger(logpkg.WithOutput(io.Discard))
	reg, err := registry.New(db, filepath.Join(dir, "logs"), cfg.ProjectNameRegex, logger)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return &testStack{
		svc: New(reg, rotation.New(logger, nil), cfg, logger),
		reg: reg,
		db:  db,
		dir: dir,
	}
}

func (ts *testStack) close(t *testing.T) {
	t.Helper()
	if err := ts.reg.Close(); err != nil {
		t.Fatalf("close registry: %v", err)
	}
	if err := ts.db.Close(); err != nil {
		t.Fatalf("close pebble: %v", err)
	}
}

func newTestService(t *testing.T, cfg config.Config) *testStack {
	t.Helper()
	ts := openStack(t, t.TempDir(), cfg)
	t.Cleanup(func() { ts.close(t) })
	return ts
}

func mustAppend(t *testing.T, svc *Service, project string, in AppendInput) entry.Entry {
	t.Helper()
	e, err := svc.Append(context.Background(), project, in)
	if err != nil {
		t.Fatalf("append %q: %v", in.Message, err)
	}
	return e
}

func TestAppendThenQueryPreservesOrderAndFields(t *testing.T) {
	ts := newTestService(t, config.Default())
	ctx := context.Background()

	first := mustAppend(t, ts.svc, "demo", AppendInput{Message: "starting migration", Severity: entry.Info, Agent: "worker"})
	mustAppend(t, ts.svc, "demo", AppendInput{Message: "schema applied", Severity: entry.Success, Agent: "worker"})
	third := mustAppend(t, ts.svc, "demo", AppendInput{
		Message:  "slow batch",
		Severity: entry.Warning,
		Agent:    "worker",
		Metadata: []entry.Pair{{Key: "batch", Value: "7"}, {Key: "elapsed", Value: "41s"}},
	})

	page, err := ts.svc.Query(ctx, "demo", QueryOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(page.Entries) != 3 || page.NextCursor != "" || len(page.Skipped) != 0 {
		t.Fatalf("page: %d entries, next=%q, skipped=%d", len(page.Entries), page.NextCursor, len(page.Skipped))
	}
	got := page.Entries
	if got[0].ID != first.ID || got[0].Message != "starting migration" || got[0].Severity != entry.Info {
		t.Fatalf("first entry: %+v", got[0])
	}
	if got[1].Severity != entry.Success {
		t.Fatalf("second entry severity: %v", got[1].Severity)
	}
	if got[2].ID != third.ID {
		t.Fatalf("third entry id: %+v", got[2])
	}
	if v, ok := got[2].Meta("elapsed"); !ok || v != "41s" {
		t.Fatalf("third entry metadata: %+v", got[2].Metadata)
	}
	if v, ok := got[2].Meta("batch"); !ok || v != "7" {
		t.Fatalf("third entry metadata: %+v", got[2].Metadata)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.Before(got[i-1].Timestamp) {
			t.Fatalf("timestamps out of order at %d", i)
		}
	}
}

func TestThresholdRotationSplitsSegments(t *testing.T) {
	cfg := config.Default()
	cfg.RotationThreshold = 2
	ts := newTestService(t, cfg)
	ctx := context.Background()

	mustAppend(t, ts.svc, "demo", AppendInput{Message: "one", Severity: entry.Info, Agent: "a"})
	mustAppend(t, ts.svc, "demo", AppendInput{Message: "two", Severity: entry.Info, Agent: "a"})
	mustAppend(t, ts.svc, "demo", AppendInput{Message: "three", Severity: entry.Info, Agent: "a"})

	rep, err := ts.svc.Verify(ctx, "demo")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !rep.OK || rep.Segments != 2 || rep.Entries != 3 {
		t.Fatalf("report: %+v break=%+v", rep, rep.Break)
	}

	page, err := ts.svc.Query(ctx, "demo", QueryOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	var msgs []string
	for _, e := range page.Entries {
		msgs = append(msgs, e.Message)
	}
	if strings.Join(msgs, ",") != "one,two,three" {
		t.Fatalf("cross-segment order: %v", msgs)
	}
}

func TestTornTailRecoveredOnReopen(t *testing.T) {
	dir := t.TempDir()
	ts := openStack(t, dir, config.Default())
	mustAppend(t, ts.svc, "demo", AppendInput{Message: "one", Severity: entry.Info, Agent: "a"})
	second := mustAppend(t, ts.svc, "demo", AppendInput{Message: "two", Severity: entry.Info, Agent: "a"})
	segPath := filepath.Join(dir, "logs", "demo", "segment-000000.log")
	ts.close(t)

	// Simulate a crash mid-write: a third line with no terminator.
	f, err := os.OpenFile(segPath, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open segment: %v", err)
	}
	if _, err := f.WriteString("[ℹ️] [2026-08-23 10:00:0"); err != nil {
		t.Fatalf("write torn tail: %v", err)
	}
	_ = f.Close()

	ts2 := openStack(t, dir, config.Default())
	defer ts2.close(t)
	ctx := context.Background()

	page, err := ts2.svc.Query(ctx, "demo", QueryOptions{})
	if err != nil {
		t.Fatalf("query after recovery: %v", err)
	}
	if len(page.Entries) != 2 {
		t.Fatalf("want 2 committed entries, got %d", len(page.Entries))
	}

	third := mustAppend(t, ts2.svc, "demo", AppendInput{Message: "three", Severity: entry.Info, Agent: "a"})
	if third.ID == second.ID {
		t.Fatalf("recovered append reused an id")
	}
	rep, err := ts2.svc.Verify(ctx, "demo")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !rep.OK || rep.Entries != 3 {
		t.Fatalf("post-recovery report: %+v break=%+v", rep, rep.Break)
	}
}

func TestQueryPagination(t *testing.T) {
	ts := newTestService(t, config.Default())
	ctx := context.Background()
	want := []string{"a", "b", "c", "d", "e"}
	for _, m := range want {
		mustAppend(t, ts.svc, "demo", AppendInput{Message: m, Severity: entry.Info, Agent: "a"})
	}

	var got []string
	cursor := ""
	pages := 0
	for {
		page, err := ts.svc.Query(ctx, "demo", QueryOptions{Limit: 2, Cursor: cursor})
		if err != nil {
			t.Fatalf("page %d: %v", pages, err)
		}
		for _, e := range page.Entries {
			got = append(got, e.Message)
		}
		pages++
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	if strings.Join(got, "") != "abcde" {
		t.Fatalf("paged walk: %v", got)
	}
	if pages > 4 {
		t.Fatalf("too many pages: %d", pages)
	}
}

func TestQueryReverseAcrossSegments(t *testing.T) {
	cfg := config.Default()
	cfg.RotationThreshold = 2
	ts := newTestService(t, cfg)
	ctx := context.Background()
	for _, m := range []string{"a", "b", "c", "d", "e"} {
		mustAppend(t, ts.svc, "demo", AppendInput{Message: m, Severity: entry.Info, Agent: "a"})
	}

	var got []string
	cursor := ""
	for {
		page, err := ts.svc.Query(ctx, "demo", QueryOptions{Reverse: true, Limit: 2, Cursor: cursor})
		if err != nil {
			t.Fatalf("reverse page: %v", err)
		}
		for _, e := range page.Entries {
			got = append(got, e.Message)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	if strings.Join(got, "") != "edcba" {
		t.Fatalf("reverse walk: %v", got)
	}
}

func TestQueryFilters(t *testing.T) {
	ts := newTestService(t, config.Default())
	ctx := context.Background()
	mustAppend(t, ts.svc, "demo", AppendInput{Message: "ok", Severity: entry.Info, Agent: "alpha"})
	mustAppend(t, ts.svc, "demo", AppendInput{Message: "disk almost full", Severity: entry.Warning, Agent: "beta",
		Metadata: []entry.Pair{{Key: "disk", Value: "sda1"}}})
	mustAppend(t, ts.svc, "demo", AppendInput{Message: "done", Severity: entry.Success, Agent: "alpha"})

	warn := entry.Warning
	page, err := ts.svc.Query(ctx, "demo", QueryOptions{Severity: &warn})
	if err != nil {
		t.Fatalf("severity filter: %v", err)
	}
	if len(page.Entries) != 1 || page.Entries[0].Message != "disk almost full" {
		t.Fatalf("severity filter result: %+v", page.Entries)
	}

	page, err = ts.svc.Query(ctx, "demo", QueryOptions{Agent: "alpha"})
	if err != nil {
		t.Fatalf("agent filter: %v", err)
	}
	if len(page.Entries) != 2 {
		t.Fatalf("agent filter result: %+v", page.Entries)
	}

	page, err = ts.svc.Query(ctx, "demo", QueryOptions{Filter: `severity == "warning" && meta["disk"] == "sda1"`})
	if err != nil {
		t.Fatalf("cel filter: %v", err)
	}
	if len(page.Entries) != 1 || page.Entries[0].Agent != "beta" {
		t.Fatalf("cel filter result: %+v", page.Entries)
	}

	if _, err := ts.svc.Query(ctx, "demo", QueryOptions{Filter: `severity ==`}); err == nil {
		t.Fatalf("bad cel expression accepted")
	}
}

func TestQueryUnknownProject(t *testing.T) {
	ts := newTestService(t, config.Default())
	_, err := ts.svc.Query(context.Background(), "ghost", QueryOptions{})
	if !errors.Is(err, ErrUnknownProject) {
		t.Fatalf("want ErrUnknownProject, got %v", err)
	}
}

func TestVerifyDetectsTamperedEntry(t *testing.T) {
	dir := t.TempDir()
	ts := openStack(t, dir, config.Default())
	mustAppend(t, ts.svc, "demo", AppendInput{Message: "alpha", Severity: entry.Info, Agent: "a"})
	mustAppend(t, ts.svc, "demo", AppendInput{Message: "bravo", Severity: entry.Info, Agent: "a"})
	mustAppend(t, ts.svc, "demo", AppendInput{Message: "charlie", Severity: entry.Info, Agent: "a"})
	ts.close(t)

	segPath := filepath.Join(dir, "logs", "demo", "segment-000000.log")
	raw, err := os.ReadFile(segPath)
	if err != nil {
		t.Fatalf("read segment: %v", err)
	}
	tampered := strings.Replace(string(raw), "bravo", "brave", 1)
	if tampered == string(raw) {
		t.Fatalf("tamper target not found")
	}
	if err := os.WriteFile(segPath, []byte(tampered), 0o644); err != nil {
		t.Fatalf("write tampered segment: %v", err)
	}

	ts2 := openStack(t, dir, config.Default())
	defer ts2.close(t)
	rep, err := ts2.svc.Verify(context.Background(), "demo")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if rep.OK || rep.Break == nil {
		t.Fatalf("tampering not detected: %+v", rep)
	}
	if rep.Break.Segment != 0 || rep.Break.Position != 1 {
		t.Fatalf("break at wrong place: %+v", rep.Break)
	}
	if rerr := rep.Err(); !errors.Is(rerr, ErrChainBroken) ||
		!strings.Contains(rerr.Error(), `"demo"`) ||
		!strings.Contains(rerr.Error(), "segment 0") ||
		!strings.Contains(rerr.Error(), "position 1") {
		t.Fatalf("report error: %v", rerr)
	}
}

func TestVerifyCleanChainReportsRoot(t *testing.T) {
	cfg := config.Default()
	cfg.RotationThreshold = 2
	ts := newTestService(t, cfg)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		mustAppend(t, ts.svc, "demo", AppendInput{Message: "entry", Severity: entry.Info, Agent: "a"})
	}
	rep, err := ts.svc.Verify(ctx, "demo")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !rep.OK || rep.Segments != 3 || rep.Entries != 5 {
		t.Fatalf("report: %+v break=%+v", rep, rep.Break)
	}
	st, known, err := ts.reg.Snapshot("demo")
	if err != nil || !known {
		t.Fatalf("snapshot: %v known=%v", err, known)
	}
	if rep.RootHash != st.LastHash {
		t.Fatalf("root hash %q != registry %q", rep.RootHash, st.LastHash)
	}
}

func TestSetThresholdOverridesConfig(t *testing.T) {
	ts := newTestService(t, config.Default())
	ctx := context.Background()
	if err := ts.svc.SetThreshold("demo", 1); err != nil {
		t.Fatalf("set threshold: %v", err)
	}
	mustAppend(t, ts.svc, "demo", AppendInput{Message: "one", Severity: entry.Info, Agent: "a"})
	mustAppend(t, ts.svc, "demo", AppendInput{Message: "two", Severity: entry.Info, Agent: "a"})
	rep, err := ts.svc.Verify(ctx, "demo")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if rep.Segments != 3 {
		t.Fatalf("threshold 1 should rotate per append, segments=%d", rep.Segments)
	}
}

func TestForcedRotateAndProjects(t *testing.T) {
	ts := newTestService(t, config.Default())
	ctx := context.Background()
	mustAppend(t, ts.svc, "alpha", AppendInput{Message: "one", Severity: entry.Info, Agent: "a"})
	mustAppend(t, ts.svc, "beta", AppendInput{Message: "one", Severity: entry.Info, Agent: "a"})

	sum, err := ts.svc.Rotate(ctx, "alpha", true)
	if err != nil || !sum.Rotated {
		t.Fatalf("force rotate: %+v %v", sum, err)
	}
	// Second force on the now-empty active segment is a no-op.
	sum, err = ts.svc.Rotate(ctx, "alpha", true)
	if err != nil || sum.Rotated {
		t.Fatalf("second force rotate: %+v %v", sum, err)
	}
	// Policy rotation below the threshold is a no-op too.
	sum, err = ts.svc.Rotate(ctx, "alpha", false)
	if err != nil || sum.Rotated {
		t.Fatalf("policy rotate below threshold: %+v %v", sum, err)
	}

	names, err := ts.svc.Projects()
	if err != nil {
		t.Fatalf("projects: %v", err)
	}
	if strings.Join(names, ",") != "alpha,beta" {
		t.Fatalf("projects: %v", names)
	}
}
