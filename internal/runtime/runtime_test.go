package runtime

import (
	"context"
	"io"
	"testing"

	"github.com/paxocial/scribe-mcp-sub003/internal/config"
	"github.com/paxocial/scribe-mcp-sub003/internal/entry"
	"github.com/paxocial/scribe-mcp-sub003/internal/service"
	pebblestore "github.com/paxocial/scribe-mcp-sub003/internal/storage/pebble"
	logpkg "github.com/paxocial/scribe-mcp-sub003/pkg/log"
)

func testOptions(dir string) Options {
	return Options{
		DataDir: dir,
		Fsync:   pebblestore.FsyncModeAlways,
		Config:  config.Default(),
		Logger:  logpkg.NewLogger(logpkg.WithOutput(io.Discard)),
	}
}

func TestOpenAppendCloseReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	rt, err := Open(testOptions(dir))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	e, err := rt.Service.Append(ctx, "demo", service.AppendInput{Message: "hello", Severity: entry.Info, Agent: "t"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	rt2, err := Open(testOptions(dir))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer rt2.Close()
	page, err := rt2.Service.Query(ctx, "demo", service.QueryOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(page.Entries) != 1 || page.Entries[0].ID != e.ID {
		t.Fatalf("entry did not survive restart: %+v", page.Entries)
	}
}
