package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	"github.com/paxocial/scribe-mcp-sub003/internal/entry"
	"github.com/paxocial/scribe-mcp-sub003/internal/hashchain"
	"github.com/paxocial/scribe-mcp-sub003/internal/segment"
	pebblestore "github.com/paxocial/scribe-mcp-sub003/internal/storage/pebble"
	logpkg "github.com/paxocial/scribe-mcp-sub003/pkg/log"
)

// State is the durable per-project registry record.
type State struct {
	Project        string `json:"project"`
	ActiveSequence uint64 `json:"activeSequence"`
	// ActivePath is the active segment's file name, resolved against the
	// project directory. Stored relative so a moved data dir does not dangle.
	ActivePath     string `json:"activePath"`
	LastHash       string `json:"lastHash"`
	EntryCount     uint64 `json:"entryCount"`
	TotalRotations uint64 `json:"totalRotations"`
	UpdatedAtMs    int64  `json:"updatedAtMs"`
}

// ChainState is the derived triple verification tooling snapshots.
type ChainState struct {
	Sequence   uint64
	LastHash   string
	EntryCount uint64
}

// Registry maps projects to their active segments and chain state.
type Registry struct {
	db      *pebblestore.DB
	dataDir string
	nameRe  *regexp.Regexp
	logger  logpkg.Logger

	mu       sync.Mutex
	projects map[string]*Project
}

// Project is one project's registry entry. Mu serializes every mutation of
// the project's chain state: resolve, hash, durable write, and registry
// update happen under it, as do rotations. Different projects never contend.
type Project struct {
	Mu sync.Mutex

	Name   string
	Dir    string
	Active *segment.Segment

	state State
	r     *Registry
}

// New opens a registry over db, storing segment files under dataDir.
func New(db *pebblestore.DB, dataDir, nameRegex string, logger logpkg.Logger) (*Registry, error) {
	re, err := regexp.Compile("^(?:" + nameRegex + ")$")
	if err != nil {
		return nil, fmt.Errorf("registry: bad project name regex: %w", err)
	}
	return &Registry{
		db:       db,
		dataDir:  dataDir,
		nameRe:   re,
		logger:   logger.WithComponent("registry"),
		projects: make(map[string]*Project),
	}, nil
}

// Resolve returns the project's registry entry, creating state on first use
// with a genesis chain value and sequence 0.
func (r *Registry) Resolve(name string) (*Project, error) {
	if !r.nameRe.MatchString(name) {
		return nil, fmt.Errorf("registry: invalid project name %q", name)
	}
	r.mu.Lock()
	p, ok := r.projects[name]
	if !ok {
		p = &Project{Name: name, Dir: filepath.Join(r.dataDir, name), r: r}
		r.projects[name] = p
	}
	r.mu.Unlock()

	p.Mu.Lock()
	defer p.Mu.Unlock()
	if p.Active == nil {
		if err := p.load(); err != nil {
			r.mu.Lock()
			delete(r.projects, name)
			r.mu.Unlock()
			return nil, err
		}
	}
	return p, nil
}

// load restores the project from durable state, bootstrapping an unseen
// project. Caller holds p.Mu.
func (p *Project) load() error {
	raw, err := p.r.db.Get(KeyProjectState(p.Name))
	switch {
	case err == nil:
		var st State
		if jerr := json.Unmarshal(raw, &st); jerr != nil {
			return fmt.Errorf("registry: corrupt state for %q: %w", p.Name, jerr)
		}
		seg, oerr := segment.OpenActive(filepath.Join(p.Dir, st.ActivePath))
		if oerr != nil {
			return fmt.Errorf("registry: open active segment for %q: %w", p.Name, oerr)
		}
		p.Active = seg
		p.state = st
		// Torn-tail truncation on open can leave the file behind the stored
		// state; the file is authoritative.
		if seg.LastHash() != st.LastHash || seg.Count() != st.EntryCount {
			p.r.logger.Warn("chain state resynced from segment",
				logpkg.Str("project", p.Name),
				logpkg.Uint64("stored", st.EntryCount),
				logpkg.Uint64("replayed", seg.Count()))
			p.state.LastHash = seg.LastHash()
			p.state.EntryCount = seg.Count()
			if perr := p.persistState(); perr != nil {
				return perr
			}
		}
		return nil
	case errors.Is(err, pebblestore.ErrNotFound):
		return p.bootstrap()
	default:
		return fmt.Errorf("registry: read state for %q: %w", p.Name, err)
	}
}

// bootstrap creates the project directory, its root segment, and the initial
// state record. Caller holds p.Mu.
func (p *Project) bootstrap() error {
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return fmt.Errorf("registry: create project dir: %w", err)
	}
	h := segment.Header{
		Project:    p.Name,
		Sequence:   0,
		RotationID: uuid.NewString(),
		RotatedAt:  time.Now().UTC(),
		Genesis:    hashchain.Genesis(p.Name),
	}
	path := filepath.Join(p.Dir, segment.FileName(0))
	seg, err := segment.Create(path, h)
	if err != nil {
		// Segment files survived a lost index: reopen instead of clobbering.
		if errors.Is(err, segment.ErrIO) && fileExists(path) {
			seg, err = p.reattach()
		}
		if err != nil {
			return err
		}
	}
	p.Active = seg
	p.state = State{
		Project:        p.Name,
		ActiveSequence: seg.Header().Sequence,
		ActivePath:     filepath.Base(seg.Path()),
		LastHash:       seg.LastHash(),
		EntryCount:     seg.Count(),
		TotalRotations: seg.Header().TotalRotations,
		UpdatedAtMs:    time.Now().UnixMilli(),
	}
	return p.persistState()
}

// reattach finds the highest open segment on disk when the registry record
// was lost but segment files remain.
func (p *Project) reattach() (*segment.Segment, error) {
	paths, err := filepath.Glob(filepath.Join(p.Dir, "segment-*.log"))
	if err != nil || len(paths) == 0 {
		return nil, fmt.Errorf("registry: no segments found for %q", p.Name)
	}
	sort.Strings(paths)
	seg, oerr := segment.OpenActive(paths[len(paths)-1])
	if oerr != nil {
		return nil, fmt.Errorf("registry: reattach %q: %w", p.Name, oerr)
	}
	p.r.logger.Warn("reattached project from segment files", logpkg.Str("project", p.Name), logpkg.Str("segment", seg.Path()))
	return seg, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (p *Project) persistState() error {
	p.state.UpdatedAtMs = time.Now().UnixMilli()
	raw, err := json.Marshal(p.state)
	if err != nil {
		return err
	}
	return p.r.db.Set(KeyProjectState(p.Name), raw)
}

// AppendEntry durably appends e to the active segment, then commits the
// entry's expected hash and the updated state to the index in one atomic
// batch. A failed index commit rolls the file append back so a retry does
// not double-count. Caller holds p.Mu.
func (p *Project) AppendEntry(ctx context.Context, e entry.Entry) (entry.Entry, error) {
	idx := p.Active.Count()
	committed, err := p.Active.Append(e)
	if err != nil {
		return entry.Entry{}, err
	}

	st := p.state
	st.LastHash = p.Active.LastHash()
	st.EntryCount = p.Active.Count()
	st.UpdatedAtMs = time.Now().UnixMilli()
	raw, err := json.Marshal(st)
	if err != nil {
		_ = p.Active.Rollback()
		return entry.Entry{}, err
	}

	b := p.r.db.NewBatch()
	defer b.Close()
	if err := b.Set(KeyEntryHash(p.Name, st.ActiveSequence, idx), []byte(p.Active.LastHash()), nil); err != nil {
		_ = p.Active.Rollback()
		return entry.Entry{}, err
	}
	if err := b.Set(KeyProjectState(p.Name), raw, nil); err != nil {
		_ = p.Active.Rollback()
		return entry.Entry{}, err
	}
	if err := p.r.db.CommitBatch(ctx, b); err != nil {
		_ = p.Active.Rollback()
		return entry.Entry{}, fmt.Errorf("%w: index commit: %v", segment.ErrIO, err)
	}
	p.state = st
	return committed, nil
}

// AdvanceTo commits the registry's active pointer to newSeg (rotation
// commit). On failure the pointer is unchanged and the caller unwinds the
// rotation. Caller holds p.Mu.
func (p *Project) AdvanceTo(newSeg *segment.Segment) error {
	st := p.state
	st.ActiveSequence = newSeg.Header().Sequence
	st.ActivePath = filepath.Base(newSeg.Path())
	st.LastHash = newSeg.LastHash()
	st.EntryCount = 0
	st.TotalRotations = newSeg.Header().TotalRotations
	st.UpdatedAtMs = time.Now().UnixMilli()
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := p.r.db.Set(KeyProjectState(p.Name), raw); err != nil {
		return fmt.Errorf("%w: advance commit: %v", segment.ErrIO, err)
	}
	old := p.Active
	p.Active = newSeg
	p.state = st
	_ = old.Release()
	return nil
}

// State returns a copy of the project's registry record. Caller holds p.Mu.
func (p *Project) State() State { return p.state }

// Snapshot returns the last durably committed chain state for a project
// without opening its segments. Read-only, for verification tooling.
func (r *Registry) Snapshot(name string) (ChainState, bool, error) {
	raw, err := r.db.Get(KeyProjectState(name))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return ChainState{}, false, nil
	}
	if err != nil {
		return ChainState{}, false, err
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return ChainState{}, false, err
	}
	return ChainState{Sequence: st.ActiveSequence, LastHash: st.LastHash, EntryCount: st.EntryCount}, true, nil
}

// EntryHash returns the expected chain hash recorded at append time for the
// entry at (seq, idx), if the index has one.
func (r *Registry) EntryHash(project string, seq, idx uint64) (string, bool) {
	raw, err := r.db.Get(KeyEntryHash(project, seq, idx))
	if err != nil {
		return "", false
	}
	return string(raw), true
}

// ThresholdOverride returns the project's runtime rotation threshold, if set.
func (r *Registry) ThresholdOverride(project string) (int, bool) {
	raw, err := r.db.Get(KeyThreshold(project))
	if err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// SetThreshold stores a runtime rotation threshold override for a project.
func (r *Registry) SetThreshold(project string, n int) error {
	if n <= 0 {
		return fmt.Errorf("registry: threshold must be positive, got %d", n)
	}
	return r.db.Set(KeyThreshold(project), []byte(strconv.Itoa(n)))
}

// Projects lists every project the registry has ever seen, sorted.
func (r *Registry) Projects() ([]string, error) {
	low, hi := keyAllProjectsBounds()
	iter, err := r.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var names []string
	for ok := iter.First(); ok; ok = iter.Next() {
		k := iter.Key()
		if !bytes.HasSuffix(k, stateSuffix) {
			continue
		}
		name := string(k[len(projectPrefix) : len(k)-len(stateSuffix)])
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// DataDir returns the root directory segment files live under.
func (r *Registry) DataDir() string { return r.dataDir }

// Close releases every open segment handle. Durable state is untouched.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for _, p := range r.projects {
		p.Mu.Lock()
		if p.Active != nil {
			if err := p.Active.Release(); err != nil && first == nil {
				first = err
			}
			p.Active = nil
		}
		p.Mu.Unlock()
	}
	return first
}
