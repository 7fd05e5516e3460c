package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/paxocial/scribe-mcp-sub003/internal/config"
	"github.com/paxocial/scribe-mcp-sub003/internal/entry"
	"github.com/paxocial/scribe-mcp-sub003/internal/registry"
	"github.com/paxocial/scribe-mcp-sub003/internal/rotation"
	logpkg "github.com/paxocial/scribe-mcp-sub003/pkg/log"
)

// ErrUnknownProject reports a query or verification against a project the
// registry has never seen.
var ErrUnknownProject = errors.New("unknown project")

// Service is the log engine façade.
type Service struct {
	reg    *registry.Registry
	rot    *rotation.Manager
	cfg    config.Config
	logger logpkg.Logger
}

// New wires the façade over a registry and rotation manager.
func New(reg *registry.Registry, rot *rotation.Manager, cfg config.Config, logger logpkg.Logger) *Service {
	return &Service{reg: reg, rot: rot, cfg: cfg, logger: logger.WithComponent("service")}
}

// AppendInput is one entry to append, before hashing.
type AppendInput struct {
	Message  string
	Severity entry.Severity
	Agent    string
	Metadata []entry.Pair
}

// Append commits one entry to the project's log and runs the post-write
// rotation check. The returned entry carries its assigned id. When the
// rotation check fails the entry is already durably committed; the error
// reports the rotation failure only.
func (s *Service) Append(ctx context.Context, project string, in AppendInput) (entry.Entry, error) {
	p, err := s.reg.Resolve(project)
	if err != nil {
		return entry.Entry{}, err
	}

	p.Mu.Lock()
	defer p.Mu.Unlock()

	e := entry.Entry{
		Severity:  in.Severity,
		Timestamp: time.Now().UTC().Truncate(time.Second),
		Agent:     in.Agent,
		Project:   project,
		Message:   in.Message,
		Metadata:  in.Metadata,
	}
	committed, err := p.AppendEntry(ctx, e)
	if err != nil {
		return entry.Entry{}, err
	}
	s.logger.Debug("entry appended",
		logpkg.Str("project", project),
		logpkg.Str("id", committed.ID),
		logpkg.Uint64("count", p.State().EntryCount))

	if _, rerr := s.rot.MaybeRotate(p, s.threshold(project)); rerr != nil {
		return committed, fmt.Errorf("rotation after append: %w", rerr)
	}
	return committed, nil
}

// Rotate forces a rollover of the project's active segment, or applies the
// threshold policy when force is false.
func (s *Service) Rotate(ctx context.Context, project string, force bool) (*rotation.Summary, error) {
	p, err := s.reg.Resolve(project)
	if err != nil {
		return nil, err
	}
	p.Mu.Lock()
	defer p.Mu.Unlock()
	if force {
		return s.rot.Rotate(p)
	}
	return s.rot.MaybeRotate(p, s.threshold(project))
}

// SetThreshold stores a runtime rotation threshold override for a project.
func (s *Service) SetThreshold(project string, n int) error {
	return s.reg.SetThreshold(project, n)
}

// Projects lists every project the registry has seen.
func (s *Service) Projects() ([]string, error) {
	return s.reg.Projects()
}

func (s *Service) threshold(project string) int {
	if n, ok := s.reg.ThresholdOverride(project); ok {
		return n
	}
	return s.cfg.ThresholdFor(project)
}

// segmentPaths returns the project's segment files in chain order.
func (s *Service) segmentPaths(project string) ([]string, error) {
	_, known, err := s.reg.Snapshot(project)
	if err != nil {
		return nil, err
	}
	if !known {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProject, project)
	}
	paths, err := filepath.Glob(filepath.Join(s.reg.DataDir(), project, "segment-*.log"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: %q has no segments", ErrUnknownProject, project)
	}
	sort.Strings(paths)
	return paths, nil
}
