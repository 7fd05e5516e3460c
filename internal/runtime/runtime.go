package runtime

import (
	"fmt"
	"path/filepath"

	"github.com/paxocial/scribe-mcp-sub003/internal/config"
	"github.com/paxocial/scribe-mcp-sub003/internal/registry"
	"github.com/paxocial/scribe-mcp-sub003/internal/rotation"
	"github.com/paxocial/scribe-mcp-sub003/internal/service"
	pebblestore "github.com/paxocial/scribe-mcp-sub003/internal/storage/pebble"
	logpkg "github.com/paxocial/scribe-mcp-sub003/pkg/log"
)

// Options configures a Runtime.
type Options struct {
	// DataDir is the root state directory. Segment files live under
	// DataDir/logs, the hash index under DataDir/index. Empty uses the
	// platform default.
	DataDir string
	// Fsync selects the index durability mode.
	Fsync pebblestore.FsyncMode
	// Hook observes closed segments, for archival pipelines. Optional.
	Hook rotation.Hook

	Config config.Config
	Logger logpkg.Logger
}

// Runtime owns the storage stack and the service façade built over it.
type Runtime struct {
	Service *service.Service

	db  *pebblestore.DB
	reg *registry.Registry
	log logpkg.Logger
}

// Open builds the full stack: index store, project registry, rotation
// manager, and the service façade.
func Open(opts Options) (*Runtime, error) {
	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = config.DefaultDataDir()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger()
	}

	db, err := pebblestore.Open(pebblestore.Options{
		DataDir: filepath.Join(dataDir, "index"),
		Fsync:   opts.Fsync,
	})
	if err != nil {
		return nil, fmt.Errorf("runtime: open index: %w", err)
	}
	reg, err := registry.New(db, filepath.Join(dataDir, "logs"), opts.Config.ProjectNameRegex, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	rot := rotation.New(logger, opts.Hook)

	logger.Info("log engine ready",
		logpkg.Str("dataDir", dataDir),
		logpkg.Int("rotationThreshold", opts.Config.RotationThreshold))
	return &Runtime{
		Service: service.New(reg, rot, opts.Config, logger),
		db:      db,
		reg:     reg,
		log:     logger,
	}, nil
}

// Close releases segment handles and the index store.
func (rt *Runtime) Close() error {
	regErr := rt.reg.Close()
	dbErr := rt.db.Close()
	if regErr != nil {
		return regErr
	}
	return dbErr
}
