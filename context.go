package inncore

import (
	"github.com/InterNetNews/inncore/canlock"
	"github.com/InterNetNews/inncore/config"
	"github.com/InterNetNews/inncore/history"
	"github.com/InterNetNews/inncore/logx"
	"github.com/InterNetNews/inncore/overview"
)

// SystemContext bundles the process-wide resources a running inncore
// process needs: configuration, secrets, the storage manager, the
// overview store, and the history index. The teacher keeps analogous
// state (innconf, the dirf spool map) as package-level globals
// initialized by a single ReadInnConf call; SystemContext exists so
// this module's callers can thread the equivalent state explicitly
// instead, per spec §9's Design Notes, which makes multiple
// independently configured instances in one process possible (useful
// for tests).
type SystemContext struct {
	Config  *config.Block
	Secrets config.Secrets
	Cancel  *canlock.Keyer
	Storage *StorageManager
	Overview *overview.Store
	History *history.DBZ
	Log     *logx.Loggers
}

// NewSystemContext assembles a SystemContext from an already-parsed
// config block and already-opened backends; callers are expected to
// Open each subsystem (timehash, buffindexed, dbz) themselves and pass
// the results in, since the set of registered storage backends and the
// on-disk paths involved are deployment-specific.
func NewSystemContext(cfg *config.Block, secrets config.Secrets, storage *StorageManager, ov *overview.Store, hist *history.DBZ) *SystemContext {
	return &SystemContext{
		Config:   cfg,
		Secrets:  secrets,
		Cancel:   canlock.New(secrets.CancelLockAdmin, secrets.CancelLockUser),
		Storage:  storage,
		Overview: ov,
		History:  hist,
		Log:      logx.Default("inncore"),
	}
}

// Close releases the history index; the storage manager and overview
// store hold no process-wide resources of their own beyond what their
// backends already own (callers close those backends directly).
func (sc *SystemContext) Close() error {
	if sc.History != nil {
		return sc.History.Close()
	}
	return nil
}
