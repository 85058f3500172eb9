package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomledger/dpl/pkg/dplerr"
	"github.com/tomledger/dpl/pkg/log"
	"github.com/tomledger/dpl/pkg/metrics"
	"github.com/tomledger/dpl/pkg/types"
)

// Config configures a Store. Unset (zero) fields are replaced by the
// defaults noted on each field.
type Config struct {
	// BaseDir is the root directory holding every operation's files
	// (SPEC_FULL.md §4.1 layout). Required.
	BaseDir string

	// LockAcquireDeadline bounds how long Acquire waits before failing
	// with dplerr.LockTimeout. Default 1s.
	LockAcquireDeadline time.Duration
	// LockRetryInterval is the sleep between failed acquisition attempts.
	// Default 50ms.
	LockRetryInterval time.Duration
	// StaleLockThreshold is the mtime age past which a lock file is
	// considered abandoned and reclaimed. Default 2s.
	StaleLockThreshold time.Duration

	// TrailEncoding selects the codec for per-mutation trail snapshots.
	// Default JSONEncoding{}.
	TrailEncoding Encoding
	// MaxTrailSnapshots bounds how many trail files are retained per
	// operation; older ones are pruned after each successful write.
	// Default 200 (used when zero); a negative value disables pruning.
	MaxTrailSnapshots int

	// Archive is an optional off-host sink (e.g. s3archive.S3Sink)
	// additionally written to during Archive.
	Archive ArchiveSink
}

// ArchiveSink is the narrow interface Store.Archive uses; satisfied by
// s3archive.S3Sink without pkg/store importing the AWS SDK directly.
type ArchiveSink interface {
	Upload(ctx context.Context, key string, data []byte) error
}

func (c Config) withDefaults() Config {
	if c.LockAcquireDeadline <= 0 {
		c.LockAcquireDeadline = time.Second
	}
	if c.LockRetryInterval <= 0 {
		c.LockRetryInterval = 50 * time.Millisecond
	}
	if c.StaleLockThreshold <= 0 {
		c.StaleLockThreshold = 2 * time.Second
	}
	if c.TrailEncoding == nil {
		c.TrailEncoding = JSONEncoding{}
	}
	if c.MaxTrailSnapshots == 0 {
		c.MaxTrailSnapshots = 200
	}
	return c
}

// Store serializes every read-modify-write of an operation record under
// an advisory lock file, emits a pre-write backup into the operation's
// trail directory, and moves terminal records into the backup archive
// (SPEC_FULL.md §4.1).
type Store struct {
	cfg    Config
	logger zerolog.Logger
}

// New returns a Store rooted at cfg.BaseDir, creating it if necessary.
func New(cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()
	if cfg.BaseDir == "" {
		return nil, dplerr.New(dplerr.IOError, "store: BaseDir is required")
	}
	if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
		return nil, dplerr.Wrap(dplerr.IOError, "store: create base dir", err)
	}
	return &Store{cfg: cfg, logger: log.WithComponent("store")}, nil
}

func (s *Store) operationPath(opID string) string {
	return filepath.Join(s.cfg.BaseDir, opID+".operation.json")
}

func (s *Store) lockPath(opID string) string {
	return s.operationPath(opID) + ".lock"
}

func (s *Store) logPath(opID string) string {
	return filepath.Join(s.cfg.BaseDir, opID+".operation.log")
}

func (s *Store) debugLogPath(opID string) string {
	return filepath.Join(s.cfg.BaseDir, opID+".operation.debug.log")
}

func (s *Store) trailDir(opID string) string {
	return filepath.Join(s.cfg.BaseDir, opID+"_trail")
}

func (s *Store) backupDir(opID string) string {
	return filepath.Join(s.cfg.BaseDir, "backup", opID)
}

// acquire implements SPEC_FULL.md §4.1's locking protocol: try to create
// the lock file exclusively; if it exists and is older than
// StaleLockThreshold, steal it; otherwise retry until the acquire
// deadline. The returned release func must be called exactly once.
func (s *Store) acquire(opID string) (release func(), err error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.StoreLockWaitDuration)

	path := s.lockPath(opID)
	deadline := time.Now().Add(s.cfg.LockAcquireDeadline)
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d %d\n", os.Getpid(), time.Now().UnixNano())
			f.Close()
			return func() { os.Remove(path) }, nil
		}
		if !os.IsExist(err) {
			return nil, dplerr.Wrap(dplerr.IOError, "store: create lock file", err)
		}

		if info, statErr := os.Stat(path); statErr == nil {
			if time.Since(info.ModTime()) > s.cfg.StaleLockThreshold {
				os.Remove(path)
				metrics.StoreLockStealsTotal.Inc()
				continue
			}
		}

		if time.Now().After(deadline) {
			metrics.StoreLockTimeoutsTotal.Inc()
			return nil, dplerr.New(dplerr.LockTimeout, "store: timed out acquiring lock for "+opID)
		}
		time.Sleep(s.cfg.LockRetryInterval)
	}
}

// readLocked reads the live document without acquiring the lock; callers
// must already hold it.
func (s *Store) readLocked(opID string) (*types.OperationRecord, error) {
	data, err := os.ReadFile(s.operationPath(opID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dplerr.New(dplerr.OperationNotFound, opID)
		}
		return nil, dplerr.Wrap(dplerr.IOError, "store: read operation file", err)
	}
	var rec types.OperationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, dplerr.Wrap(dplerr.IOError, "store: decode operation file", err)
	}
	return &rec, nil
}

// Read returns a consistent snapshot of the operation record, holding the
// lock only across the single read.
func (s *Store) Read(opID string) (*types.OperationRecord, error) {
	release, err := s.acquire(opID)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.readLocked(opID)
}

func (s *Store) writeLive(opID string, rec *types.OperationRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return dplerr.Wrap(dplerr.IOError, "store: encode operation record", err)
	}
	return writeFileAtomic(s.operationPath(opID), data)
}

// backupBeforeWrite writes rec's current on-disk bytes into the trail
// directory before a mutation lands, satisfying invariant 4 in
// SPEC_FULL.md §3. The filename is the elapsed "SSS.mmm" label from
// rec.StartTime, so trail files sort into chronological order.
func (s *Store) backupBeforeWrite(opID string, rec *types.OperationRecord, liveBytes []byte, now time.Time) error {
	dir := s.trailDir(opID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return dplerr.Wrap(dplerr.IOError, "store: create trail dir", err)
	}

	var snapshot []byte
	var err error
	if _, ok := s.cfg.TrailEncoding.(JSONEncoding); ok && liveBytes != nil {
		snapshot = liveBytes
	} else {
		snapshot, err = s.cfg.TrailEncoding.Marshal(rec)
		if err != nil {
			return dplerr.Wrap(dplerr.IOError, "store: encode trail snapshot", err)
		}
	}

	label := FormatElapsed(now.Sub(rec.StartTime))
	name := fmt.Sprintf("%s_%s.%s", label, opID, s.cfg.TrailEncoding.Ext())
	if err := writeFileAtomic(filepath.Join(dir, name), snapshot); err != nil {
		return err
	}
	metrics.TrailSnapshotsTotal.Inc()
	s.pruneTrail(opID)
	return nil
}

func (s *Store) pruneTrail(opID string) {
	if s.cfg.MaxTrailSnapshots <= 0 {
		return
	}
	dir := s.trailDir(opID)
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) <= s.cfg.MaxTrailSnapshots {
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	excess := len(names) - s.cfg.MaxTrailSnapshots
	for _, name := range names[:excess] {
		os.Remove(filepath.Join(dir, name))
	}
}

// ModifyFunc receives a deep clone of the current record and returns the
// record to persist. Returning an error aborts the write; the
// just-written trail backup remains the authoritative recovery point.
type ModifyFunc func(*types.OperationRecord) (*types.OperationRecord, error)

// Modify performs SPEC_FULL.md §4.1's read → backup → write cycle for
// opID under the advisory lock.
func (s *Store) Modify(opID string, fn ModifyFunc) (*types.OperationRecord, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.StoreMutationDuration)

	release, err := s.acquire(opID)
	if err != nil {
		return nil, err
	}
	defer release()

	liveBytes, readErr := os.ReadFile(s.operationPath(opID))
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return nil, dplerr.New(dplerr.OperationNotFound, opID)
		}
		return nil, dplerr.Wrap(dplerr.IOError, "store: read operation file", readErr)
	}
	var current types.OperationRecord
	if err := json.Unmarshal(liveBytes, &current); err != nil {
		return nil, dplerr.Wrap(dplerr.IOError, "store: decode operation file", err)
	}

	now := time.Now()
	if err := s.backupBeforeWrite(opID, &current, liveBytes, now); err != nil {
		return nil, err
	}

	next, err := fn(current.Clone())
	if err != nil {
		return nil, err
	}

	if err := s.writeLive(opID, next); err != nil {
		return nil, err
	}
	return next, nil
}

// CreateInitial performs the exclusive initial write for a brand-new
// operationId, failing with IOError if a live document already exists.
func (s *Store) CreateInitial(rec *types.OperationRecord) (*types.OperationRecord, error) {
	release, err := s.acquire(rec.OperationID)
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := os.Stat(s.operationPath(rec.OperationID)); err == nil {
		return nil, dplerr.New(dplerr.IOError, "store: operation already exists: "+rec.OperationID)
	}

	if err := s.writeLive(rec.OperationID, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Archive copies the terminal record's final snapshot (and logs) into the
// backup directory, uploading them to the configured ArchiveSink if present.
// It holds the lock throughout but does not remove the live file —
// Purge does that, kept as a distinct step so a caller can archive
// without immediately losing the live document if Purge fails.
func (s *Store) Archive(ctx context.Context, opID string) error {
	release, err := s.acquire(opID)
	if err != nil {
		return err
	}
	defer release()

	liveBytes, err := os.ReadFile(s.operationPath(opID))
	if err != nil {
		if os.IsNotExist(err) {
			return dplerr.New(dplerr.OperationNotFound, opID)
		}
		return dplerr.Wrap(dplerr.IOError, "store: read operation file", err)
	}
	var rec types.OperationRecord
	if err := json.Unmarshal(liveBytes, &rec); err != nil {
		return dplerr.Wrap(dplerr.IOError, "store: decode operation file", err)
	}

	dir := s.backupDir(opID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return dplerr.Wrap(dplerr.IOError, "store: create backup dir", err)
	}

	label := FormatElapsed(time.Since(rec.StartTime))
	finalName := fmt.Sprintf("final_%s_%s.json", label, opID)
	if err := writeFileAtomic(filepath.Join(dir, finalName), liveBytes); err != nil {
		return err
	}
	copyIfExists(s.logPath(opID), filepath.Join(dir, opID+".operation.log"))
	copyIfExists(s.debugLogPath(opID), filepath.Join(dir, opID+".operation.debug.log"))

	if s.cfg.Archive != nil {
		uploads := map[string][]byte{finalName: liveBytes}
		for _, name := range []string{opID + ".operation.log", opID + ".operation.debug.log"} {
			if data, err := os.ReadFile(filepath.Join(dir, name)); err == nil {
				uploads[name] = data
			}
		}
		for name, data := range uploads {
			if err := s.cfg.Archive.Upload(ctx, opID+"/"+name, data); err != nil {
				s.logger.Warn().Err(err).Str("operation_id", opID).Str("key", name).Msg("off-host archive upload failed")
			}
		}
	}

	for _, res := range rec.TempResources {
		if !res.Orphaned {
			continue
		}
		if err := os.RemoveAll(res.Path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("operation_id", opID).Str("path", res.Path).Msg("failed to delete orphaned temp resource")
		}
	}

	return nil
}

// Purge deletes the live document, its lock file, and its trail
// directory. Callers only invoke Purge after Archive has succeeded.
func (s *Store) Purge(opID string) error {
	release, err := s.acquire(opID)
	if err != nil {
		return err
	}
	// Remove the live file and trail before releasing the lock so no
	// other writer observes a half-purged operation; the lock file
	// itself is removed by release().
	os.Remove(s.operationPath(opID))
	os.RemoveAll(s.trailDir(opID))
	release()
	return nil
}

// AppendLog appends one timestamped line to the operation's human log.
func (s *Store) AppendLog(opID, message string, level types.LogLevel) error {
	return appendLine(s.logPath(opID), formatLogLine(level, message))
}

// AppendDebugLog appends one timestamped line to the operation's debug
// log, used for heartbeat traces.
func (s *Store) AppendDebugLog(opID, message string) error {
	return appendLine(s.debugLogPath(opID), formatLogLine(types.LogDebug, message))
}

// TailLog returns up to n of the most recent lines from the operation's
// human log, oldest first. A missing log file (nothing appended yet)
// returns an empty slice, not an error.
func (s *Store) TailLog(opID string, n int) ([]string, error) {
	data, err := os.ReadFile(s.logPath(opID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, dplerr.Wrap(dplerr.IOError, "store: read log file", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil, nil
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

func formatLogLine(level types.LogLevel, message string) string {
	return fmt.Sprintf("%s [%s] %s", time.Now().UTC().Format(time.RFC3339Nano), strings.ToUpper(string(level)), message)
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return dplerr.Wrap(dplerr.IOError, "store: open log file", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return dplerr.Wrap(dplerr.IOError, "store: append log line", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp-" + strconv.Itoa(os.Getpid())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return dplerr.Wrap(dplerr.IOError, "store: write temp file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return dplerr.Wrap(dplerr.IOError, "store: rename temp file", err)
	}
	return nil
}

func copyIfExists(src, dst string) {
	data, err := os.ReadFile(src)
	if err != nil {
		return
	}
	_ = os.WriteFile(dst, data, 0o644)
}
