package ledger

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/strawtrace/strawtrace/internal/lockfile"
	"github.com/strawtrace/strawtrace/internal/types"
)

// Default layout below the data root.
const (
	DefaultPalletsDir  = "pallets"
	DefaultLeakDir     = "leak"
	DefaultQualityFile = "LeakTestResults.csv"

	lockSuffix = ".lock"
)

// Lock retry defaults.
const (
	DefaultRetryInitialInterval = 50 * time.Millisecond
	DefaultRetryMaxElapsed      = 5 * time.Second
)

// Options configures a FileStore.
type Options struct {
	// Root is the data directory; PalletsDir and QualityFile default below it.
	Root        string
	PalletsDir  string
	QualityFile string

	RetryInitialInterval time.Duration
	RetryMaxElapsed      time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

func (o Options) withDefaults() Options {
	if o.PalletsDir == "" {
		o.PalletsDir = filepath.Join(o.Root, DefaultPalletsDir)
	}
	if o.QualityFile == "" {
		o.QualityFile = filepath.Join(o.Root, DefaultLeakDir, DefaultQualityFile)
	}
	if o.RetryInitialInterval <= 0 {
		o.RetryInitialInterval = DefaultRetryInitialInterval
	}
	if o.RetryMaxElapsed <= 0 {
		o.RetryMaxElapsed = DefaultRetryMaxElapsed
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// FileStore is the CSV-file implementation of Store.
type FileStore struct {
	opts Options
	log  *slog.Logger
}

var _ Store = (*FileStore)(nil)

// Open validates the ledger layout and returns a store over it. A missing
// pallets directory or leak-rate ledger is a ConfigurationError.
func Open(opts Options) (*FileStore, error) {
	opts = opts.withDefaults()

	info, err := os.Stat(opts.PalletsDir)
	if err != nil {
		return nil, &ConfigurationError{Resource: "pallets directory", Path: opts.PalletsDir, Err: err}
	}
	if !info.IsDir() {
		return nil, &ConfigurationError{Resource: "pallets directory", Path: opts.PalletsDir, Err: errors.New("not a directory")}
	}
	if _, err := os.Stat(opts.QualityFile); err != nil {
		return nil, &ConfigurationError{Resource: "leak-rate ledger", Path: opts.QualityFile, Err: err}
	}
	return &FileStore{opts: opts, log: opts.Logger}, nil
}

// Init creates an empty ledger layout (pallets directory and leak-rate
// ledger) if it does not exist yet, then opens it.
func Init(opts Options) (*FileStore, error) {
	opts = opts.withDefaults()
	if err := os.MkdirAll(opts.PalletsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating pallets directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(opts.QualityFile), 0o755); err != nil {
		return nil, fmt.Errorf("creating leak directory: %w", err)
	}
	// #nosec G304 - controlled path
	f, err := os.OpenFile(opts.QualityFile, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating leak-rate ledger: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return Open(opts)
}

// PalletsDir returns the directory holding the batch groups.
func (s *FileStore) PalletsDir() string { return s.opts.PalletsDir }

// QualityFile returns the path of the shared leak-rate ledger.
func (s *FileStore) QualityFile() string { return s.opts.QualityFile }

// LedgerPath returns the file backing the batch ledger.
func (s *FileStore) LedgerPath(_ context.Context, batch string) (string, error) {
	return s.locate(batch)
}

func (s *FileStore) locate(batch string) (string, error) {
	id := types.NormalizeID(batch)
	if !types.IsBatchID(id) {
		return "", &NotFoundError{Kind: "batch", ID: batch}
	}
	matches, err := filepath.Glob(filepath.Join(s.opts.PalletsDir, "*", id+".csv"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", &NotFoundError{Kind: "batch", ID: id}
	}
	if len(matches) > 1 {
		sort.Strings(matches)
		s.log.Warn("batch ledger present in several groups, using first", "batch", id, "paths", matches)
	}
	return matches[0], nil
}

// ListBatches enumerates every batch ledger, sorted by group then batch.
func (s *FileStore) ListBatches(_ context.Context) ([]BatchRef, error) {
	matches, err := filepath.Glob(filepath.Join(s.opts.PalletsDir, types.BatchGroupPrefix+"*", types.BatchPrefix+"*.csv"))
	if err != nil {
		return nil, err
	}
	refs := make([]BatchRef, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, BatchRef{
			Group: filepath.Base(filepath.Dir(m)),
			Batch: strings.TrimSuffix(filepath.Base(m), ".csv"),
			Path:  m,
		})
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Group != refs[j].Group {
			return refs[i].Group < refs[j].Group
		}
		return refs[i].Batch < refs[j].Batch
	})
	return refs, nil
}

// CreateBatch creates an empty ledger for batch inside group. When header is
// non-empty it is written as the first line (readers skip it).
func (s *FileStore) CreateBatch(_ context.Context, group, batch, header string) (string, error) {
	g, b := types.NormalizeID(group), types.NormalizeID(batch)
	if !types.IsBatchGroupID(g) {
		return "", fmt.Errorf("invalid batch group %q", group)
	}
	if !types.IsBatchID(b) {
		return "", fmt.Errorf("invalid batch %q", batch)
	}
	if existing, err := s.locate(b); err == nil {
		return "", fmt.Errorf("%s at %s: %w", b, existing, ErrExists)
	}

	dir := filepath.Join(s.opts.PalletsDir, g)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating group directory: %w", err)
	}
	path := filepath.Join(dir, b+".csv")
	// #nosec G304 - controlled path
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%s: %w", path, ErrExists)
		}
		return "", err
	}
	defer f.Close()
	if header = strings.TrimSpace(header); header != "" {
		if _, err := f.WriteString(header + "\n"); err != nil {
			return "", err
		}
	}
	return path, f.Sync()
}

// Find returns every well-formed record of the batch in append order.
func (s *FileStore) Find(ctx context.Context, batch string) ([]types.Record, error) {
	path, err := s.locate(batch)
	if err != nil {
		return nil, err
	}
	data, err := s.readLocked(ctx, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &NotFoundError{Kind: "batch", ID: types.NormalizeID(batch)}
		}
		return nil, err
	}

	source := filepath.Base(path)
	var records []types.Record
	err = eachRow(data, func(line int, fields []string) {
		if isHeaderLine(fields) {
			return
		}
		rec, err := decodeRecord(source, line, fields)
		if err != nil {
			s.log.Warn("skipping malformed ledger line", "batch", batch, "err", err)
			return
		}
		records = append(records, rec)
	}, func(err error) {
		s.log.Warn("skipping unreadable ledger line", "batch", batch, "err", err)
	})
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return records, nil
}

// LatestMembership returns the units of the most recent record, skipping
// empty slots and values that are not unit identifiers. When that record is
// an adds record, unit-substitution targets are members too and share the
// slot of the unit they substitute.
func (s *FileStore) LatestMembership(ctx context.Context, batch string) ([]types.Slot, error) {
	records, err := s.Find(ctx, batch)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	last := records[len(records)-1]
	var slots []types.Slot
	seen := make(map[string]bool)
	add := func(i int, unit string) {
		unit = types.NormalizeID(unit)
		if !types.IsUnitID(unit) || seen[unit] {
			return
		}
		seen[unit] = true
		slots = append(slots, types.Slot{Index: i, Unit: unit})
	}
	for i, p := range last.Pairs {
		add(i, p.Unit)
		if last.IsAdds() {
			add(i, p.Value)
		}
	}
	return slots, nil
}

// AppendEvent appends one record stamped with the current time.
func (s *FileStore) AppendEvent(ctx context.Context, batch, step string, pairs []types.Pair, actors []string) error {
	line, err := encodeRecord(types.Record{
		Timestamp: s.opts.Now().Format(types.RecordTimeLayout),
		Step:      step,
		Pairs:     pairs,
		Actors:    actors,
	})
	if err != nil {
		return fmt.Errorf("encoding %s record for %s: %w", step, batch, err)
	}
	path, err := s.locate(batch)
	if err != nil {
		return err
	}
	if err := s.appendLocked(ctx, path, line); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &NotFoundError{Kind: "batch", ID: types.NormalizeID(batch)}
		}
		return err
	}
	s.log.Debug("appended ledger record", "batch", batch, "step", step, "pairs", len(pairs))
	return nil
}

// FindQualityEntries returns the leak-rate rows recorded for unit. Rows with
// an unparseable timestamp or number are skipped with a warning.
func (s *FileStore) FindQualityEntries(ctx context.Context, unit string) ([]types.QualityMeasurement, error) {
	data, err := s.readLocked(ctx, s.opts.QualityFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &NotFoundError{Kind: "quality ledger", ID: s.opts.QualityFile}
		}
		return nil, err
	}

	want := strings.TrimSpace(unit)
	source := filepath.Base(s.opts.QualityFile)
	var out []types.QualityMeasurement
	err = eachRow(data, func(line int, fields []string) {
		if len(fields) == 0 || !strings.EqualFold(strings.TrimSpace(fields[0]), want) {
			return
		}
		m, err := decodeQuality(source, line, fields)
		if err != nil {
			s.log.Warn("skipping invalid leak data", "unit", want, "err", err)
			return
		}
		out = append(out, m)
	}, func(err error) {
		s.log.Warn("skipping unreadable leak-rate line", "err", err)
	})
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.opts.QualityFile, err)
	}
	return out, nil
}

// AppendQualityEntry appends one leak-rate row.
func (s *FileStore) AppendQualityEntry(ctx context.Context, m types.QualityMeasurement) error {
	line, err := encodeQuality(m)
	if err != nil {
		return fmt.Errorf("encoding leak entry for %s: %w", m.Unit, err)
	}
	if err := s.appendLocked(ctx, s.opts.QualityFile, line); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &NotFoundError{Kind: "quality ledger", ID: s.opts.QualityFile}
		}
		return err
	}
	s.log.Debug("appended leak entry", "unit", m.Unit, "rate", m.Rate, "error", m.Error)
	return nil
}

// readLocked reads the whole file under a shared lock so a concurrent append
// is observed either not at all or completely.
func (s *FileStore) readLocked(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := s.withLock(ctx, path, lockfile.Shared, func() error {
		var err error
		data, err = os.ReadFile(path) // #nosec G304 - controlled path
		return err
	})
	return data, err
}

// appendLocked writes line at the end of path under an exclusive lock. The
// write is all-or-nothing: on a short or failed write or sync the file is
// truncated back to its previous length.
func (s *FileStore) appendLocked(ctx context.Context, path string, line []byte) error {
	return s.withLock(ctx, path, lockfile.Exclusive, func() error {
		f, err := os.OpenFile(path, os.O_RDWR, 0) // #nosec G304 - controlled path
		if err != nil {
			return err
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return err
		}
		size := info.Size()

		buf := line
		if size > 0 {
			last := make([]byte, 1)
			if _, err := f.ReadAt(last, size-1); err != nil {
				return fmt.Errorf("reading ledger tail: %w", err)
			}
			if last[0] != '\n' {
				buf = append([]byte{'\n'}, line...)
			}
		}

		n, werr := f.WriteAt(buf, size)
		if werr == nil && n != len(buf) {
			werr = io.ErrShortWrite
		}
		if werr == nil {
			werr = f.Sync()
		}
		if werr != nil {
			if terr := f.Truncate(size); terr != nil {
				s.log.Error("rollback of partial append failed", "path", path, "err", terr)
			}
			return fmt.Errorf("appending to %s: %w", path, werr)
		}
		return nil
	})
}

func (s *FileStore) newBackoff() backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.opts.RetryInitialInterval
	bo.MaxElapsedTime = s.opts.RetryMaxElapsed
	return bo
}

// withLock runs fn while holding the sidecar lock of target. Contention is
// retried with exponential backoff; the lock is released on every exit path.
func (s *FileStore) withLock(ctx context.Context, target string, mode lockfile.Mode, fn func() error) error {
	var held *lockfile.Lock
	err := backoff.Retry(func() error {
		lk, err := lockfile.TryAcquire(target+lockSuffix, mode)
		if err != nil {
			if errors.Is(err, lockfile.ErrLockBusy) {
				return err // Retryable - backoff will retry
			}
			return backoff.Permanent(err)
		}
		held = lk
		return nil
	}, backoff.WithContext(s.newBackoff(), ctx))
	if err != nil {
		if errors.Is(err, lockfile.ErrLockBusy) {
			return &LockError{Path: target, Err: err}
		}
		return err
	}
	defer func() {
		if err := held.Release(); err != nil {
			s.log.Warn("releasing ledger lock", "path", held.Path(), "err", err)
		}
	}()
	return fn()
}

// eachRow feeds every CSV row to fn with its 1-based line number. Rows the
// CSV reader rejects are reported to bad and skipped.
func eachRow(data []byte, fn func(line int, fields []string), bad func(error)) error {
	r := newReader(data)
	for {
		fields, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				bad(err)
				continue
			}
			return err
		}
		line, _ := r.FieldPos(0)
		fn(line, fields)
	}
}
