package contentstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-cv/internal/cv"
	"github.com/keithlinneman/linnemanlabs-cv/internal/log"
	"github.com/keithlinneman/linnemanlabs-cv/internal/xerrors"
)

const (
	LiveFile          = "cv_content.json"
	BackupDir         = "backups"
	DefaultMaxBackups = 10
)

// Mirror receives a copy of every backup after the write that created it.
type Mirror interface {
	PutBackup(ctx context.Context, name string, data []byte) error
}

type Options struct {
	// Directory holding the live file and the backups/ directory
	Dir string

	// Backups kept after each write (default 10)
	MaxBackups int

	Logger log.Logger

	// Clock used for updatedAt and backup names (default time.Now)
	Now func() time.Time

	// Optional off-site copy of each backup
	Mirror        Mirror
	MirrorTimeout time.Duration

	// Observability hooks, all optional
	OnWrite        func(op string)
	OnRecovered    func()
	OnBackup       func(name string)
	OnPruned       func(n int)
	OnMirrorFailed func()
}

// Store owns the live document and its backups. All methods are safe for
// concurrent use; writes are serialized.
type Store struct {
	mu sync.RWMutex

	dir        string
	livePath   string
	backupDir  string
	maxBackups int
	logger     log.Logger
	now        func() time.Time
	tracer     trace.Tracer

	mirror        Mirror
	mirrorTimeout time.Duration

	onWrite        func(string)
	onRecovered    func()
	onBackup       func(string)
	onPruned       func(int)
	onMirrorFailed func()

	// newest backup time issued or found on disk
	lastBackup time.Time
}

// Status summarizes the live document without modifying the store.
type Status struct {
	Initialized bool
	UpdatedAt   time.Time
	Counts      cv.Counts
	Backups     int
}

// New prepares the store directory. The live document is created lazily by
// the first read or write.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, xerrors.New("contentstore: Dir is required")
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = DefaultMaxBackups
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MirrorTimeout <= 0 {
		opts.MirrorTimeout = 30 * time.Second
	}

	s := &Store{
		dir:            opts.Dir,
		livePath:       filepath.Join(opts.Dir, LiveFile),
		backupDir:      filepath.Join(opts.Dir, BackupDir),
		maxBackups:     opts.MaxBackups,
		logger:         opts.Logger,
		now:            opts.Now,
		tracer:         otel.Tracer("linnemanlabs/contentstore"),
		mirror:         opts.Mirror,
		mirrorTimeout:  opts.MirrorTimeout,
		onWrite:        opts.OnWrite,
		onRecovered:    opts.OnRecovered,
		onBackup:       opts.OnBackup,
		onPruned:       opts.OnPruned,
		onMirrorFailed: opts.OnMirrorFailed,
	}

	if err := os.MkdirAll(s.backupDir, 0o750); err != nil {
		return nil, xerrors.Mark(xerrors.Wrapf(err, "create %s", s.backupDir), ErrStorage)
	}

	names, err := s.backupNames()
	if err != nil {
		return nil, xerrors.Mark(err, ErrStorage)
	}
	if n := len(names); n > 0 {
		s.lastBackup, _ = parseBackupName(names[n-1])
	}

	s.logger.Info(ctx, "content store ready",
		"dir", s.dir,
		"max_backups", s.maxBackups,
		"backups", len(names),
		"mirror", s.mirror != nil,
	)
	return s, nil
}

// errReseed reports a live file that is absent or unusable.
type errReseed struct {
	missing bool
	cause   error
}

func (e *errReseed) Error() string {
	if e.missing {
		return "live document missing"
	}
	return "live document unreadable: " + e.cause.Error()
}

func (e *errReseed) Unwrap() error { return e.cause }

// readLive parses the live file. Absent or unparseable files yield *errReseed;
// any other failure is a storage error.
func (s *Store) readLive() (cv.Document, error) {
	data, err := os.ReadFile(s.livePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cv.Document{}, &errReseed{missing: true}
		}
		return cv.Document{}, xerrors.Mark(xerrors.Wrap(err, "read live document"), ErrStorage)
	}
	doc, err := decodeDocument(data)
	if err != nil {
		return cv.Document{}, &errReseed{cause: err}
	}
	return doc, nil
}

func decodeDocument(data []byte) (cv.Document, error) {
	var doc cv.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return cv.Document{}, err
	}
	if missing := doc.MissingFields(); len(missing) > 0 {
		return cv.Document{}, xerrors.Newf("missing required fields: %s", strings.Join(missing, ", "))
	}
	return doc, nil
}

func encodeDocument(doc cv.Document) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func (s *Store) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "contentstore."+op,
		trace.WithAttributes(attribute.String("contentstore.op", op)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *Store) recovered(ctx context.Context, r *errReseed) {
	if r.missing {
		s.logger.Info(ctx, "no live document, seeding default", "path", s.livePath)
		return
	}
	s.logger.Warn(ctx, "live document unreadable, reseeding default",
		"path", s.livePath,
		"reason", r.cause.Error(),
	)
	if s.onRecovered != nil {
		s.onRecovered()
	}
}

// Load returns the live document, seeding the default one when the live file
// is absent or corrupt. Only storage failures are returned.
func (s *Store) Load(ctx context.Context) (doc cv.Document, err error) {
	ctx, span := s.startSpan(ctx, "load")
	defer func() { endSpan(span, err) }()

	s.mu.RLock()
	doc, err = s.readLive()
	s.mu.RUnlock()

	var rs *errReseed
	if err == nil || !errors.As(err, &rs) {
		return doc, err
	}

	var backup *pendingBackup
	s.mu.Lock()
	doc, err = s.readLive()
	if errors.As(err, &rs) {
		// still unusable after taking the write lock
		s.recovered(ctx, rs)
		doc, backup, err = s.saveLocked(ctx, "reseed", cv.Default())
	}
	s.mu.Unlock()

	s.mirrorBackup(ctx, backup)
	return doc, err
}

// Export is Load for callers that want the document for download.
func (s *Store) Export(ctx context.Context) (cv.Document, error) {
	return s.Load(ctx)
}

// Update merges the non-nil members of p into the live document.
func (s *Store) Update(ctx context.Context, p cv.Patch) (cv.Document, error) {
	if p.Languages != nil {
		if err := cv.CheckValues(p.Languages); err != nil {
			return cv.Document{}, xerrors.WithStack(&ValidationError{Reason: err.Error()})
		}
	}
	return s.modify(ctx, "update", func(doc *cv.Document) error {
		p.Apply(doc)
		return nil
	})
}

// Mutate runs fn on a copy of the live document under the write lock and
// persists the result. An error from fn aborts the write and is returned as is.
func (s *Store) Mutate(ctx context.Context, fn func(*cv.Document) error) (cv.Document, error) {
	return s.modify(ctx, "mutate", fn)
}

// Import replaces the live document. Documents missing a required field are
// rejected before anything is written.
func (s *Store) Import(ctx context.Context, doc cv.Document) (cv.Document, error) {
	if err := validate(&doc); err != nil {
		return cv.Document{}, err
	}
	doc.EnsureIDs()
	return s.replace(ctx, "import", func() (cv.Document, error) { return doc, nil })
}

// RestoreBackup makes the named backup the live document. The pre-restore
// state is backed up like any other write.
func (s *Store) RestoreBackup(ctx context.Context, name string) (cv.Document, error) {
	if _, ok := parseBackupName(name); !ok {
		return cv.Document{}, xerrors.Mark(xerrors.Newf("invalid backup name %q", name), ErrNotFound)
	}
	return s.replace(ctx, "restore", func() (cv.Document, error) {
		data, err := os.ReadFile(filepath.Join(s.backupDir, name))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return cv.Document{}, xerrors.Mark(xerrors.Newf("backup %q does not exist", name), ErrNotFound)
			}
			return cv.Document{}, xerrors.Mark(xerrors.Wrapf(err, "read backup %s", name), ErrStorage)
		}
		doc, err := decodeDocument(data)
		if err != nil {
			return cv.Document{}, xerrors.Mark(xerrors.Wrapf(err, "decode backup %s", name), ErrCorruptBackup)
		}
		return doc, nil
	})
}

// Clear replaces the live document with the default one. The cleared
// document is kept as a backup.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.replace(ctx, "clear", func() (cv.Document, error) { return cv.Default(), nil })
	return err
}

// ListBackups returns backup names, newest first.
func (s *Store) ListBackups(ctx context.Context) (names []string, err error) {
	_, span := s.startSpan(ctx, "list_backups")
	defer func() { endSpan(span, err) }()

	s.mu.RLock()
	names, err = s.backupNames()
	s.mu.RUnlock()
	if err != nil {
		return nil, xerrors.Mark(err, ErrStorage)
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return names, nil
}

// Status reports on the live document without seeding it.
func (s *Store) Status(ctx context.Context) (st Status, err error) {
	_, span := s.startSpan(ctx, "status")
	defer func() { endSpan(span, err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	names, err := s.backupNames()
	if err != nil {
		return Status{}, xerrors.Mark(err, ErrStorage)
	}
	st.Backups = len(names)

	doc, err := s.readLive()
	var rs *errReseed
	if errors.As(err, &rs) {
		return st, nil
	}
	if err != nil {
		return Status{}, err
	}
	st.Initialized = true
	st.UpdatedAt = doc.UpdatedAt
	st.Counts = doc.Counts()
	return st, nil
}

func validate(doc *cv.Document) error {
	if missing := doc.MissingFields(); len(missing) > 0 {
		return xerrors.WithStack(&ValidationError{Missing: missing})
	}
	if err := cv.CheckValues(doc.Languages); err != nil {
		return xerrors.WithStack(&ValidationError{Reason: err.Error()})
	}
	return nil
}

// modify applies fn to the current document. A live file that cannot be read
// is treated as the default document; its bytes are still backed up.
func (s *Store) modify(ctx context.Context, op string, fn func(*cv.Document) error) (cv.Document, error) {
	return s.replace(ctx, op, func() (cv.Document, error) {
		cur, err := s.readLive()
		var rs *errReseed
		if errors.As(err, &rs) {
			s.recovered(ctx, rs)
			cur, err = cv.Default(), nil
		}
		if err != nil {
			return cv.Document{}, err
		}
		if err := fn(&cur); err != nil {
			return cv.Document{}, err
		}
		if err := validate(&cur); err != nil {
			return cv.Document{}, err
		}
		return cur, nil
	})
}

// replace runs build and saves its result under the write lock, then hands
// any new backup to the mirror.
func (s *Store) replace(ctx context.Context, op string, build func() (cv.Document, error)) (doc cv.Document, err error) {
	ctx, span := s.startSpan(ctx, op)
	defer func() { endSpan(span, err) }()

	var backup *pendingBackup
	s.mu.Lock()
	doc, err = build()
	if err == nil {
		doc, backup, err = s.saveLocked(ctx, op, doc)
	}
	s.mu.Unlock()

	s.mirrorBackup(ctx, backup)
	return doc, err
}

type pendingBackup struct {
	name string
	data []byte
}

// saveLocked runs the save protocol. Caller holds the write lock.
func (s *Store) saveLocked(ctx context.Context, op string, doc cv.Document) (cv.Document, *pendingBackup, error) {
	var backup *pendingBackup

	prev, err := os.ReadFile(s.livePath)
	switch {
	case err == nil:
		name, err := s.createBackup(prev)
		if err != nil {
			return cv.Document{}, nil, xerrors.Mark(err, ErrStorage)
		}
		backup = &pendingBackup{name: name, data: prev}
		s.logger.Debug(ctx, "backup created", "backup", name, "op", op)
		if s.onBackup != nil {
			s.onBackup(name)
		}
	case !errors.Is(err, os.ErrNotExist):
		return cv.Document{}, nil, xerrors.Mark(xerrors.Wrap(err, "read live document"), ErrStorage)
	}

	pruned, err := s.prune()
	if len(pruned) > 0 {
		s.logger.Debug(ctx, "backups pruned", "count", len(pruned), "oldest_kept_after", pruned[len(pruned)-1])
		if s.onPruned != nil {
			s.onPruned(len(pruned))
		}
	}
	if err != nil {
		return cv.Document{}, backup, xerrors.Mark(err, ErrStorage)
	}

	if doc.ID == "" {
		doc.ID = cv.NewID()
	}
	doc.UpdatedAt = s.now().UTC()

	data, err := encodeDocument(doc)
	if err != nil {
		return cv.Document{}, backup, xerrors.Mark(xerrors.Wrap(err, "encode document"), ErrStorage)
	}
	if err := writeFileAtomic(s.livePath, data); err != nil {
		return cv.Document{}, backup, xerrors.Mark(xerrors.Wrap(err, "write live document"), ErrStorage)
	}

	s.logger.Info(ctx, "content saved", "op", op, "updated_at", doc.UpdatedAt)
	if s.onWrite != nil {
		s.onWrite(op)
	}
	return doc, backup, nil
}

func (s *Store) mirrorBackup(ctx context.Context, b *pendingBackup) {
	if b == nil || s.mirror == nil {
		return
	}
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.mirrorTimeout)
	defer cancel()
	if err := s.mirror.PutBackup(mctx, b.name, b.data); err != nil {
		s.logger.Error(ctx, err, "backup mirror failed", "backup", b.name)
		if s.onMirrorFailed != nil {
			s.onMirrorFailed()
		}
	}
}
