package contentstore

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/keithlinneman/linnemanlabs-cv/internal/xerrors"
)

const (
	backupPrefix = "cv_content_backup_"
	backupSuffix = ".json"
	backupLayout = "20060102_150405.000000000"
	// second-resolution names written by earlier deployments of the site
	legacyBackupLayout = "20060102_150405"
)

func backupName(t time.Time) string {
	return backupPrefix + t.UTC().Format(backupLayout) + backupSuffix
}

// parseBackupName returns the creation time encoded in name. Both the
// nanosecond layout and the legacy second layout are accepted; legacy
// stamps carry no zone and are read as UTC.
func parseBackupName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, backupSuffix) {
		return time.Time{}, false
	}
	if strings.ContainsAny(name, `/\`) {
		return time.Time{}, false
	}
	ts := strings.TrimSuffix(strings.TrimPrefix(name, backupPrefix), backupSuffix)
	layout := backupLayout
	if len(ts) == len(legacyBackupLayout) {
		layout = legacyBackupLayout
	} else if len(ts) != len(backupLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(layout, ts)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// nextBackupTime returns a timestamp strictly after every name issued so far.
// Caller holds the write lock.
func (s *Store) nextBackupTime() time.Time {
	t := s.now().UTC()
	if !t.After(s.lastBackup) {
		t = s.lastBackup.Add(time.Nanosecond)
	}
	s.lastBackup = t
	return t
}

// backupNames returns well-formed backup names, oldest first.
func (s *Store) backupNames() ([]string, error) {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, xerrors.Wrap(err, "read backup dir")
	}
	type stamped struct {
		name string
		at   time.Time
	}
	found := make([]stamped, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if t, ok := parseBackupName(e.Name()); ok {
			found = append(found, stamped{e.Name(), t})
		}
	}
	// legacy and current names do not sort together lexically
	sort.Slice(found, func(i, j int) bool {
		if !found[i].at.Equal(found[j].at) {
			return found[i].at.Before(found[j].at)
		}
		return found[i].name < found[j].name
	})
	names := make([]string, len(found))
	for i, f := range found {
		names[i] = f.name
	}
	return names, nil
}

// createBackup copies data into a new backup file and returns its name.
func (s *Store) createBackup(data []byte) (string, error) {
	name := backupName(s.nextBackupTime())
	if err := writeFileAtomic(filepath.Join(s.backupDir, name), data); err != nil {
		return "", xerrors.Wrapf(err, "write backup %s", name)
	}
	return name, nil
}

// prune removes the oldest backups beyond the retention limit.
func (s *Store) prune() ([]string, error) {
	names, err := s.backupNames()
	if err != nil {
		return nil, err
	}
	if len(names) <= s.maxBackups {
		return nil, nil
	}
	drop := names[:len(names)-s.maxBackups]
	for i, name := range drop {
		if err := os.Remove(filepath.Join(s.backupDir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return drop[:i], xerrors.Wrapf(err, "remove backup %s", name)
		}
	}
	return drop, nil
}
