package contentstore

import (
	"os"
	"path/filepath"

	"github.com/keithlinneman/linnemanlabs-cv/internal/xerrors"
)

const filePerm = 0o640

// writeFileAtomic replaces path with data. Readers see either the old file or
// the complete new one.
func writeFileAtomic(path string, data []byte) (err error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return xerrors.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return xerrors.Wrapf(err, "write %s", tmpName)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return xerrors.Wrapf(err, "sync %s", tmpName)
	}
	if err = tmp.Close(); err != nil {
		return xerrors.Wrapf(err, "close %s", tmpName)
	}
	if err = os.Chmod(tmpName, filePerm); err != nil {
		return xerrors.Wrapf(err, "chmod %s", tmpName)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return xerrors.Wrapf(err, "rename to %s", path)
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return xerrors.Wrapf(err, "open dir %s", dir)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return xerrors.Wrapf(err, "sync dir %s", dir)
	}
	return nil
}
