// Package workdir tracks files in a run's working directory and guards it
// against concurrent writers.
package workdir

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// LockFile is the name of the lock held inside a locked directory.
const LockFile = ".breakdown.lock"

// ErrLocked is returned when another live process owns the directory.
var ErrLocked = eris.New("workdir: directory is locked by another run")

// Snapshot is the set of regular files under a directory, keyed by
// absolute path.
type Snapshot map[string]struct{}

// Take walks dir recursively. A missing directory yields an empty snapshot.
func Take(dir string) (Snapshot, error) {
	snap := Snapshot{}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "workdir: abs %s", dir)
	}
	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.Type().IsRegular() && d.Name() != LockFile {
			snap[path] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "workdir: walk %s", dir)
	}
	return snap, nil
}

// Files returns the snapshot's paths sorted.
func (s Snapshot) Files() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Diff returns the sorted paths present in after but not in before.
func Diff(before, after Snapshot) []string {
	var out []string
	for p := range after {
		if _, ok := before[p]; !ok {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Lock is an exclusive claim on a working directory.
type Lock struct {
	path string
}

// Acquire creates dir if needed and takes its lock. A lock left behind by a
// process that no longer exists is reclaimed.
func Acquire(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "workdir: mkdir %s", dir)
	}
	path := filepath.Join(dir, LockFile)

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(path)
				return nil, eris.Wrapf(firstErr(werr, cerr), "workdir: write lock %s", path)
			}
			return &Lock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, eris.Wrapf(err, "workdir: create lock %s", path)
		}
		if !stale(path) {
			return nil, ErrLocked
		}
		zap.L().Warn("workdir: reclaiming stale lock", zap.String("path", path))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, eris.Wrapf(err, "workdir: remove stale lock %s", path)
		}
	}
	return nil, ErrLocked
}

// Release removes the lock file. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return eris.Wrapf(err, "workdir: release %s", l.path)
	}
	return nil
}

// stale reports whether the lock's owner PID is unreadable or gone.
func stale(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return true
	}
	exists, err := process.PidExists(int32(pid))
	if err != nil {
		return false
	}
	return !exists
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
