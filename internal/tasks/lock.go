package tasks

import (
	"os"
	"strconv"

	"github.com/gofrs/flock"

	"github.com/partnerdesk/backend/internal/faults"
)

// Lock is the exclusive PID lock file. Exactly one process may own the
// messenger token; a second instance must refuse to start.
type Lock struct {
	fl   *flock.Flock
	path string
}

// AcquireLock takes the lock or fails fatally if another instance holds it.
// The file content is the owning PID, for operators inspecting a stuck host.
func AcquireLock(path string) (*Lock, error) {
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, faults.Wrap(faults.KindFatal, err, "pid lock %s", path)
	}
	if !ok {
		return nil, faults.New(faults.KindFatal, "another instance holds %s", path)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o600); err != nil {
		fl.Unlock()
		return nil, faults.Wrap(faults.KindFatal, err, "pid write to %s", path)
	}
	return &Lock{fl: fl, path: path}, nil
}

// Release drops the lock and removes the file.
func (l *Lock) Release() error {
	if err := l.fl.Unlock(); err != nil {
		return err
	}
	os.Remove(l.path)
	return nil
}
