// Package shm wraps SysV shared memory and the paired writer/reader
// semaphore protocol used by the buffindexed overview backend to
// coordinate multiple processes against the same buffer files.
//
// The protocol (sem[0] writer exclusion, sem[1] active-reader count, all
// operations under SEM_UNDO so a crashed process cannot wedge the
// segment) is ported from storage/buffindexed/shmem.c; the Go surface —
// a Region whose teardown runs on every exit path including a panic via
// Destroy — follows spec §9's Design Notes on wrapping OS-level
// resources.
//
// golang.org/x/sys/unix does not expose a stable high-level Go wrapper
// for semget/semop/shmget/shmat/shmdt/semctl/shmctl across platforms, so
// this package drives them directly through unix.Syscall using the
// kernel syscall numbers unix already exports (unix.SYS_SEMGET and
// siblings) — the same approach taken by low-level IPC shims elsewhere
// in the ecosystem when no portable wrapper exists.
package shm

import (
	"fmt"
	"hash/fnv"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/InterNetNews/inncore/errs"
)

// sembuf mirrors the kernel's struct sembuf, used directly in the
// semop(2) syscall argument.
type sembuf struct {
	num uint16
	op  int16
	flg int16
}

const (
	ipcCreat  = 0o1000
	ipcExcl   = 0o2000
	ipcRmid   = 0
	semUndo   = 0o10000
	ipcNowait = 0o4000
)

// key derives a SysV IPC key from a path the way ftok does: a
// deterministic mapping from a filesystem path to a 32-bit key. ftok(3)
// requires the path to already exist; this package targets paths
// callers create before first attach, so an FNV hash of the path string
// (as given, not made absolute) is used instead of shelling out to ftok
// via cgo.
func key(path string) int32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(path))
	return int32(h.Sum32() & 0x7fffffff)
}

// Region is a named SysV shared-memory segment plus its associated
// 2-semaphore set (sem[0]=writer exclusion, sem[1]=reader count).
type Region struct {
	name   string
	semid  uintptr
	shmid  uintptr
	size   int
	mu     sync.Mutex
	closed bool
}

func semget(k int32, nsem int, flags int) (uintptr, error) {
	id, _, errno := unix.Syscall(unix.SYS_SEMGET, uintptr(k), uintptr(nsem), uintptr(flags))
	if errno != 0 {
		return 0, errno
	}
	return id, nil
}

func semctlRmid(id uintptr) error {
	_, _, errno := unix.Syscall6(unix.SYS_SEMCTL, id, 0, ipcRmid, 0, 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func shmget(k int32, size int, flags int) (uintptr, error) {
	id, _, errno := unix.Syscall(unix.SYS_SHMGET, uintptr(k), uintptr(size), uintptr(flags))
	if errno != 0 {
		return 0, errno
	}
	return id, nil
}

func shmctlRmid(id uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_SHMCTL, id, ipcRmid, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// Create attaches to (creating if necessary) the named shared region
// sized for size bytes. If a segment already exists under this key with
// the wrong shape, it is removed and recreated, per spec §4.C7.
func Create(name string, size int) (*Region, error) {
	k := key(name)
	semid, err := semget(k, 2, ipcCreat|0o660)
	if err != nil {
		if err == unix.EINVAL || err == unix.EACCES {
			if old, gerr := semget(k, 0, 0); gerr == nil {
				_ = semctlRmid(old)
			}
			semid, err = semget(k, 2, ipcCreat|0o660)
		}
		if err != nil {
			return nil, errs.New("shm.Create", errs.KindInternal, err)
		}
	}
	shmid, err := shmget(k, size, ipcCreat|0o660)
	if err != nil {
		if err == unix.EINVAL || err == unix.EACCES {
			if old, gerr := shmget(k, 0, 0); gerr == nil {
				_ = shmctlRmid(old)
			}
			shmid, err = shmget(k, size, ipcCreat|0o660)
		}
		if err != nil {
			return nil, errs.New("shm.Create", errs.KindInternal, err)
		}
	}
	return &Region{name: name, semid: semid, shmid: shmid, size: size}, nil
}

// WriteLock acquires exclusive (writer) access: wait for sem[0]==0,
// increment sem[0] to lock out other writers, then wait for sem[1]==0
// (drain readers) before returning. SIGHUP interrupting the semop is
// retried once per spec §5; a second failure is reported as KindLocked.
func (r *Region) WriteLock() error {
	return r.semop("WriteLock", []sembuf{
		{0, 0, semUndo},
		{0, 1, semUndo},
		{1, 0, semUndo},
	})
}

// WriteUnlock releases the lock acquired by WriteLock.
func (r *Region) WriteUnlock() error {
	return r.semop("WriteUnlock", []sembuf{{0, -1, semUndo | ipcNowait}})
}

// ReadLock acquires shared (reader) access: wait for sem[0]==0, then
// increment sem[1] to register as an active reader.
func (r *Region) ReadLock() error {
	return r.semop("ReadLock", []sembuf{
		{0, 0, semUndo},
		{1, 1, semUndo},
	})
}

// ReadUnlock releases the lock acquired by ReadLock.
func (r *Region) ReadUnlock() error {
	return r.semop("ReadUnlock", []sembuf{{1, -1, semUndo | ipcNowait}})
}

func (r *Region) semop(op string, ops []sembuf) error {
	try := func() unix.Errno {
		_, _, errno := unix.Syscall(unix.SYS_SEMOP, r.semid, uintptr(unsafe.Pointer(&ops[0])), uintptr(len(ops)))
		return errno
	}
	if errno := try(); errno != 0 {
		// A signal (e.g. SIGHUP) interrupting semop is retried once per
		// spec §5; a second failure is surfaced as KindLocked.
		if errno2 := try(); errno2 != 0 {
			return errs.New(fmt.Sprintf("shm.%s", op), errs.KindLocked, errno2)
		}
	}
	return nil
}

// Attach maps the segment into this process's address space and
// returns the mapped bytes. Callers must not retain the slice beyond
// Detach.
func (r *Region) Attach() ([]byte, error) {
	addr, _, errno := unix.Syscall(unix.SYS_SHMAT, r.shmid, 0, 0)
	if errno != 0 {
		return nil, errs.New("shm.Attach", errs.KindInternal, errno)
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), r.size), nil
}

// Detach unmaps a previously attached segment.
func (r *Region) Detach(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	_, _, errno := unix.Syscall(unix.SYS_SHMDT, uintptr(unsafe.Pointer(&b[0])), 0, 0)
	if errno != 0 {
		return errs.New("shm.Detach", errs.KindInternal, errno)
	}
	return nil
}

// Destroy removes the segment and semaphore set. It is idempotent and
// safe to call from a defer even after a panic, matching the
// SharedRegion teardown contract in spec §9.
func (r *Region) Destroy() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	var firstErr error
	if err := shmctlRmid(r.shmid); err != nil {
		firstErr = err
	}
	if err := semctlRmid(r.semid); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return errs.New("shm.Destroy", errs.KindInternal, firstErr)
	}
	return nil
}
