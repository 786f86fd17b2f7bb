package proto

import "strconv"

// Errno is a Linux errno number as carried on the wire by Rlerror. 9P2000.L
// errors are always Linux errno values regardless of the server's host OS,
// so this is a fixed table rather than the host's syscall.Errno (whose
// numeric values differ across GOOS).
type Errno uint32

// The subset of Linux errno values this server emits or expects a back-end
// to return. Values match asm-generic/errno-base.h and errno.h.
const (
	EPERM   Errno = 1
	ENOENT  Errno = 2
	EINTR   Errno = 4
	EIO     Errno = 5
	EBADF   Errno = 9
	EAGAIN  Errno = 11
	EACCES  Errno = 13
	EEXIST  Errno = 17
	ENODEV  Errno = 19
	ENOTDIR Errno = 20
	EISDIR  Errno = 21
	EINVAL  Errno = 22
	EMFILE  Errno = 24
	EFBIG   Errno = 27
	ENOSPC  Errno = 28
	EROFS   Errno = 30
	ENAMETOOLONG Errno = 36
	ENOTEMPTY    Errno = 39
	ELOOP        Errno = 40
	ENODATA      Errno = 61
	ENOSYS       Errno = 38
	EPROTO       Errno = 71
	EOPNOTSUPP   Errno = 95
	EMSGSIZE     Errno = 90
	ESTALE       Errno = 116
)

func (e Errno) Error() string {
	if s, ok := errnoText[e]; ok {
		return s
	}
	return "errno " + strconv.FormatUint(uint64(e), 10)
}

var errnoText = map[Errno]string{
	EPERM:        "operation not permitted",
	ENOENT:       "no such file or directory",
	EINTR:        "interrupted system call",
	EIO:          "input/output error",
	EBADF:        "bad file descriptor",
	EAGAIN:       "resource temporarily unavailable",
	EACCES:       "permission denied",
	EEXIST:       "file exists",
	ENODEV:       "no such device",
	ENOTDIR:      "not a directory",
	EISDIR:       "is a directory",
	EINVAL:       "invalid argument",
	EMFILE:       "too many open files",
	EFBIG:        "file too large",
	ENOSPC:       "no space left on device",
	EROFS:        "read-only file system",
	ENAMETOOLONG: "file name too long",
	ENOTEMPTY:    "directory not empty",
	ELOOP:        "too many levels of symbolic links",
	ENODATA:      "no data available",
	ENOSYS:       "function not implemented",
	EPROTO:       "protocol error",
	EOPNOTSUPP:   "operation not supported",
	EMSGSIZE:     "message too long",
	ESTALE:       "stale file handle",
}
