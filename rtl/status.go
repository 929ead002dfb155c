package rtl

import "fmt"

// Status is the kernel-wide return code, the same shape as NT's NTSTATUS
// and grounded on the teacher's own Status type (fuse/misc.go), which
// wraps a numeric errno with Ok()/String() rather than a Go error chain;
// the kernel never unwinds errors across call boundaries (spec.md §7).
//
// By convention status >= 0 is success or informational, status < 0 is
// a failure, mirroring NTSTATUS's severity encoding without reproducing
// its exact bit layout (spec.md's Non-goals exclude on-disk/ABI
// compatibility with real NT).
type Status int32

// Success codes.
const (
	StatusSuccess Status = 0
	// StatusBufferAllZeros is an informational code: the compressed
	// buffer's source was entirely zero bytes.
	StatusBufferAllZeros Status = 1
	// StatusPending marks an IRP that has not completed synchronously.
	StatusPending Status = 2
	// StatusTimeout marks a wait that completed via timer expiry
	// rather than a satisfying signal.
	StatusTimeout Status = 3
	// StatusAlerted marks a wait that completed because the thread
	// was alerted (a user APC was delivered).
	StatusAlerted Status = 4
)

// Failure codes, grouped per spec.md §7.
const (
	StatusInvalidParameter Status = -(iota + 1)
	StatusBufferTooSmall
	StatusInfoLengthMismatch
	StatusInvalidHandle
	StatusInvalidInfoClass

	StatusObjectNameNotFound
	StatusObjectNameCollision
	StatusObjectTypeMismatch

	StatusAccessDenied
	StatusPrivilegeNotHeld

	StatusInsufficientResources
	StatusNoMemory
	StatusQuota

	StatusIoError
	StatusDeviceNotReady
	StatusEndOfFile
	StatusDiskFull

	StatusCancelled
	StatusAbandoned

	StatusBadCompressionBuffer
	StatusUnsupportedCompression

	StatusNotImplemented
	StatusNotSupported

	StatusNotFound
	StatusAlreadyExists
	StatusNotADirectory
	StatusIsADirectory
	StatusNotEmpty
	StatusNoMoreEntries
	StatusInvalidSystemCallNumber
)

var statusNames = map[Status]string{
	StatusSuccess:                 "SUCCESS",
	StatusBufferAllZeros:          "BUFFER_ALL_ZEROS",
	StatusPending:                 "PENDING",
	StatusTimeout:                 "TIMEOUT",
	StatusAlerted:                 "ALERTED",
	StatusInvalidParameter:        "INVALID_PARAMETER",
	StatusBufferTooSmall:          "BUFFER_TOO_SMALL",
	StatusInfoLengthMismatch:      "INFO_LENGTH_MISMATCH",
	StatusInvalidHandle:           "INVALID_HANDLE",
	StatusInvalidInfoClass:        "INVALID_INFO_CLASS",
	StatusObjectNameNotFound:      "OBJECT_NAME_NOT_FOUND",
	StatusObjectNameCollision:     "OBJECT_NAME_COLLISION",
	StatusObjectTypeMismatch:      "OBJECT_TYPE_MISMATCH",
	StatusAccessDenied:            "ACCESS_DENIED",
	StatusPrivilegeNotHeld:        "PRIVILEGE_NOT_HELD",
	StatusInsufficientResources:   "INSUFFICIENT_RESOURCES",
	StatusNoMemory:                "NO_MEMORY",
	StatusQuota:                   "QUOTA",
	StatusIoError:                 "IO_ERROR",
	StatusDeviceNotReady:          "DEVICE_NOT_READY",
	StatusEndOfFile:               "END_OF_FILE",
	StatusDiskFull:                "DISK_FULL",
	StatusCancelled:               "CANCELLED",
	StatusAbandoned:               "ABANDONED",
	StatusBadCompressionBuffer:    "BAD_COMPRESSION_BUFFER",
	StatusUnsupportedCompression:  "UNSUPPORTED_COMPRESSION",
	StatusNotImplemented:          "NOT_IMPLEMENTED",
	StatusNotSupported:            "NOT_SUPPORTED",
	StatusNotFound:                "NOT_FOUND",
	StatusAlreadyExists:           "ALREADY_EXISTS",
	StatusNotADirectory:           "NOT_A_DIRECTORY",
	StatusIsADirectory:            "IS_A_DIRECTORY",
	StatusNotEmpty:                "NOT_EMPTY",
	StatusNoMoreEntries:           "NO_MORE_ENTRIES",
	StatusInvalidSystemCallNumber: "INVALID_SYSTEM_CALL_NUMBER",
}

// Ok reports whether the status represents success or an informational
// code, as opposed to a failure.
func (s Status) Ok() bool { return s >= 0 }

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATUS(%d)", int32(s))
}
