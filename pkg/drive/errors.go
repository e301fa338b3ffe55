package drive

import "fmt"

// errStreamNotInitialized is returned by Stream if InitializeStream was
// never called, or was called but StopStream already cleared the cache.
type errStreamNotInitialized struct{ Drive string }

func (e *errStreamNotInitialized) Error() string {
	return fmt.Sprintf("drive %s: stream not initialized", e.Drive)
}

// DriveErrorCode is the drive's reported error_code value, opaque to this
// package beyond being nonzero.
type DriveErrorCode uint16

// DriveError reports a nonzero error_code surfaced by a drive's response.
// It matches the teacher's pattern of one exported struct error carrying a
// numeric code plus the identity of what raised it, rather than a bare
// sentinel.
type DriveError struct {
	Code  DriveErrorCode
	Drive string
}

func (e *DriveError) Error() string {
	return fmt.Sprintf("drive %s: error code 0x%04X", e.Drive, uint16(e.Code))
}

// TimeoutError is returned when a request exhausts its retry budget
// without a response.
type TimeoutError struct {
	Drive    string
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("drive %s: no response after %d attempts", e.Drive, e.Attempts)
}
