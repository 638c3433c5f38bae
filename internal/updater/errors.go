package updater

import (
	"errors"
	"fmt"

	"github.com/evyataryagoni/geolookup/internal/models"
)

var (
	// ErrTransfer means the remote archive could not be fetched
	ErrTransfer = errors.New("transfer failed")

	// ErrExtraction means the archive is corrupt or holds no usable payload
	ErrExtraction = errors.New("extraction failed")

	// ErrPayloadNotFound means the archive holds zero or several payload candidates
	ErrPayloadNotFound = fmt.Errorf("%w: payload not found", ErrExtraction)

	// ErrPayloadTooLarge means the archive expands beyond the configured size cap
	ErrPayloadTooLarge = fmt.Errorf("%w: payload exceeds size limit", ErrExtraction)

	// ErrBusy means another refresh of the same type holds the lock
	ErrBusy = errors.New("refresh already in progress")
)

// Refresh stages, used in logs and JobError
const (
	StageLock     = "lock"
	StageDownload = "download"
	StageExtract  = "extract"
	StageLocate   = "locate"
	StageInstall  = "install"
	StagePublish  = "publish"
)

// JobError records which stage of a refresh failed
type JobError struct {
	Type  models.DatabaseType
	Stage string
	Err   error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("refresh %s: %s: %v", e.Type, e.Stage, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}
