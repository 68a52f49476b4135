// Package queue provides a durable at-least-once job queue with delayed
// delivery, and a worker that runs named handlers with bounded retries.
package queue

import (
	"context"
	"time"

	"github.com/forPelevin/hlfeed/internal/types"
)

// Job names.
const (
	JobProcessMediaItem  = "process_media_item"
	JobScanLibrary       = "scan_library"
	JobDiscoverLibraries = "discover_libraries"
)

// Queue is the contract both backends implement. Claim returns nil, nil
// when nothing is due. A claimed job that is neither acked nor retried
// before its lease expires is delivered again; Extend renews the lease
// from now.
type Queue interface {
	Enqueue(ctx context.Context, name string, args []string, delay time.Duration) (string, error)
	Claim(ctx context.Context) (*types.Job, error)
	Extend(ctx context.Context, job *types.Job) error
	Ack(ctx context.Context, job *types.Job) error
	Retry(ctx context.Context, job *types.Job, delay time.Duration, cause error) error
	Bury(ctx context.Context, job *types.Job, cause error) error
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	s := err.Error()
	if len(s) > 2000 {
		s = s[:2000]
	}
	return s
}
