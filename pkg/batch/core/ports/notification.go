package ports

import (
	"context"

	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
)

// Notifier is an abstract interface for notifying external systems about finished jobs.
type Notifier interface {
	// NotifyJobCompletion is called once per job, after it reached a terminal status.
	NotifyJobCompletion(ctx context.Context, job *model.Job)
}
