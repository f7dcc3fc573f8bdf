package notification

import (
	"context"
	"fmt"
	"time"

	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
	"github.com/tigerroll/importd/pkg/batch/core/ports"
	"github.com/tigerroll/importd/pkg/batch/listener"
	"github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

// LogNotifier only logs notifications. Delivery to users happens outside this service.
type LogNotifier struct{}

// NewLogNotifier creates a new instance of LogNotifier.
func NewLogNotifier() *LogNotifier {
	logger.Infof("Notification: Initializing log notifier.")
	return &LogNotifier{}
}

// NotifyJobCompletion logs a one-line summary of the finished job.
func (n *LogNotifier) NotifyJobCompletion(ctx context.Context, job *model.Job) {
	var duration time.Duration
	if job.StartedAt != nil && job.CompletedAt != nil {
		duration = job.CompletedAt.Sub(*job.StartedAt)
	}
	user := "-"
	if job.UserID != nil {
		user = *job.UserID
	}

	message := fmt.Sprintf(
		"Job Notification: %s job %s for user %s finished as %s. Duration: %s, Succeeded: %d, Failed: %d, Errors: %d",
		job.Type,
		job.ID,
		user,
		job.Status,
		duration,
		job.Progress.SuccessCount,
		job.Progress.FailedCount,
		len(job.ErrorLog),
	)

	if job.Status == model.StatusCompleted {
		logger.Infof("%s", message)
	} else {
		logger.Warnf("%s", message)
	}
}

var _ ports.Notifier = (*LogNotifier)(nil)

// NotificationListener sends a notification when an attempt leaves the job terminal.
type NotificationListener struct {
	notifier ports.Notifier
}

// NewNotificationListener creates a new instance of NotificationListener.
func NewNotificationListener(notifier ports.Notifier) listener.JobListener {
	return &NotificationListener{notifier: notifier}
}

// BeforeJob does nothing.
func (l *NotificationListener) BeforeJob(ctx context.Context, job *model.Job) {}

// AfterJob notifies terminal jobs. Requeued attempts are not reported.
func (l *NotificationListener) AfterJob(ctx context.Context, job *model.Job, err error) {
	if job.Status.IsTerminal() {
		l.notifier.NotifyJobCompletion(ctx, job)
	}
}

var _ listener.JobListener = (*NotificationListener)(nil)
