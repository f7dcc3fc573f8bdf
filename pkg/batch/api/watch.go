package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/tigerroll/importd/pkg/batch/core/application/usecase"
	model "github.com/tigerroll/importd/pkg/batch/core/domain/model"
	"github.com/tigerroll/importd/pkg/batch/listener"
	"github.com/tigerroll/importd/pkg/batch/support/util/exception"
	"github.com/tigerroll/importd/pkg/batch/support/util/logger"
)

const writeWait = 10 * time.Second

// Watcher streams job snapshots over a WebSocket until the job reaches a terminal status.
// Snapshots come from the in-process broadcaster when the worker shares the process,
// and from polling the job store otherwise.
type Watcher struct {
	explorer    usecase.JobExplorer
	broadcaster *listener.Broadcaster
	interval    time.Duration
	upgrader    websocket.Upgrader
}

// NewWatcher creates a Watcher. broadcaster may be nil.
func NewWatcher(explorer usecase.JobExplorer, broadcaster *listener.Broadcaster, interval time.Duration) *Watcher {
	return &Watcher{
		explorer:    explorer,
		broadcaster: broadcaster,
		interval:    interval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Origin policy is enforced by the gateway in front of the API.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func changed(prev, next *model.Job) bool {
	return prev.Status != next.Status ||
		prev.Progress != next.Progress ||
		len(prev.ErrorLog) != len(next.ErrorLog) ||
		!prev.UpdatedAt.Equal(next.UpdatedAt)
}

// Serve upgrades the request and streams job until it is terminal or the client leaves.
func (w *Watcher) Serve(c echo.Context, job *model.Job) error {
	conn, err := w.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Warnf("Watch of job %s: upgrade failed: %v", job.ID, err)
		return nil
	}
	defer conn.Close()

	var updates <-chan *model.Job
	if w.broadcaster != nil {
		ch, unsubscribe := w.broadcaster.Subscribe(job.ID)
		defer unsubscribe()
		updates = ch
	}

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(j *model.Job) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(NewStatusView(j))
	}
	if err := send(job); err != nil {
		return nil
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	last := job
	for !last.Status.IsTerminal() {
		var next *model.Job
		select {
		case <-ctx.Done():
			return nil
		case j, open := <-updates:
			if !open {
				updates = nil
				continue
			}
			next = j
		case <-ticker.C:
			j, err := w.explorer.Get(ctx, job.ID)
			if err != nil {
				if errors.Is(err, exception.ErrJobNotFound) {
					w.close(conn, "job deleted")
					return nil
				}
				logger.Debugf("Watch of job %s: poll failed: %v", job.ID, err)
				continue
			}
			next = j
		}
		if changed(last, next) {
			if err := send(next); err != nil {
				return nil
			}
		}
		last = next
	}
	w.close(conn, fmt.Sprintf("job %s", last.Status))
	return nil
}

func (w *Watcher) close(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
