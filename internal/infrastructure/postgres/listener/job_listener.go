// Package listener wakes queue workers from PostgreSQL notifications.
package listener

import (
	"context"
	"time"

	"github.com/lib/pq"

	"spendwise/internal/interfaces/jobqueue"
	"spendwise/internal/shared/logger"
)

const (
	channelName       = "jobs_enqueued"
	reconnectInterval = 5 * time.Second
	pingInterval      = 90 * time.Second
)

// Notifier is woken with the queue name carried by each notification.
type Notifier interface {
	Notify(queue string)
}

// JobListener relays jobs_enqueued notifications, so workers in every process
// pick up new jobs without waiting for their next poll.
type JobListener struct {
	connStr    string
	notifier   Notifier
	shutdownCh chan struct{}
	done       chan struct{}
}

func NewJobListener(connStr string, notifier Notifier) *JobListener {
	return &JobListener{
		connStr:    connStr,
		notifier:   notifier,
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins listening in a background goroutine.
func (l *JobListener) Start(ctx context.Context) {
	go l.listen(ctx)
	logger.Info("job notification listener started", "channel", channelName)
}

// Stop shuts the listener down and waits for it to exit.
func (l *JobListener) Stop() {
	close(l.shutdownCh)
	<-l.done
	logger.Info("job notification listener stopped")
}

func (l *JobListener) listen(ctx context.Context) {
	defer close(l.done)

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		default:
			l.connectAndListen(ctx)
		}

		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(reconnectInterval):
			logger.Info("reconnecting to PostgreSQL for job notifications")
		}
	}
}

func (l *JobListener) connectAndListen(ctx context.Context) {
	listener := pq.NewListener(l.connStr, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			logger.Debug("connected to job notification channel")
		case pq.ListenerEventDisconnected:
			logger.Warn("disconnected from job notification channel", "error", err)
		case pq.ListenerEventReconnected:
			logger.Info("reconnected to job notification channel")
		case pq.ListenerEventConnectionAttemptFailed:
			logger.Warn("job notification connection attempt failed", "error", err)
		}
	})
	defer listener.Close()

	if err := listener.Listen(channelName); err != nil {
		logger.Error("failed to listen for job notifications", "channel", channelName, "error", err)
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case n := <-listener.Notify:
			if n == nil {
				// nil after a reconnect: jobs may have been enqueued while
				// the connection was down.
				l.wakeAll()
				continue
			}
			l.notifier.Notify(n.Extra)
		case <-ticker.C:
			go func() {
				if err := listener.Ping(); err != nil {
					logger.Warn("job listener ping failed", "error", err)
				}
			}()
		}
	}
}

func (l *JobListener) wakeAll() {
	for _, q := range []string{jobqueue.QueueSync, jobqueue.QueueReconcile} {
		l.notifier.Notify(q)
	}
}
