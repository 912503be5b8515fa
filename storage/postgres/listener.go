package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	stdSync "sync"
	"sync/atomic"
	"time"

	"github.com/lib/pq"

	"github.com/c0deZ3R0/go-offline-kit/record"
)

// QueueChange describes one insert into or delete from the operation log.
type QueueChange struct {
	Action     string            `json:"action"` // "insert" or "delete"
	Seq        int64             `json:"seq"`
	Collection record.Collection `json:"collection"`
}

// QueueHandler receives queue changes on the listener goroutine.
type QueueHandler func(QueueChange)

// QueueListener follows the operation log of a shared database, so one
// process can watch writes queued or replayed by another.
type QueueListener struct {
	listener *pq.Listener
	logger   *slog.Logger
	handler  QueueHandler

	closed        int32 // atomic
	done          chan struct{}
	connected     chan struct{}
	connectedOnce stdSync.Once
	wg            stdSync.WaitGroup
}

// connectTimeout bounds how long ListenQueue waits for the first connection.
const connectTimeout = 10 * time.Second

// ListenQueue opens a dedicated connection and starts delivering changes to h
// until ctx is done or Close is called.
func (s *Store) ListenQueue(ctx context.Context, h QueueHandler) (*QueueListener, error) {
	if err := s.begin(ctx, "postgres.ListenQueue"); err != nil {
		return nil, err
	}
	ql := &QueueListener{
		logger:    s.logger.With(slog.String("channel", QueueChannel)),
		handler:   h,
		done:      make(chan struct{}),
		connected: make(chan struct{}),
	}
	ql.listener = pq.NewListener(
		s.config.ConnectionString,
		s.config.MinReconnectInterval,
		s.config.MaxReconnectInterval,
		ql.eventCallback,
	)

	select {
	case <-ql.connected:
	case <-ctx.Done():
		_ = ql.listener.Close()
		return nil, ctx.Err()
	case <-time.After(connectTimeout):
		_ = ql.listener.Close()
		return nil, fmt.Errorf("queue listener: no connection after %s", connectTimeout)
	}

	if err := ql.listener.Listen(QueueChannel); err != nil {
		_ = ql.listener.Close()
		return nil, fmt.Errorf("failed to listen to channel %s: %w", QueueChannel, err)
	}

	ql.wg.Add(1)
	go ql.listenLoop(ctx)
	return ql, nil
}

func (ql *QueueListener) eventCallback(event pq.ListenerEventType, err error) {
	switch event {
	case pq.ListenerEventConnected:
		ql.logger.Debug("queue listener connected")
		ql.connectedOnce.Do(func() { close(ql.connected) })
	case pq.ListenerEventDisconnected:
		ql.logger.Warn("queue listener disconnected", slog.Any("error", err))
	case pq.ListenerEventReconnected:
		// pq re-issues LISTEN for us; anything sent while down is lost.
		ql.logger.Info("queue listener reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		ql.logger.Warn("queue listener connection attempt failed", slog.Any("error", err))
	}
}

func (ql *QueueListener) listenLoop(ctx context.Context) {
	defer ql.wg.Done()

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ql.done:
			return
		case n, ok := <-ql.listener.Notify:
			if !ok {
				return
			}
			if n != nil {
				ql.dispatch(n)
			}
		case <-ping.C:
			if err := ql.listener.Ping(); err != nil {
				ql.logger.Warn("queue listener ping failed", slog.Any("error", err))
			}
		}
	}
}

func (ql *QueueListener) dispatch(n *pq.Notification) {
	var change QueueChange
	if err := json.Unmarshal([]byte(n.Extra), &change); err != nil {
		ql.logger.Warn("malformed queue notification", slog.String("payload", n.Extra), slog.Any("error", err))
		return
	}
	ql.handler(change)
}

// Close stops the listener and waits for the loop to exit.
func (ql *QueueListener) Close() error {
	if !atomic.CompareAndSwapInt32(&ql.closed, 0, 1) {
		return nil
	}
	close(ql.done)
	ql.wg.Wait()
	return ql.listener.Close()
}
