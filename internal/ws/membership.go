package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var errWriterStopped = errors.New("membership writer stopped")

type membershipOp struct {
	conn   *Conn
	userID uint
	roomID uint
	remove bool
}

// membershipWriter 串行落库持久成员关系，注册表变更不等待它。
type membershipWriter struct {
	st      Store
	queue   chan membershipOp
	timeout time.Duration
	report  func(*Conn, error)
	done    chan struct{}

	mu      sync.Mutex
	stopped bool
}

func newMembershipWriter(st Store, size int, timeout time.Duration, report func(*Conn, error)) *membershipWriter {
	return &membershipWriter{
		st:      st,
		queue:   make(chan membershipOp, size),
		timeout: timeout,
		report:  report,
		done:    make(chan struct{}),
	}
}

// enqueue 非阻塞入队，队列满时返回错误由调用方上报；run 退出后一律拒绝。
func (w *membershipWriter) enqueue(op membershipOp) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return errWriterStopped
	}
	select {
	case w.queue <- op:
		return nil
	default:
		return errStorageQueueFull
	}
}

// run 顺序处理队列，直到 ctx 取消后把剩余任务写完。
func (w *membershipWriter) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case op := <-w.queue:
			w.apply(op)
		case <-ctx.Done():
			w.mu.Lock()
			w.stopped = true
			w.mu.Unlock()
			for {
				select {
				case op := <-w.queue:
					w.apply(op)
				default:
					return
				}
			}
		}
	}
}

func (w *membershipWriter) apply(op membershipOp) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	var err error
	opName := "upsert_membership"
	if op.remove {
		opName = "delete_membership"
		err = w.st.DeleteMembership(ctx, op.userID, op.roomID)
	} else {
		err = w.st.UpsertMembership(ctx, op.userID, op.roomID)
	}
	if err == nil {
		return
	}
	log.Warn().Err(err).Uint("user_id", op.userID).Uint("room_id", op.roomID).Str("op", opName).Msg("membership write failed")
	if w.report != nil {
		w.report(op.conn, storageErr(opName, err))
	}
}

// wait 阻塞到 run 退出。
func (w *membershipWriter) wait() { <-w.done }
