package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chathub/internal/metrics"

	"github.com/rs/zerolog/log"
)

// WriteFunc 是一次针对持久化日志的写操作。
type WriteFunc func(ctx context.Context) error

// Persister 接收事件处理过程中产生的持久化写操作。
// 调用方已经完成内存修改与广播，写失败只做上报，不回滚。
type Persister interface {
	Persist(op string, fn WriteFunc)
}

// reportFailure 记录持久化失败：内存与持久化状态可能暂时不一致，需要人工重载。
func reportFailure(op string, err error) {
	metrics.PersistenceFailures.WithLabelValues(op).Inc()
	log.Error().Err(fmt.Errorf("%w: %v", ErrPersistenceFailure, err)).Str("op", op).
		Msg("durable write failed; in-memory and durable state may diverge")
}

// Inline 在调用方的 goroutine 中同步执行写操作。
type Inline struct {
	Timeout time.Duration
}

func (p Inline) Persist(op string, fn WriteFunc) {
	ctx := context.Background()
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	if err := fn(ctx); err != nil {
		reportFailure(op, err)
	}
}

type writeOp struct {
	op string
	fn WriteFunc
}

// WriteBehind 用单个后台 worker 按提交顺序执行写操作，事件循环不等待写入完成。
// 队列满时 Persist 会阻塞，形成背压而不是丢弃写入。
type WriteBehind struct {
	ops     chan writeOp
	timeout time.Duration
	stopped chan struct{}
	once    sync.Once
	wg      sync.WaitGroup

	// 提交方持有读锁；停止时在写锁下置 closed，之后不会再有写入入队。
	submit sync.RWMutex
	closed bool
}

func NewWriteBehind(queueSize int, timeout time.Duration) *WriteBehind {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &WriteBehind{ops: make(chan writeOp, queueSize), timeout: timeout, stopped: make(chan struct{})}
}

func (w *WriteBehind) Persist(op string, fn WriteFunc) {
	w.submit.RLock()
	defer w.submit.RUnlock()
	if w.closed {
		reportFailure(op, fmt.Errorf("write-behind stopped"))
		return
	}
	w.wg.Add(1)
	select {
	case w.ops <- writeOp{op: op, fn: fn}:
	case <-w.stopped:
		w.wg.Done()
		reportFailure(op, fmt.Errorf("write-behind stopped"))
	}
}

// Flush 阻塞直到已提交的写操作全部执行完毕。
func (w *WriteBehind) Flush() {
	w.wg.Wait()
}

// Run 执行写操作直到 ctx 结束，结束前把队列中剩余的写操作执行完。
func (w *WriteBehind) Run(ctx context.Context) error {
	for {
		select {
		case op := <-w.ops:
			w.apply(context.Background(), op)
		case <-ctx.Done():
			w.once.Do(func() { close(w.stopped) })
			// 关闭 stopped 先唤醒因队列已满而阻塞的提交方，再等所有提交方退出。
			w.submit.Lock()
			w.closed = true
			w.submit.Unlock()
			for {
				select {
				case op := <-w.ops:
					w.apply(context.Background(), op)
				default:
					return nil
				}
			}
		}
	}
}

func (w *WriteBehind) apply(parent context.Context, op writeOp) {
	defer w.wg.Done()
	ctx := parent
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, w.timeout)
		defer cancel()
	}
	if err := op.fn(ctx); err != nil {
		reportFailure(op.op, err)
	}
}
