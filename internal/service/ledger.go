package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yuqie6/DungeonMirror/internal/calendar"
	"github.com/yuqie6/DungeonMirror/internal/eventbus"
)

// LedgerDeps 账本依赖
type LedgerDeps struct {
	Characters CharacterRepository
	Dungeons   DungeonRepository
	Stats      StatRepository
	Records    RecordRepository
	Backups    BackupStore
	Hub        *eventbus.Hub
	Calendar   calendar.Calendar
	Now        func() time.Time
	// ReadOnly 安全模式：拒绝一切写操作
	ReadOnly bool
}

// Ledger 唯一写入者：一个协程顺序消费命令通道，所有写操作与统计读取都经由它执行
type Ledger struct {
	chars    CharacterRepository
	dungeons DungeonRepository
	stats    StatRepository
	records  RecordRepository
	backups  BackupStore
	hub      *eventbus.Hub
	now      func() time.Time
	readOnly bool

	cal atomic.Pointer[calendar.Calendar]

	cmds     chan ledgerCommand
	stopChan chan struct{}
	done     chan struct{}
	running  atomic.Bool
	stopOnce sync.Once

	// 以下字段仅在 owner 协程内访问
	lastResync      *ResyncResult
	calendarChanged bool
}

type ledgerCommand struct {
	ctx   context.Context
	name  string
	fn    func(ctx context.Context) (any, error)
	reply chan ledgerReply
}

type ledgerReply struct {
	val any
	err error
}

// NewLedger 创建账本（需调用 Start 后才能接收命令）
func NewLedger(deps LedgerDeps) *Ledger {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	l := &Ledger{
		chars:    deps.Characters,
		dungeons: deps.Dungeons,
		stats:    deps.Stats,
		records:  deps.Records,
		backups:  deps.Backups,
		hub:      deps.Hub,
		now:      now,
		readOnly: deps.ReadOnly,
		cmds:     make(chan ledgerCommand),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	cal := deps.Calendar
	if cal.Location() == nil {
		cal = calendar.Default()
	}
	l.cal.Store(&cal)
	return l
}

// Start 启动 owner 协程并执行一次全量重算
func (l *Ledger) Start(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return nil
	}
	go l.loop()

	slog.Info("账本启动", "calendar", l.Calendar().String(), "read_only", l.readOnly)
	if _, err := l.Resync(ctx); err != nil {
		slog.Warn("启动重算失败", "error", err)
	}
	return nil
}

// Stop 停止 owner 协程，正在执行的命令会先完成
func (l *Ledger) Stop() {
	if !l.running.Load() {
		return
	}
	l.stopOnce.Do(func() {
		close(l.stopChan)
		<-l.done
		l.running.Store(false)
		slog.Info("账本已停止")
	})
}

// Calendar 当前游戏周日历（并发安全）
func (l *Ledger) Calendar() calendar.Calendar {
	return *l.cal.Load()
}

// Now 账本使用的时钟
func (l *Ledger) Now() time.Time {
	return l.now()
}

func (l *Ledger) loop() {
	defer close(l.done)

	timer := time.NewTimer(l.untilRollover())
	defer timer.Stop()

	for {
		select {
		case <-l.stopChan:
			return

		case cmd := <-l.cmds:
			// 命令一旦开始执行就不随调用方取消中断，保证落库完整
			val, err := cmd.fn(context.WithoutCancel(cmd.ctx))
			if err != nil {
				slog.Debug("账本命令失败", "cmd", cmd.name, "error", err)
			}
			cmd.reply <- ledgerReply{val: val, err: err}

			if l.calendarChanged {
				l.calendarChanged = false
				resetTimer(timer, l.untilRollover())
			}

		case <-timer.C:
			// 游戏周刷新：本周计数归零需要一次全量重算
			if l.readOnly {
				slog.Info("安全模式，跳过周刷新重算")
			} else if _, err := l.resync(context.Background()); err != nil {
				slog.Warn("周刷新重算失败", "error", err)
			}
			timer.Reset(l.untilRollover())
		}
	}
}

// untilRollover 距下一个游戏周开始的时长
func (l *Ledger) untilRollover() time.Duration {
	cal := l.Calendar()
	now := l.now()
	d := cal.NextWeekStart(cal.WeekStart(now)).Sub(now)
	if d < time.Second {
		d = time.Second
	}
	return d
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// submit 把命令交给 owner 协程并等待结果
func submit[T any](ctx context.Context, l *Ledger, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if !l.running.Load() {
		return zero, ErrLedgerStopped
	}

	reply := make(chan ledgerReply, 1)
	cmd := ledgerCommand{
		ctx:  ctx,
		name: name,
		fn: func(ctx context.Context) (any, error) {
			return fn(ctx)
		},
		reply: reply,
	}

	select {
	case l.cmds <- cmd:
	case <-l.done:
		return zero, ErrLedgerStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case r := <-reply:
		v, _ := r.val.(T)
		return v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// mutate 写命令：安全模式下直接拒绝
func mutate[T any](ctx context.Context, l *Ledger, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	if l.readOnly {
		var zero T
		return zero, ErrSafeMode
	}
	return submit(ctx, l, name, fn)
}
