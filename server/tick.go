package server

import (
	"time"

	"tankarena/protocol"
)

const (
	// TicksPerSecond 默认帧推进频率（20 TPS）
	TicksPerSecond = 20
)

var DefaultTickInterval = time.Duration(1000/TicksPerSecond) * time.Millisecond // 50ms

// startTicker 开局后才启动 Tick，凑人与等待就绪阶段不需要
func (r *Room) startTicker() {
	if r.ticker != nil {
		return
	}
	r.ticker = time.NewTicker(r.tickInterval)
}

func (r *Room) stopTicker() {
	if r.ticker != nil {
		r.ticker.Stop()
		r.ticker = nil
	}
}

// tickC 未启动时返回 nil，select 中永远不会就绪
func (r *Room) tickC() <-chan time.Time {
	if r.ticker == nil {
		return nil
	}
	return r.ticker.C
}

// tick 帧同步栅栏：输入未收齐就跳过本次 Tick 并记下 missedLockstep
func (r *Room) tick() {
	if r.State() != StateRunning {
		return
	}
	if !r.game.IsFrameReady() {
		r.missedLockstep = true
		r.metrics.IncMissed()
		return
	}
	r.sendStep()
}

// maybeEagerStep 错过 Tick 后，最后一份输入到达时立即结算，不再等下一次 Tick
func (r *Room) maybeEagerStep() {
	if r.State() != StateRunning || !r.missedLockstep || !r.game.IsFrameReady() {
		return
	}
	r.metrics.IncEager()
	r.sendStep()
}

// sendStep 结算一帧 → 广播事件 → 判断胜负
func (r *Room) sendStep() {
	r.missedLockstep = false
	start := time.Now()
	events := r.game.ProcessFrame()
	r.metrics.AddFrame(time.Since(start).Nanoseconds())
	r.frame.Store(int64(r.game.Frame()))

	r.broadcast(protocol.MsgGameAction, events)
	if r.game.Finished() {
		r.recordOutcome()
		r.stop("match finished")
	}
}
