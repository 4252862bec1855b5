package server

import (
	"sync/atomic"
)

// RoomMetrics 记录房间运行期的关键指标（用于监控与调试）
type RoomMetrics struct {
	FramesResolved  int64 // 已结算的帧数
	MissedLocksteps int64 // Tick 到达时输入未收齐的次数
	EagerSteps      int64 // 迟到输入补齐后立即结算的次数
	ActionsAccepted int64 // 被接受的动作数
	ActionsIgnored  int64 // 非对局阶段收到而被忽略的动作数
	Desyncs         int64 // 因协议错误解散房间的次数
	TotalFrameNs    int64 // 帧结算累计耗时（纳秒）
}

func (m *RoomMetrics) IncMissed()   { atomic.AddInt64(&m.MissedLocksteps, 1) }
func (m *RoomMetrics) IncEager()    { atomic.AddInt64(&m.EagerSteps, 1) }
func (m *RoomMetrics) IncAccepted() { atomic.AddInt64(&m.ActionsAccepted, 1) }
func (m *RoomMetrics) IncIgnored()  { atomic.AddInt64(&m.ActionsIgnored, 1) }
func (m *RoomMetrics) IncDesync()   { atomic.AddInt64(&m.Desyncs, 1) }
func (m *RoomMetrics) AddFrame(ns int64) {
	atomic.AddInt64(&m.FramesResolved, 1)
	atomic.AddInt64(&m.TotalFrameNs, ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *RoomMetrics) Snapshot() map[string]any {
	frames := atomic.LoadInt64(&m.FramesResolved)
	total := atomic.LoadInt64(&m.TotalFrameNs)
	var avgMs float64
	if frames > 0 {
		avgMs = float64(total) / float64(frames) / 1e6
	}
	return map[string]any{
		"frames_resolved":  frames,
		"missed_locksteps": atomic.LoadInt64(&m.MissedLocksteps),
		"eager_steps":      atomic.LoadInt64(&m.EagerSteps),
		"actions_accepted": atomic.LoadInt64(&m.ActionsAccepted),
		"actions_ignored":  atomic.LoadInt64(&m.ActionsIgnored),
		"desyncs":          atomic.LoadInt64(&m.Desyncs),
		"avg_frame_ms":     avgMs,
	}
}
