package queue

import (
	"time"

	"github.com/google/uuid"
)

// TaskTypeTimerFire is the only task type the engine's durable timer
// path publishes (C2): a sub-phase or phase deadline that must survive
// a process restart between being armed and firing.
const TaskTypeTimerFire = "timer_fire"

// TimerFireData carries enough to re-derive and submit an advance_phase
// (or force_skip_subphase) command once the deadline elapses, without
// the queue consumer needing to understand game rules.
type TimerFireData struct {
	GameID    string `json:"game_id"`
	TimerType string `json:"timer_type"`
	ArmedSeq  int64  `json:"armed_seq"` // LastSeq when the timer was armed; a stale fire is a no-op if the game has moved on
}

// TaskFactory creates durable timer-fire tasks.
type TaskFactory struct {
	DefaultPriority int
}

func NewTaskFactory() *TaskFactory {
	return &TaskFactory{DefaultPriority: 5}
}

// CreateTimerFireTask schedules a redelivery-safe wakeup for gameID at
// deadline: RabbitMQ's per-message TTL plus dead-letter-to-self pattern
// (wired at the broker, not here) redelivers it if this process dies
// before the in-process time.AfterFunc equivalent would have fired.
func (f *TaskFactory) CreateTimerFireTask(gameID string, data TimerFireData) Task {
	return Task{
		ID:        uuid.New().String(),
		Type:      TaskTypeTimerFire,
		GameID:    gameID,
		Data:      map[string]interface{}{"game_id": data.GameID, "timer_type": data.TimerType, "armed_seq": data.ArmedSeq},
		Priority:  8,
		CreatedAt: time.Now(),
		MaxRetry:  1,
	}
}
