package journal

import "github.com/me/cmdbase/pkg/model"

// TaskHistory is the reconstructed lifecycle of one admitted task.
type TaskHistory struct {
	TaskID      string
	TaskName    string
	State       model.TaskState
	StartTick   uint64
	EndTick     uint64
	Interruptor string
}

// Replay folds journal events into per-task histories, ordered by admission.
// Events whose transition is not allowed from the task's current state are
// skipped and counted.
func Replay(events []*model.Event) (histories []*TaskHistory, skipped int) {
	byID := make(map[string]*TaskHistory)
	for _, ev := range events {
		next := ev.Kind.Transition()
		if next == "" || ev.TaskID == "" {
			continue
		}
		h := byID[ev.TaskID]
		if h == nil {
			if ev.Kind != model.EventInitialize {
				skipped++
				continue
			}
			h = &TaskHistory{TaskID: ev.TaskID, TaskName: ev.TaskName, State: model.TaskStateNotScheduled}
			byID[ev.TaskID] = h
			histories = append(histories, h)
		}
		if !h.State.CanTransitionTo(next) {
			skipped++
			continue
		}
		h.State = next
		switch next {
		case model.TaskStateInitialized:
			h.StartTick = ev.Tick
		default:
			h.EndTick = ev.Tick
			h.Interruptor = ev.Interruptor
		}
	}
	return histories, skipped
}
