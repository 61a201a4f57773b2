package model

import "testing"

func TestEventKind_Transition(t *testing.T) {
	tests := []struct {
		kind  EventKind
		want  TaskState
		valid bool
	}{
		{EventInitialize, TaskStateInitialized, true},
		{EventInterrupt, TaskStateInterrupted, true},
		{EventFinish, TaskStateFinished, true},
		{EventMode, "", true},
		{EventKind("execute"), "", false},
	}
	for _, tt := range tests {
		if got := tt.kind.Transition(); got != tt.want {
			t.Errorf("EventKind(%q).Transition() = %q, want %q", tt.kind, got, tt.want)
		}
		if got := tt.kind.Valid(); got != tt.valid {
			t.Errorf("EventKind(%q).Valid() = %v, want %v", tt.kind, got, tt.valid)
		}
	}
}
