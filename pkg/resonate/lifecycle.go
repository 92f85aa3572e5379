// ABOUTME: Player session lifecycle state machine
// ABOUTME: Tracks connect, clock sync, buffering and playback using looplab/fsm
package resonate

import (
	"context"
	"errors"
	"log"

	"github.com/looplab/fsm"
)

// Player states
const (
	StateIdle          = "idle"
	StateConnecting    = "connecting"
	StateSynchronizing = "synchronizing"
	StateBuffering     = "buffering"
	StatePlaying       = "playing"
	StateClosed        = "closed"
)

// Lifecycle events
const (
	evConnect     = "connect"
	evHandshake   = "handshake"
	evSynced      = "synced"
	evStreamStart = "stream_start"
	evStreamEnd   = "stream_end"
	evDisconnect  = "disconnect"
	evClose       = "close"
)

func newLifecycle(onChange func(from, to string)) *fsm.FSM {
	return fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: evConnect, Src: []string{StateIdle}, Dst: StateConnecting},
			{Name: evHandshake, Src: []string{StateConnecting}, Dst: StateSynchronizing},
			{Name: evSynced, Src: []string{StateSynchronizing}, Dst: StateBuffering},
			{Name: evStreamStart, Src: []string{StateBuffering, StatePlaying}, Dst: StatePlaying},
			{Name: evStreamEnd, Src: []string{StatePlaying}, Dst: StateBuffering},
			{Name: evDisconnect, Src: []string{StateConnecting, StateSynchronizing, StateBuffering, StatePlaying}, Dst: StateIdle},
			{Name: evClose, Src: []string{StateIdle, StateConnecting, StateSynchronizing, StateBuffering, StatePlaying}, Dst: StateClosed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				if onChange != nil {
					onChange(e.Src, e.Dst)
				}
			},
		},
	)
}

// fire runs event, treating a transition to the current state as a no-op
func fire(f *fsm.FSM, event string) error {
	err := f.Event(context.Background(), event)
	var same fsm.NoTransitionError
	if errors.As(err, &same) {
		return nil
	}
	if err != nil {
		log.Printf("Lifecycle: %s rejected in state %s: %v", event, f.Current(), err)
	}
	return err
}
