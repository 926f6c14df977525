package gateway

import (
	"context"

	"github.com/looplab/fsm"
)

type Phase string

const (
	Disconnected      Phase = "disconnected"
	Connecting        Phase = "connecting"
	AwaitingChallenge Phase = "awaiting_challenge"
	Authenticating    Phase = "authenticating"
	Authenticated     Phase = "authenticated"
)

type Trigger string

const (
	Dial      Trigger = "dial"
	Open      Trigger = "open"
	Challenge Trigger = "challenge"
	Accept    Trigger = "accept"
	Drop      Trigger = "drop"
)

// newMachine builds the connection state machine:
//
//	disconnected -> connecting -> awaiting_challenge -> authenticating -> authenticated
//
// drop returns to disconnected from every other phase, including a rejected
// connect request.
func newMachine(onEnter func(from, to string)) *fsm.FSM {
	return fsm.NewFSM(
		string(Disconnected),
		fsm.Events{
			{Name: string(Dial), Src: []string{string(Disconnected)}, Dst: string(Connecting)},
			{Name: string(Open), Src: []string{string(Connecting)}, Dst: string(AwaitingChallenge)},
			{Name: string(Challenge), Src: []string{string(AwaitingChallenge)}, Dst: string(Authenticating)},
			{Name: string(Accept), Src: []string{string(Authenticating)}, Dst: string(Authenticated)},
			{Name: string(Drop), Src: []string{
				string(Connecting),
				string(AwaitingChallenge),
				string(Authenticating),
				string(Authenticated),
			}, Dst: string(Disconnected)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				if onEnter != nil {
					onEnter(e.Src, e.Dst)
				}
			},
		},
	)
}
