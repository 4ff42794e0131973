package secondary

import (
	"context"

	"github.com/looplab/fsm"

	fsmutil "github.com/ironbridge-io/secondary-agent/internal/pkg/util/fsm"
	"github.com/ironbridge-io/secondary-agent/pkg/log"
)

// Lifecycle states, per the install lifecycle diagram: Idle -> Ready
// (putMetadata verified a target for this ECU) -> Receiving
// (sendFirmware/uploadData in progress) -> back to Ready (fully
// received, awaiting install) -> Installed or Pending (install()
// result) -> Installed (after reboot finalize); Installed -> Ready again
// when a later putMetadata verifies a target. Any verification or
// install failure rolls back to Idle.
const (
	StateIdle      = "idle"
	StateReady     = "ready"
	StateReceiving = "receiving"
	StatePending   = "pending"
	StateInstalled = "installed"
)

const (
	EventMetadataVerified   = "metadata_verified"
	EventMetadataRejected   = "metadata_rejected"
	EventReceiveStarted     = "receive_started"
	EventReceiveCompleted   = "receive_completed"
	EventReceiveFailed      = "receive_failed"
	EventInstallSucceeded   = "install_succeeded"
	EventInstallNeedsReboot = "install_needs_reboot"
	EventInstallFailed      = "install_failed"
	EventRebootFinalized    = "reboot_finalized"
)

// newLifecycleFSM builds the looplab/fsm state machine backing the
// Secondary Core's install lifecycle. onEnter lets tests and the
// Secondary wire observable side effects (metrics, logging) without
// this function knowing about them.
func newLifecycleFSM(initial string, onEnter func(ctx context.Context, event *fsm.Event) error) *fsm.FSM {
	return fsm.NewFSM(
		initial,
		fsm.Events{
			{Name: EventMetadataVerified, Src: []string{StateIdle, StateReady, StateInstalled}, Dst: StateReady},
			{Name: EventMetadataRejected, Src: []string{StateIdle, StateReady, StateInstalled}, Dst: StateIdle},
			{Name: EventReceiveStarted, Src: []string{StateReady}, Dst: StateReceiving},
			{Name: EventReceiveCompleted, Src: []string{StateReceiving}, Dst: StateReady},
			{Name: EventReceiveFailed, Src: []string{StateReceiving}, Dst: StateIdle},
			{Name: EventInstallSucceeded, Src: []string{StateReady}, Dst: StateInstalled},
			{Name: EventInstallNeedsReboot, Src: []string{StateReady}, Dst: StatePending},
			{Name: EventInstallFailed, Src: []string{StateReady, StatePending}, Dst: StateIdle},
			{Name: EventRebootFinalized, Src: []string{StatePending}, Dst: StateInstalled},
		},
		fsm.Callbacks{
			"enter_state": fsmutil.WrapEvent(func(ctx context.Context, e *fsm.Event) error {
				log.Debug("lifecycle transition", "event", e.Event, "src", e.Src, "dst", e.Dst)
				if onEnter != nil {
					return onEnter(ctx, e)
				}
				return nil
			}),
		},
	)
}
