// Package secondary implements the Secondary Core (spec component C6):
// the state machine and orchestration logic tying together the
// Repository Verifier (C3/C4), Persistent Store (C2), Crypto (C1), and
// Update Agent (C5) behind the wire protocol's operations.
package secondary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/looplab/fsm"

	ibcrypto "github.com/ironbridge-io/secondary-agent/internal/crypto"
	"github.com/ironbridge-io/secondary-agent/internal/pkg/metrics"
	"github.com/ironbridge-io/secondary-agent/internal/store"
	"github.com/ironbridge-io/secondary-agent/internal/updateagent"
	"github.com/ironbridge-io/secondary-agent/internal/uptane"
	"github.com/ironbridge-io/secondary-agent/pkg/log"
)

// knownStates lists every lifecycle state, used to zero out the
// lifecycle gauge for states the Secondary isn't currently in.
var knownStates = []string{StateIdle, StateReady, StateReceiving, StatePending, StateInstalled}

// Config collects the Secondary Core's collaborators. Every field except
// FirmwareDir is required; New returns an error if any of those is missing.
type Config struct {
	ECUSerial   string
	HardwareID  string
	KeyPair     *ibcrypto.KeyPair
	Store       store.Store
	Agent       updateagent.UpdateAgent
	FirmwareDir string
}

// Secondary is the Secondary Core. It owns the lifecycle state machine
// and is the sole writer of the Director/Image repository verifiers, the
// Persistent Store, and the Update Agent. Every wire.Handler registered
// in handlers.go closes over one Secondary and serializes through its
// mutex: a Secondary serves one Primary connection at a time by design.
type Secondary struct {
	mu sync.Mutex

	serial      string
	hardwareID  string
	key         *ibcrypto.KeyPair
	store       store.Store
	agent       updateagent.UpdateAgent
	firmwareDir string

	director *uptane.DirectorRepository
	image    *uptane.ImageRepository

	fsm *fsm.FSM

	receiving  *receiveState
	recvBuf    bytes.Buffer
	lastResult store.InstallationResult
}

// receiveState tracks an in-progress chunked uploadData transfer.
type receiveState struct {
	targetName string
}

func New(cfg Config) (*Secondary, error) {
	if cfg.ECUSerial == "" {
		return nil, fmt.Errorf("secondary: ECUSerial is required")
	}
	if cfg.HardwareID == "" {
		return nil, fmt.Errorf("secondary: HardwareID is required")
	}
	if cfg.KeyPair == nil {
		return nil, fmt.Errorf("secondary: KeyPair is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("secondary: Store is required")
	}
	if cfg.Agent == nil {
		return nil, fmt.Errorf("secondary: Agent is required")
	}

	s := &Secondary{
		serial:      cfg.ECUSerial,
		hardwareID:  cfg.HardwareID,
		key:         cfg.KeyPair,
		store:       cfg.Store,
		agent:       cfg.Agent,
		firmwareDir: cfg.FirmwareDir,
		director:    uptane.NewDirectorRepository(),
		image:       uptane.NewImageRepository(),
	}
	s.fsm = newLifecycleFSM(StateIdle, s.onLifecycleEnter)
	metrics.SetLifecycleState(StateIdle, knownStates)
	return s, nil
}

func (s *Secondary) onLifecycleEnter(ctx context.Context, e *fsm.Event) error {
	metrics.SetLifecycleState(e.Dst, knownStates)
	return nil
}

// State returns the current lifecycle state name.
func (s *Secondary) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fsm.Current()
}

// Bootstrap restores persisted trust state and finalizes any install left
// pending across a reboot. It must be called once before the TCP Server
// starts accepting connections.
func (s *Secondary) Bootstrap(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadPersistedChain(); err != nil {
		return fmt.Errorf("secondary: restoring persisted metadata: %w", err)
	}

	pending, ok, err := s.store.Pending()
	if err != nil {
		return fmt.Errorf("secondary: reading pending install: %w", err)
	}
	if !ok {
		return nil
	}

	log.Info("finalizing pending install after reboot", "target", pending.TargetName)
	// A fresh Secondary starts Idle; resume in Pending so the finalize
	// events below are valid transitions.
	s.fsm.SetState(StatePending)
	result, err := s.agent.ApplyPendingInstall(ctx)
	s.lastResult = store.InstallationResult{
		Success:     result.Code == updateagent.ResultOK,
		ResultCode:  int(result.Code),
		Description: result.Description,
	}
	if err != nil || result.Code != updateagent.ResultOK {
		if dropErr := s.store.DropPending(); dropErr != nil {
			log.Warn("dropping failed pending install", "error", dropErr)
		}
		// The director's cached Targets role described an update that
		// failed to apply; it must not be trusted to still reflect
		// vehicle intent (dropTargets in the original implementation).
		s.director.ResetTargets()
		return s.fsm.Event(ctx, EventInstallFailed)
	}

	if err := s.store.PromotePendingToCurrent(s.lastResult); err != nil {
		return fmt.Errorf("secondary: promoting pending install: %w", err)
	}
	return s.fsm.Event(ctx, EventRebootFinalized)
}

// loadPersistedChain reconstructs the Director and Image Repository
// Verifier state from whatever was last durably saved, so a restart
// doesn't force the Primary to resend metadata it already delivered.
func (s *Secondary) loadPersistedChain() error {
	if err := s.loadRoot(store.RepoDirector, s.director.Repository); err != nil {
		return err
	}
	if err := s.loadRoot(store.RepoImage, s.image.Repository); err != nil {
		return err
	}

	if raw, err := s.store.LoadLatestMeta(store.RepoDirector, store.RoleTargets); err == nil {
		var signed uptane.Signed
		if jerr := json.Unmarshal(raw, &signed); jerr == nil {
			_ = s.director.UpdateTargets(signed)
		}
	}

	if raw, err := s.store.LoadLatestMeta(store.RepoImage, store.RoleTimestamp); err == nil {
		var signed uptane.Signed
		if jerr := json.Unmarshal(raw, &signed); jerr == nil {
			_ = s.image.UpdateTimestamp(signed)
		}
	}
	if raw, err := s.store.LoadLatestMeta(store.RepoImage, store.RoleSnapshot); err == nil {
		var signed uptane.Signed
		if jerr := json.Unmarshal(raw, &signed); jerr == nil {
			_ = s.image.UpdateSnapshot(signed)
		}
	}
	if raw, err := s.store.LoadLatestMeta(store.RepoImage, store.RoleTargets); err == nil {
		var signed uptane.Signed
		if jerr := json.Unmarshal(raw, &signed); jerr == nil {
			_ = s.image.UpdateTargets(signed)
		}
	}
	return nil
}

func (s *Secondary) loadRoot(repo store.Repo, r *uptane.Repository) error {
	version, err := s.store.LatestRootVersion(repo)
	if err != nil || version == 0 {
		return nil
	}
	for v := 1; v <= version; v++ {
		raw, err := s.store.LoadRoot(repo, v)
		if err != nil {
			return fmt.Errorf("loading root v%d for %s: %w", v, repo, err)
		}
		var signed uptane.Signed
		if err := json.Unmarshal(raw, &signed); err != nil {
			return fmt.Errorf("parsing root v%d for %s: %w", v, repo, err)
		}
		if r.Root == nil {
			if err := r.LoadRoot(signed); err != nil {
				return fmt.Errorf("loading initial root for %s: %w", repo, err)
			}
			continue
		}
		if err := r.RotateRoot(signed); err != nil {
			return fmt.Errorf("rotating root to v%d for %s: %w", v, repo, err)
		}
	}
	return nil
}
