package secondary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	ibcrypto "github.com/ironbridge-io/secondary-agent/internal/crypto"
	"github.com/ironbridge-io/secondary-agent/internal/pkg/metrics"
	"github.com/ironbridge-io/secondary-agent/internal/store"
	"github.com/ironbridge-io/secondary-agent/internal/updateagent"
	"github.com/ironbridge-io/secondary-agent/internal/uptane"
	"github.com/ironbridge-io/secondary-agent/internal/wire"
)

// RegisterHandlers installs every wire operation this Secondary Core
// implements onto d. getRootVersion and putRoot have no dedicated
// handlers: role "root" arrives as just another MetaFile within
// putMetaReq2 and is handled by applyMetaFile below.
func (s *Secondary) RegisterHandlers(d *wire.Dispatcher) {
	d.RegisterHandler(wire.TagGetInfoReq, s.handleGetInfo)
	d.RegisterHandler(wire.TagManifestReq, s.handleManifest)
	d.RegisterHandler(wire.TagPutMetaReq, s.handlePutMetaV1)
	d.RegisterHandler(wire.TagPutMetaReq2, s.handlePutMetaV2)
	d.RegisterHandler(wire.TagSendFirmwareReq, s.handleSendFirmware)
	d.RegisterHandler(wire.TagUploadDataReq, s.handleUploadData)
	d.RegisterHandler(wire.TagInstallReq, s.handleInstall)
	d.RegisterHandler(wire.TagDownloadOstreeRevReq, s.handleDownloadOstreeRev)
}

func (s *Secondary) handleGetInfo(req *wire.Message) (*wire.Message, wire.HandleStatusCode, error) {
	pubPEM, err := s.key.PublicPEM()
	if err != nil {
		return nil, wire.StatusOK, fmt.Errorf("secondary: marshalling public key: %w", err)
	}
	return &wire.Message{
		Tag: wire.TagGetInfoResp,
		GetInfoResp: &wire.GetInfoResp{
			ECUSerial:     s.serial,
			HardwareID:    s.hardwareID,
			PublicKeyPEM:  pubPEM,
			SignatureType: string(s.key.Type),
		},
	}, wire.StatusOK, nil
}

func (s *Secondary) handleManifest(req *wire.Message) (*wire.Message, wire.HandleStatusCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	manifestJSON, err := s.buildManifest(context.Background())
	if err != nil {
		return nil, wire.StatusOK, err
	}
	return &wire.Message{
		Tag:          wire.TagManifestResp,
		ManifestResp: &wire.ManifestResp{ManifestJSON: manifestJSON},
	}, wire.StatusOK, nil
}

// handlePutMetaV1 handles the legacy whole-JSON-blob shape: each of
// DirectorJSON/ImageJSON is a JSON object mapping role name to its
// signed envelope.
func (s *Secondary) handlePutMetaV1(req *wire.Message) (*wire.Message, wire.HandleStatusCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var directorBundle, imageBundle map[string]uptane.Signed
	if err := json.Unmarshal(req.PutMetaReq.DirectorJSON, &directorBundle); err != nil {
		return metaResult(err)
	}
	if err := json.Unmarshal(req.PutMetaReq.ImageJSON, &imageBundle); err != nil {
		return metaResult(err)
	}

	if err := s.applyBundle(store.RepoDirector, directorBundle); err != nil {
		return metaResult(err)
	}
	if err := s.applyBundle(store.RepoImage, imageBundle); err != nil {
		return metaResult(err)
	}
	return metaResult(nil)
}

// handlePutMetaV2 handles the role-tagged collection shape, including
// role "root" for both repositories (the getRootVersion/putRoot
// operations the legacy wire protocol gave dedicated messages). The
// CHOICE enumeration defines no dedicated putMetaResp2 alternative, so
// its response reuses putMetaResp's tag and shape, same as v1.
func (s *Secondary) handlePutMetaV2(req *wire.Message) (*wire.Message, wire.HandleStatusCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byRepo := map[store.Repo]map[string]uptane.Signed{
		store.RepoDirector: {},
		store.RepoImage:    {},
	}
	for _, f := range req.PutMetaReq2.Files {
		var signed uptane.Signed
		if err := json.Unmarshal(f.JSON, &signed); err != nil {
			return metaResult(err)
		}
		repo := store.Repo(f.Repository)
		bundle, ok := byRepo[repo]
		if !ok {
			return metaResult(fmt.Errorf("secondary: unknown repository %q", f.Repository))
		}
		bundle[f.Role] = signed
	}

	if err := s.applyBundle(store.RepoDirector, byRepo[store.RepoDirector]); err != nil {
		return metaResult(err)
	}
	if err := s.applyBundle(store.RepoImage, byRepo[store.RepoImage]); err != nil {
		return metaResult(err)
	}
	return metaResult(nil)
}

// applyBundle verifies and persists every role present in bundle, in
// the fixed order root -> timestamp -> snapshot -> targets (roles
// absent from bundle are skipped, which is how a putMetadata call that
// only refreshes Targets is expressed).
func (s *Secondary) applyBundle(repo store.Repo, bundle map[string]uptane.Signed) error {
	order := []string{"root", "timestamp", "snapshot", "targets"}
	touched := false
	for _, role := range order {
		signed, ok := bundle[role]
		if !ok {
			continue
		}
		touched = true
		if err := s.applyMetaFile(repo, store.Role(role), signed); err != nil {
			metrics.VerificationTotal.WithLabelValues(string(repo), "rejected").Inc()
			_ = s.fsm.Event(context.Background(), EventMetadataRejected)
			return fmt.Errorf("secondary: %s/%s: %w", repo, role, err)
		}
	}
	if touched {
		metrics.VerificationTotal.WithLabelValues(string(repo), "accepted").Inc()
	}
	return nil
}

func (s *Secondary) applyMetaFile(repo store.Repo, role store.Role, signed uptane.Signed) error {
	raw, err := json.Marshal(signed)
	if err != nil {
		return err
	}

	switch repo {
	case store.RepoDirector:
		switch role {
		case store.RoleRoot:
			if err := s.applyRoot(s.director.Repository, repo, signed, raw); err != nil {
				return err
			}
		case store.RoleTargets:
			if err := s.director.UpdateTargets(signed); err != nil {
				return err
			}
			if err := s.store.SaveLatestMeta(repo, role, raw); err != nil {
				return err
			}
			return s.tryTransitionReady()
		default:
			return fmt.Errorf("director repository does not publish role %q", role)
		}
	case store.RepoImage:
		switch role {
		case store.RoleRoot:
			if err := s.applyRoot(s.image.Repository, repo, signed, raw); err != nil {
				return err
			}
		case store.RoleTimestamp:
			if err := s.image.UpdateTimestamp(signed); err != nil {
				return err
			}
			return s.store.SaveLatestMeta(repo, role, raw)
		case store.RoleSnapshot:
			if err := s.image.UpdateSnapshot(signed); err != nil {
				return err
			}
			return s.store.SaveLatestMeta(repo, role, raw)
		case store.RoleTargets:
			if err := s.image.UpdateTargets(signed); err != nil {
				return err
			}
			if err := s.store.SaveLatestMeta(repo, role, raw); err != nil {
				return err
			}
			return s.tryTransitionReady()
		default:
			return fmt.Errorf("unknown role %q", role)
		}
	default:
		return fmt.Errorf("unknown repository %q", repo)
	}
	return nil
}

func (s *Secondary) applyRoot(r *uptane.Repository, repo store.Repo, signed uptane.Signed, raw []byte) error {
	if r.Root == nil {
		if err := r.LoadRoot(signed); err != nil {
			return err
		}
		return s.store.SaveRoot(repo, r.Root.Version, raw)
	}

	var candidate uptane.RootRole
	if err := json.Unmarshal(signed.Signed, &candidate); err != nil {
		return err
	}
	if candidate.Version == r.Root.Version {
		return nil
	}
	if err := r.RotateRoot(signed); err != nil {
		return err
	}
	return s.store.SaveRoot(repo, r.Root.Version, raw)
}

// tryTransitionReady selects, from however many ECUs the Director's
// latest Targets role names, the single entry naming this ECU's
// (serial, hardware ID) pair, and checks whether it now has a matching,
// hash-verified counterpart in the Image repository. If so it advances
// the lifecycle to Ready. A Director Targets role naming zero or more
// than one target for this ECU, or the right serial with the wrong
// hardware ID, is a hard failure (BadTargetCount/BadHardwareId), not a
// wait state — both are detected as soon as Director Targets is loaded,
// independent of whether Image Targets has arrived yet.
func (s *Secondary) tryTransitionReady() error {
	name, directorTarget, err := s.director.CurrentTarget(s.serial, s.hardwareID)
	if err != nil {
		return err
	}
	if s.image.Targets == nil {
		return nil
	}
	if !s.agent.IsTargetSupported(directorTarget.Custom) {
		return fmt.Errorf("%w: %q", ErrUnsupportedTarget, name)
	}
	if _, err := uptane.MatchTarget(directorTarget, s.image.Targets.Targets, name); err != nil {
		return err
	}
	if s.fsm.Current() == StateReady {
		return nil
	}
	return s.fsm.Event(context.Background(), EventMetadataVerified)
}

func metaResult(err error) (*wire.Message, wire.HandleStatusCode, error) {
	code := updateagent.ResultOK
	desc := "metadata verified"
	if err != nil {
		code = updateagent.ResultVerificationFailed
		desc = err.Error()
	}
	return &wire.Message{
		Tag:         wire.TagPutMetaResp,
		PutMetaResp: &wire.PutMetaResp{Result: int32(code), Description: desc},
	}, wire.StatusOK, nil
}

// checkReadyForTarget verifies the lifecycle is Ready and name is this
// ECU's verified target before accepting image bytes for it. A Director
// Targets role naming zero or more than one target for this ECU, or the
// wrong hardware ID, is treated the same as "not ready".
func (s *Secondary) checkReadyForTarget(name string) error {
	if s.fsm.Current() != StateReady {
		return fmt.Errorf("%w: in state %s", ErrWrongProtocolStep, s.fsm.Current())
	}
	current, _, err := s.director.CurrentTarget(s.serial, s.hardwareID)
	if err != nil || current != name {
		return fmt.Errorf("%w: %q is not the verified target", ErrNotReady, name)
	}
	return nil
}

func (s *Secondary) verifyReceivedDigest(name string, data []byte) error {
	tf, ok := s.image.Targets.Targets[name]
	if !ok {
		return fmt.Errorf("%w: %q", uptane.ErrTargetNotFound, name)
	}
	for algo, want := range tf.Hashes {
		match, err := ibcrypto.VerifyDigest(ibcrypto.HashAlgorithm(algo), data, want)
		if err != nil {
			return err
		}
		if !match {
			return fmt.Errorf("%w: %s digest mismatch for %q", uptane.ErrHashMismatch, algo, name)
		}
	}
	return nil
}

func resultFromErr(err error) (updateagent.ResultCode, string) {
	if err == nil {
		return updateagent.ResultOK, "ok"
	}
	return updateagent.ResultDownloadFailed, err.Error()
}

// handleSendFirmware is the v1 single-shot firmware push: the whole
// image arrives in one message.
func (s *Secondary) handleSendFirmware(req *wire.Message) (*wire.Message, wire.HandleStatusCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := req.SendFirmwareReq.TargetName
	if err := s.checkReadyForTarget(name); err != nil {
		return sendFirmwareResult(err)
	}
	if err := s.fsm.Event(context.Background(), EventReceiveStarted); err != nil {
		return sendFirmwareResult(err)
	}

	data := req.SendFirmwareReq.Data
	if err := s.agent.ReceiveData(context.Background(), name, bytes.NewReader(data), int64(len(data))); err != nil {
		_ = s.fsm.Event(context.Background(), EventReceiveFailed)
		return sendFirmwareResult(err)
	}
	if err := s.verifyReceivedDigest(name, data); err != nil {
		_ = s.fsm.Event(context.Background(), EventReceiveFailed)
		return sendFirmwareResult(err)
	}
	if err := s.fsm.Event(context.Background(), EventReceiveCompleted); err != nil {
		return sendFirmwareResult(err)
	}

	return &wire.Message{
		Tag:              wire.TagSendFirmwareResp,
		SendFirmwareResp: &wire.SendFirmwareResp{Result: int32(updateagent.ResultOK), Description: "received"},
	}, wire.StatusOK, nil
}

func sendFirmwareResult(err error) (*wire.Message, wire.HandleStatusCode, error) {
	code, desc := resultFromErr(err)
	return &wire.Message{
		Tag:              wire.TagSendFirmwareResp,
		SendFirmwareResp: &wire.SendFirmwareResp{Result: int32(code), Description: desc},
	}, wire.StatusOK, nil
}

// handleUploadData is the v2 chunked firmware upload: the image arrives
// across multiple messages sharing a target name and increasing offset,
// terminated by a chunk with Final set. A zero-length final chunk closes
// a stream whose bytes were all sent in prior chunks.
func (s *Secondary) handleUploadData(req *wire.Message) (*wire.Message, wire.HandleStatusCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := req.UploadDataReq
	if s.receiving == nil {
		if err := s.checkReadyForTarget(r.TargetName); err != nil {
			return uploadDataResult(err)
		}
		if err := s.fsm.Event(context.Background(), EventReceiveStarted); err != nil {
			return uploadDataResult(err)
		}
		s.receiving = &receiveState{targetName: r.TargetName}
		s.recvBuf.Reset()
	}

	if r.TargetName != s.receiving.targetName {
		s.abortReceive()
		return uploadDataResult(fmt.Errorf("%w: upload target changed mid-stream", ErrWrongProtocolStep))
	}
	if r.Offset != int64(s.recvBuf.Len()) {
		s.abortReceive()
		return uploadDataResult(fmt.Errorf("secondary: out-of-order chunk at offset %d, expected %d", r.Offset, s.recvBuf.Len()))
	}
	s.recvBuf.Write(r.Chunk)

	if !r.Final {
		return &wire.Message{
			Tag:            wire.TagUploadDataResp,
			UploadDataResp: &wire.UploadDataResp{Result: int32(updateagent.ResultOK), Description: "chunk received"},
		}, wire.StatusOK, nil
	}

	data := append([]byte(nil), s.recvBuf.Bytes()...)
	name := s.receiving.targetName
	s.receiving = nil
	s.recvBuf.Reset()

	if err := s.agent.ReceiveData(context.Background(), name, bytes.NewReader(data), int64(len(data))); err != nil {
		_ = s.fsm.Event(context.Background(), EventReceiveFailed)
		return uploadDataResult(err)
	}
	if err := s.verifyReceivedDigest(name, data); err != nil {
		_ = s.fsm.Event(context.Background(), EventReceiveFailed)
		return uploadDataResult(err)
	}
	if err := s.fsm.Event(context.Background(), EventReceiveCompleted); err != nil {
		return uploadDataResult(err)
	}

	return &wire.Message{
		Tag:            wire.TagUploadDataResp,
		UploadDataResp: &wire.UploadDataResp{Result: int32(updateagent.ResultOK), Description: "received"},
	}, wire.StatusOK, nil
}

func (s *Secondary) abortReceive() {
	_ = s.fsm.Event(context.Background(), EventReceiveFailed)
	s.receiving = nil
	s.recvBuf.Reset()
}

func uploadDataResult(err error) (*wire.Message, wire.HandleStatusCode, error) {
	code, desc := resultFromErr(err)
	return &wire.Message{
		Tag:            wire.TagUploadDataResp,
		UploadDataResp: &wire.UploadDataResp{Result: int32(code), Description: desc},
	}, wire.StatusOK, nil
}

// handleInstall applies a fully-received, verified target. A result of
// ResultNeedCompletion tells the caller to close the connection and
// reboot; StatusRebootRequired propagates that up to the TCP Server.
func (s *Secondary) handleInstall(req *wire.Message) (*wire.Message, wire.HandleStatusCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := req.InstallReq.TargetName
	if s.fsm.Current() != StateReady {
		return installResult(updateagent.ResultVerificationFailed,
			fmt.Sprintf("not ready to install %q in state %s", name, s.fsm.Current())), wire.StatusOK, nil
	}
	current, tf, err := s.director.CurrentTarget(s.serial, s.hardwareID)
	if err != nil || current != name {
		return installResult(updateagent.ResultVerificationFailed,
			fmt.Sprintf("%q is not the verified target", name)), wire.StatusOK, nil
	}

	start := time.Now()
	result, err := s.agent.Install(context.Background(), name)
	metrics.InstallLatency.Observe(time.Since(start).Seconds())
	metrics.InstallTotal.WithLabelValues(result.Code.String()).Inc()

	s.lastResult = store.InstallationResult{
		Success:     result.Code == updateagent.ResultOK,
		ResultCode:  int(result.Code),
		Description: result.Description,
	}

	if err != nil || (result.Code != updateagent.ResultOK && result.Code != updateagent.ResultNeedCompletion) {
		_ = s.fsm.Event(context.Background(), EventInstallFailed)
		_ = s.store.DropPending()
		return installResult(result.Code, result.Description), wire.StatusOK, nil
	}

	if err := s.store.RecordPending(store.InstalledVersion{
		TargetName:  name,
		Length:      tf.Length,
		Hashes:      tf.Hashes,
		Pending:     true,
		InstalledAt: time.Now(),
		Result:      s.lastResult,
	}); err != nil {
		return installResult(updateagent.ResultInternalError, err.Error()), wire.StatusOK, nil
	}

	if result.Code == updateagent.ResultNeedCompletion {
		_ = s.fsm.Event(context.Background(), EventInstallNeedsReboot)
		return installResult(result.Code, result.Description), wire.StatusRebootRequired, nil
	}

	if err := s.store.PromotePendingToCurrent(s.lastResult); err != nil {
		return installResult(updateagent.ResultInternalError, err.Error()), wire.StatusOK, nil
	}
	_ = s.fsm.Event(context.Background(), EventInstallSucceeded)
	return installResult(result.Code, result.Description), wire.StatusOK, nil
}

func installResult(code updateagent.ResultCode, desc string) *wire.Message {
	return &wire.Message{
		Tag:         wire.TagInstallResp,
		InstallResp: &wire.InstallResp{Result: int32(code), Description: desc},
	}
}

// handleDownloadOstreeRev is the OSTree pull-mode counterpart to
// sendFirmware/uploadData: instead of the Primary pushing bytes, the
// Secondary is told a revision to fetch from its own configured remote.
// This Secondary ships no OstreePuller (DESIGN.md records why
// pacman.type=ostree targets are rejected at the agent layer), so every
// request fails with InstallFailed; the wire shape still exists so a
// Primary speaking the full protocol gets a well-formed rejection
// instead of an unknown-tag connection close.
func (s *Secondary) handleDownloadOstreeRev(req *wire.Message) (*wire.Message, wire.HandleStatusCode, error) {
	return &wire.Message{
		Tag: wire.TagDownloadOstreeRevResp,
		DownloadOstreeRevResp: &wire.DownloadOstreeRevResp{
			Result:      int32(updateagent.ResultInstallFailed),
			Description: "ostree revision pull is not supported by this agent",
		},
	}, wire.StatusOK, nil
}
