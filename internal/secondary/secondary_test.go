package secondary

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	ibcrypto "github.com/ironbridge-io/secondary-agent/internal/crypto"
	"github.com/ironbridge-io/secondary-agent/internal/store"
	"github.com/ironbridge-io/secondary-agent/internal/updateagent"
	"github.com/ironbridge-io/secondary-agent/internal/uptane"
	"github.com/ironbridge-io/secondary-agent/internal/wire"
)

const testSerial = "ecu-1"
const testHardwareID = "hw-1"
const testTarget = "firmware-1.0.bin"

func sign(t *testing.T, kp *ibcrypto.KeyPair, body any) uptane.Signed {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		t.Fatalf("unmarshal generic: %v", err)
	}
	canon, err := ibcrypto.CanonicalJSON(generic)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	sig, err := kp.Sign(canon)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return uptane.Signed{
		Signed:     raw,
		Signatures: []uptane.Signature{{KeyID: kp.KeyID(), Sig: hex.EncodeToString(sig)}},
	}
}

func metaFile(t *testing.T, repo, role string, signed uptane.Signed) wire.MetaFile {
	t.Helper()
	raw, err := json.Marshal(signed)
	if err != nil {
		t.Fatalf("marshal signed: %v", err)
	}
	return wire.MetaFile{Repository: repo, Role: role, JSON: raw}
}

type testFixture struct {
	s   *Secondary
	kp  *ibcrypto.KeyPair
	d   *wire.Dispatcher
	st  store.Store
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()

	kp, err := ibcrypto.GenerateKeyPair(ibcrypto.KeyTypeEd25519)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	st, err := store.Open(filepath.Join(t.TempDir(), "secondary.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	agent, err := updateagent.NewFileAgent(t.TempDir(), filepath.Join(t.TempDir(), "installed.img"))
	if err != nil {
		t.Fatalf("NewFileAgent: %v", err)
	}

	s, err := New(Config{
		ECUSerial:  testSerial,
		HardwareID: testHardwareID,
		KeyPair:    kp,
		Store:      st,
		Agent:      agent,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	d := wire.NewDispatcher()
	s.RegisterHandlers(d)

	return &testFixture{s: s, kp: kp, d: d, st: st}
}

// deliverFullMetadata builds and applies a minimal, self-consistent
// metadata set: a Director Root+Targets naming testTarget for testSerial,
// and an Image Root+Timestamp+Snapshot+Targets chain hashing the same
// target, all signed by the same key for simplicity.
func (f *testFixture) deliverFullMetadata(t *testing.T, content []byte) {
	t.Helper()
	future := time.Now().Add(24 * time.Hour)
	pub, err := f.kp.PublicPEM()
	if err != nil {
		t.Fatalf("PublicPEM: %v", err)
	}

	root := uptane.RootRole{
		RoleBase: uptane.RoleBase{Type: "root", SpecVersion: "1.0", Version: 1, Expires: future},
		Keys: map[string]uptane.Key{
			f.kp.KeyID(): {KeyID: f.kp.KeyID(), Type: "ed25519", Scheme: "ed25519", Public: pub},
		},
		Roles: map[uptane.RoleName]uptane.RoleSpec{
			uptane.RoleRoot:      {KeyIDs: []string{f.kp.KeyID()}, Threshold: 1},
			uptane.RoleTargets:   {KeyIDs: []string{f.kp.KeyID()}, Threshold: 1},
			uptane.RoleTimestamp: {KeyIDs: []string{f.kp.KeyID()}, Threshold: 1},
			uptane.RoleSnapshot:  {KeyIDs: []string{f.kp.KeyID()}, Threshold: 1},
		},
	}
	rootSigned := sign(t, f.kp, root)

	digest, err := ibcrypto.Digest(ibcrypto.SHA256, content)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}

	directorTargets := uptane.TargetsRole{
		RoleBase: uptane.RoleBase{Type: "targets", SpecVersion: "1.0", Version: 1, Expires: future},
		Targets: map[string]uptane.TargetFile{
			testTarget: {
				Length: int64(len(content)),
				Hashes: map[string]string{"sha256": digest},
				Custom: uptane.TargetCustom{EcuIdentifiers: map[string]string{testSerial: testHardwareID}},
			},
		},
	}

	imageTargets := directorTargets
	imageTargetsSigned := sign(t, f.kp, imageTargets)

	snapDigest, err := ibcrypto.Digest(ibcrypto.SHA256, imageTargetsSigned.Signed)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	snapshot := uptane.SnapshotRole{
		RoleBase: uptane.RoleBase{Type: "snapshot", SpecVersion: "1.0", Version: 1, Expires: future},
		Meta: map[string]uptane.FileMeta{
			"targets.json": {Version: 1, Length: int64(len(imageTargetsSigned.Signed)), Hashes: map[string]string{"sha256": snapDigest}},
		},
	}
	snapshotSigned := sign(t, f.kp, snapshot)

	tsDigest, err := ibcrypto.Digest(ibcrypto.SHA256, snapshotSigned.Signed)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	timestamp := uptane.TimestampRole{
		RoleBase: uptane.RoleBase{Type: "timestamp", SpecVersion: "1.0", Version: 1, Expires: future},
		Meta: map[string]uptane.FileMeta{
			"snapshot.json": {Version: 1, Length: int64(len(snapshotSigned.Signed)), Hashes: map[string]string{"sha256": tsDigest}},
		},
	}

	req := &wire.Message{
		Tag: wire.TagPutMetaReq2,
		PutMetaReq2: &wire.PutMetaReq2{Files: []wire.MetaFile{
			metaFile(t, "director", "root", rootSigned),
			metaFile(t, "director", "targets", sign(t, f.kp, directorTargets)),
			metaFile(t, "image", "root", rootSigned),
			metaFile(t, "image", "timestamp", sign(t, f.kp, timestamp)),
			metaFile(t, "image", "snapshot", snapshotSigned),
			metaFile(t, "image", "targets", imageTargetsSigned),
		}},
	}

	resp, status, err := f.d.HandleMessage(req)
	if err != nil {
		t.Fatalf("putMetaReq2: %v", err)
	}
	if status != wire.StatusOK {
		t.Fatalf("unexpected status %v", status)
	}
	if resp.PutMetaResp.Result != int32(updateagent.ResultOK) {
		t.Fatalf("putMetaReq2 rejected: %s", resp.PutMetaResp.Description)
	}
}

func TestFullUpdateLifecycleViaSendFirmware(t *testing.T) {
	f := newFixture(t)
	content := []byte("firmware bytes for v1.0")
	f.deliverFullMetadata(t, content)

	if got := f.s.State(); got != StateReady {
		t.Fatalf("expected state %s after matching metadata, got %s", StateReady, got)
	}

	resp, _, err := f.d.HandleMessage(&wire.Message{
		Tag:             wire.TagSendFirmwareReq,
		SendFirmwareReq: &wire.SendFirmwareReq{TargetName: testTarget, Data: content},
	})
	if err != nil {
		t.Fatalf("sendFirmware: %v", err)
	}
	if resp.SendFirmwareResp.Result != int32(updateagent.ResultOK) {
		t.Fatalf("sendFirmware rejected: %s", resp.SendFirmwareResp.Description)
	}
	if got := f.s.State(); got != StateReady {
		t.Fatalf("expected state back to %s after receive, got %s", StateReady, got)
	}

	resp, status, err := f.d.HandleMessage(&wire.Message{
		Tag:        wire.TagInstallReq,
		InstallReq: &wire.InstallReq{TargetName: testTarget},
	})
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if status != wire.StatusOK {
		t.Fatalf("expected StatusOK for file-backend install, got %v", status)
	}
	if resp.InstallResp.Result != int32(updateagent.ResultOK) {
		t.Fatalf("install rejected: %s", resp.InstallResp.Description)
	}
	if got := f.s.State(); got != StateInstalled {
		t.Fatalf("expected state %s after install, got %s", StateInstalled, got)
	}

	current, err := f.st.Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if current.TargetName != testTarget || !current.Result.Success {
		t.Fatalf("unexpected current installed version: %+v", current)
	}
}

func TestChunkedUploadData(t *testing.T) {
	f := newFixture(t)
	content := []byte("firmware-bytes-split-into-chunks")
	f.deliverFullMetadata(t, content)

	chunks := [][]byte{content[:10], content[10:20], content[20:]}
	for i, chunk := range chunks {
		resp, _, err := f.d.HandleMessage(&wire.Message{
			Tag: wire.TagUploadDataReq,
			UploadDataReq: &wire.UploadDataReq{
				TargetName: testTarget,
				Offset:     int64(i * 10),
				Chunk:      chunk,
				Final:      i == len(chunks)-1,
			},
		})
		if err != nil {
			t.Fatalf("uploadData chunk %d: %v", i, err)
		}
		if resp.UploadDataResp.Result != int32(updateagent.ResultOK) {
			t.Fatalf("uploadData chunk %d rejected: %s", i, resp.UploadDataResp.Description)
		}
	}

	if got := f.s.State(); got != StateReady {
		t.Fatalf("expected state %s after full chunked receive, got %s", StateReady, got)
	}
}

func TestInstallRejectedWithoutReceivedData(t *testing.T) {
	f := newFixture(t)
	f.deliverFullMetadata(t, []byte("firmware bytes"))

	resp, _, err := f.d.HandleMessage(&wire.Message{
		Tag:        wire.TagInstallReq,
		InstallReq: &wire.InstallReq{TargetName: testTarget},
	})
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if resp.InstallResp.Result == int32(updateagent.ResultOK) {
		t.Fatal("expected install to fail without previously received data")
	}
	if got := f.s.State(); got != StateIdle {
		t.Fatalf("expected rollback to %s after failed install, got %s", StateIdle, got)
	}
}

// TestDirectorTargetWrongHardwareIdRejected covers scenario S4: a
// Director Targets entry naming this ECU's serial but a different
// hardware ID must be rejected, not silently accepted as a match.
func TestDirectorTargetWrongHardwareIdRejected(t *testing.T) {
	f := newFixture(t)
	future := time.Now().Add(24 * time.Hour)
	pub, err := f.kp.PublicPEM()
	if err != nil {
		t.Fatalf("PublicPEM: %v", err)
	}

	root := uptane.RootRole{
		RoleBase: uptane.RoleBase{Type: "root", SpecVersion: "1.0", Version: 1, Expires: future},
		Keys: map[string]uptane.Key{
			f.kp.KeyID(): {KeyID: f.kp.KeyID(), Type: "ed25519", Scheme: "ed25519", Public: pub},
		},
		Roles: map[uptane.RoleName]uptane.RoleSpec{
			uptane.RoleRoot:      {KeyIDs: []string{f.kp.KeyID()}, Threshold: 1},
			uptane.RoleTargets:   {KeyIDs: []string{f.kp.KeyID()}, Threshold: 1},
			uptane.RoleTimestamp: {KeyIDs: []string{f.kp.KeyID()}, Threshold: 1},
			uptane.RoleSnapshot:  {KeyIDs: []string{f.kp.KeyID()}, Threshold: 1},
		},
	}
	rootSigned := sign(t, f.kp, root)

	directorTargets := uptane.TargetsRole{
		RoleBase: uptane.RoleBase{Type: "targets", SpecVersion: "1.0", Version: 1, Expires: future},
		Targets: map[string]uptane.TargetFile{
			testTarget: {
				Length: 4,
				Hashes: map[string]string{"sha256": "aa"},
				Custom: uptane.TargetCustom{EcuIdentifiers: map[string]string{testSerial: "not-this-ecu-hw"}},
			},
		},
	}

	req := &wire.Message{
		Tag: wire.TagPutMetaReq2,
		PutMetaReq2: &wire.PutMetaReq2{Files: []wire.MetaFile{
			metaFile(t, "director", "root", rootSigned),
			metaFile(t, "director", "targets", sign(t, f.kp, directorTargets)),
		}},
	}

	resp, status, err := f.d.HandleMessage(req)
	if err != nil {
		t.Fatalf("putMetaReq2: %v", err)
	}
	if status != wire.StatusOK {
		t.Fatalf("unexpected status %v", status)
	}
	if resp.PutMetaResp.Result == int32(updateagent.ResultOK) {
		t.Fatal("expected a hardware-id mismatch to be rejected")
	}
	if got := f.s.State(); got != StateIdle {
		t.Fatalf("expected state to remain %s after rejected metadata, got %s", StateIdle, got)
	}
}

func TestGetInfoReportsIdentity(t *testing.T) {
	f := newFixture(t)
	resp, _, err := f.d.HandleMessage(&wire.Message{Tag: wire.TagGetInfoReq, GetInfoReq: &wire.GetInfoReq{}})
	if err != nil {
		t.Fatalf("getInfo: %v", err)
	}
	if resp.GetInfoResp.ECUSerial != testSerial || resp.GetInfoResp.HardwareID != testHardwareID {
		t.Fatalf("unexpected identity in getInfoResp: %+v", resp.GetInfoResp)
	}
}

func TestManifestReflectsLastInstall(t *testing.T) {
	f := newFixture(t)
	content := []byte("firmware bytes")
	f.deliverFullMetadata(t, content)

	if _, _, err := f.d.HandleMessage(&wire.Message{
		Tag:             wire.TagSendFirmwareReq,
		SendFirmwareReq: &wire.SendFirmwareReq{TargetName: testTarget, Data: content},
	}); err != nil {
		t.Fatalf("sendFirmware: %v", err)
	}
	if _, _, err := f.d.HandleMessage(&wire.Message{
		Tag:        wire.TagInstallReq,
		InstallReq: &wire.InstallReq{TargetName: testTarget},
	}); err != nil {
		t.Fatalf("install: %v", err)
	}

	resp, _, err := f.d.HandleMessage(&wire.Message{Tag: wire.TagManifestReq, ManifestReq: &wire.ManifestReq{}})
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}

	var signed uptane.Signed
	if err := json.Unmarshal(resp.ManifestResp.ManifestJSON, &signed); err != nil {
		t.Fatalf("unmarshal manifest envelope: %v", err)
	}
	var body manifestBody
	if err := json.Unmarshal(signed.Signed, &body); err != nil {
		t.Fatalf("unmarshal manifest body: %v", err)
	}
	if body.ECUSerial != testSerial {
		t.Fatalf("got ecu_serial %q, want %q", body.ECUSerial, testSerial)
	}
	if body.InstallationResult == nil || !body.InstallationResult.Success {
		t.Fatalf("expected a successful installation_result, got %+v", body.InstallationResult)
	}
}
