package secondary

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	ibcrypto "github.com/ironbridge-io/secondary-agent/internal/crypto"
	"github.com/ironbridge-io/secondary-agent/internal/store"
	"github.com/ironbridge-io/secondary-agent/internal/uptane"
)

type installedImageReport struct {
	Filepath string            `json:"filepath"`
	Length   int64             `json:"length"`
	Hashes   map[string]string `json:"hashes"`
}

type installationResultReport struct {
	Success     bool   `json:"success"`
	ResultCode  int    `json:"result_code"`
	Description string `json:"description"`
}

type manifestBody struct {
	Type               string                     `json:"_type"`
	ECUSerial          string                     `json:"ecu_serial"`
	HardwareID         string                     `json:"hardware_identifier"`
	Time               time.Time                  `json:"time"`
	InstalledImage     installedImageReport       `json:"installed_image"`
	InstallationResult *installationResultReport  `json:"installation_result,omitempty"`
	AttacksDetected    string                     `json:"attacks_detected"`
}

// buildManifest signs this ECU's current state for the Primary to fold
// into the vehicle manifest it uploads to the Director, mirroring the
// original implementation's generated ECU version report plus its
// installation_result field reporting the outcome of the most recent
// install attempt.
func (s *Secondary) buildManifest(ctx context.Context) ([]byte, error) {
	info, err := s.agent.GetInstalledImageInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("secondary: reading installed image info: %w", err)
	}

	body := manifestBody{
		Type:       "ecu_version_report",
		ECUSerial:  s.serial,
		HardwareID: s.hardwareID,
		Time:       time.Now().UTC(),
		InstalledImage: installedImageReport{
			Filepath: info.Filename,
			Length:   info.Length,
			Hashes:   info.Hashes,
		},
	}
	if s.lastResult != (store.InstallationResult{}) {
		body.InstallationResult = &installationResultReport{
			Success:     s.lastResult.Success,
			ResultCode:  s.lastResult.ResultCode,
			Description: s.lastResult.Description,
		}
	}

	canon, err := ibcrypto.CanonicalJSON(body)
	if err != nil {
		return nil, fmt.Errorf("secondary: canonicalizing manifest: %w", err)
	}

	sig, err := s.key.Sign(canon)
	if err != nil {
		return nil, fmt.Errorf("secondary: signing manifest: %w", err)
	}

	signed := uptane.Signed{
		Signed: uptane.RawMessage(canon),
		Signatures: []uptane.Signature{
			{KeyID: s.key.KeyID(), Sig: hex.EncodeToString(sig)},
		},
	}

	out, err := json.Marshal(signed)
	if err != nil {
		return nil, fmt.Errorf("secondary: marshalling signed manifest: %w", err)
	}
	return out, nil
}
