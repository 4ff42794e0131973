// Package wire implements the Message Dispatcher and wire codec (spec
// component C7): a BER-encoded, single CHOICE-typed protocol between
// Primary and Secondary, in both the legacy v1 shape (whole-JSON-blob
// metadata, single-shot firmware) and the v2 shape (role-tagged
// metadata collections, chunked uploadData).
//
// encoding/asn1 has no native CHOICE support, so the outer envelope is
// hand-rolled: each alternative is wrapped in an explicit,
// constructed, context-class tag (0-14) carrying a DER/BER SEQUENCE
// produced by encoding/asn1 for everything inside it. This mirrors how
// the message is framed on the wire without requiring a CHOICE-capable
// third-party ASN.1 library, none of which appeared anywhere in the
// example corpus.
package wire

import "time"

// Tag identifies which alternative of the AKIpUptaneMes-equivalent
// CHOICE a message is. Values are fixed at 0-14 and must never be
// renumbered once any Primary/Secondary pair depends on them. The CHOICE
// enumeration defines no dedicated putMetaResp2 alternative: a
// putMetaReq2 response is always tagged TagPutMetaResp and shaped
// PutMetaResp, identically to a v1 putMetaReq response.
type Tag int

const (
	TagGetInfoReq            Tag = 0
	TagGetInfoResp           Tag = 1
	TagManifestReq           Tag = 2
	TagManifestResp          Tag = 3
	TagPutMetaReq            Tag = 4 // v1: whole-JSON-blob metadata
	TagPutMetaResp           Tag = 5
	TagSendFirmwareReq       Tag = 6 // v1: single-shot firmware push
	TagSendFirmwareResp      Tag = 7
	TagInstallReq            Tag = 8
	TagInstallResp           Tag = 9
	TagUploadDataReq         Tag = 10 // v2: chunked firmware upload
	TagUploadDataResp        Tag = 11
	TagDownloadOstreeRevReq  Tag = 12 // v2: OSTree pull-mode revision fetch
	TagDownloadOstreeRevResp Tag = 13
	TagPutMetaReq2           Tag = 14 // v2: role-tagged metadata collection; response reuses TagPutMetaResp
)

func (t Tag) String() string {
	switch t {
	case TagGetInfoReq:
		return "getInfoReq"
	case TagGetInfoResp:
		return "getInfoResp"
	case TagManifestReq:
		return "manifestReq"
	case TagManifestResp:
		return "manifestResp"
	case TagPutMetaReq:
		return "putMetaReq"
	case TagPutMetaResp:
		return "putMetaResp"
	case TagSendFirmwareReq:
		return "sendFirmwareReq"
	case TagSendFirmwareResp:
		return "sendFirmwareResp"
	case TagInstallReq:
		return "installReq"
	case TagInstallResp:
		return "installResp"
	case TagPutMetaReq2:
		return "putMetaReq2"
	case TagUploadDataReq:
		return "uploadDataReq"
	case TagUploadDataResp:
		return "uploadDataResp"
	case TagDownloadOstreeRevReq:
		return "downloadOstreeRevReq"
	case TagDownloadOstreeRevResp:
		return "downloadOstreeRevResp"
	default:
		return "unknown"
	}
}

// GetInfoReq carries nothing; the Secondary identifies itself purely by
// the TCP connection it receives this on.
type GetInfoReq struct{}

// GetInfoResp answers with everything the Primary needs to register
// this ECU: its serial, hardware ID, and public key.
type GetInfoResp struct {
	ECUSerial     string `asn1:"utf8"`
	HardwareID    string `asn1:"utf8"`
	PublicKeyPEM  string `asn1:"utf8"`
	SignatureType string `asn1:"utf8"`
}

// ManifestReq requests the current signed ECU manifest.
type ManifestReq struct{}

// ManifestResp carries the signed manifest body as canonical JSON,
// ready for the Primary to fold into the vehicle manifest it sends the
// Director.
type ManifestResp struct {
	ManifestJSON []byte
}

// MetaFile is one named metadata document within a putMetaReq2 payload.
type MetaFile struct {
	Repository string `asn1:"utf8"` // "director" or "image"
	Role       string `asn1:"utf8"` // "root", "timestamp", "snapshot", "targets"
	JSON       []byte
}

// PutMetaReq is the v1 payload: one full JSON blob per repository,
// combining every role into a single document the way early aktualizr
// deployments did before the role-tagged v2 wire format.
type PutMetaReq struct {
	DirectorJSON []byte
	ImageJSON    []byte
}

// PutMetaResp reports whether the whole v1 metadata bundle verified.
type PutMetaResp struct {
	Result       int32  `asn1:"default:0"`
	Description  string `asn1:"utf8"`
}

// PutMetaReq2 is the v2 payload: an explicit collection of role-tagged
// metadata files, each verified independently against its chain.
type PutMetaReq2 struct {
	Files []MetaFile
}

// SendFirmwareReq is the v1 single-shot firmware push: the whole image
// in one message.
type SendFirmwareReq struct {
	TargetName string `asn1:"utf8"`
	Data       []byte
}

type SendFirmwareResp struct {
	Result      int32  `asn1:"default:0"`
	Description string `asn1:"utf8"`
}

// UploadDataReq is one chunk of a v2 chunked firmware upload. A
// zero-length Chunk with Final=true closes the stream.
type UploadDataReq struct {
	TargetName string `asn1:"utf8"`
	Offset      int64
	Chunk       []byte
	Final       bool
}

type UploadDataResp struct {
	Result      int32  `asn1:"default:0"`
	Description string `asn1:"utf8"`
}

// InstallReq asks the Secondary to install a previously-received,
// verified target.
type InstallReq struct {
	TargetName string `asn1:"utf8"`
}

// InstallResp reports the install outcome. A Result of
// kNeedCompletion's numeric value (see internal/updateagent.ResultCode)
// tells the Primary a reboot is required before the install is final.
type InstallResp struct {
	Result      int32  `asn1:"default:0"`
	Description string `asn1:"utf8"`
}

// DownloadOstreeRevReq asks the Secondary to fetch a revision itself
// from its own configured OSTree remote, rather than receiving bytes
// pushed by the Primary (the pull-mode counterpart to sendFirmware and
// uploadData).
type DownloadOstreeRevReq struct {
	TargetName string `asn1:"utf8"`
}

// DownloadOstreeRevResp reports whether the requested revision was
// fetched and staged.
type DownloadOstreeRevResp struct {
	Result      int32  `asn1:"default:0"`
	Description string `asn1:"utf8"`
}

// Message is the decoded CHOICE: exactly one field corresponding to Tag
// is meaningful.
type Message struct {
	Tag Tag

	GetInfoReq       *GetInfoReq
	GetInfoResp      *GetInfoResp
	ManifestReq      *ManifestReq
	ManifestResp     *ManifestResp
	PutMetaReq       *PutMetaReq
	PutMetaResp      *PutMetaResp
	SendFirmwareReq  *SendFirmwareReq
	SendFirmwareResp *SendFirmwareResp
	InstallReq       *InstallReq
	InstallResp      *InstallResp
	PutMetaReq2      *PutMetaReq2
	UploadDataReq    *UploadDataReq
	UploadDataResp   *UploadDataResp

	DownloadOstreeRevReq  *DownloadOstreeRevReq
	DownloadOstreeRevResp *DownloadOstreeRevResp

	receivedAt time.Time
}

// ReceivedAt is set by the codec to when a message finished decoding,
// used for connection-lifetime logging.
func (m *Message) ReceivedAt() time.Time { return m.receivedAt }
