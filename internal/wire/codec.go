package wire

import (
	"encoding/asn1"
	"errors"
	"fmt"
	"time"
)

// ErrIncomplete is returned by Decode when data does not yet contain a
// full message; the caller should read more bytes and retry.
var ErrIncomplete = errors.New("wire: incomplete message")

// Encode serializes msg as a single explicitly-tagged ASN.1 element per
// Tag, ready to be written to the wire.
func Encode(msg *Message) ([]byte, error) {
	switch msg.Tag {
	case TagGetInfoReq:
		return marshalTagged(msg.Tag, orEmpty(msg.GetInfoReq))
	case TagGetInfoResp:
		return marshalTagged(msg.Tag, msg.GetInfoResp)
	case TagManifestReq:
		return marshalTagged(msg.Tag, orEmptyManifestReq(msg.ManifestReq))
	case TagManifestResp:
		return marshalTagged(msg.Tag, msg.ManifestResp)
	case TagPutMetaReq:
		return marshalTagged(msg.Tag, msg.PutMetaReq)
	case TagPutMetaResp:
		return marshalTagged(msg.Tag, msg.PutMetaResp)
	case TagSendFirmwareReq:
		return marshalTagged(msg.Tag, msg.SendFirmwareReq)
	case TagSendFirmwareResp:
		return marshalTagged(msg.Tag, msg.SendFirmwareResp)
	case TagInstallReq:
		return marshalTagged(msg.Tag, msg.InstallReq)
	case TagInstallResp:
		return marshalTagged(msg.Tag, msg.InstallResp)
	case TagPutMetaReq2:
		return marshalTagged(msg.Tag, msg.PutMetaReq2)
	case TagUploadDataReq:
		return marshalTagged(msg.Tag, msg.UploadDataReq)
	case TagUploadDataResp:
		return marshalTagged(msg.Tag, msg.UploadDataResp)
	case TagDownloadOstreeRevReq:
		return marshalTagged(msg.Tag, msg.DownloadOstreeRevReq)
	case TagDownloadOstreeRevResp:
		return marshalTagged(msg.Tag, msg.DownloadOstreeRevResp)
	default:
		return nil, fmt.Errorf("wire: unknown tag %d", msg.Tag)
	}
}

func orEmpty(v *GetInfoReq) *GetInfoReq {
	if v == nil {
		return &GetInfoReq{}
	}
	return v
}

func orEmptyManifestReq(v *ManifestReq) *ManifestReq {
	if v == nil {
		return &ManifestReq{}
	}
	return v
}

func marshalTagged(tag Tag, body any) ([]byte, error) {
	params := fmt.Sprintf("tag:%d,explicit", int(tag))
	out, err := asn1.MarshalWithParams(derefIfNeeded(body), params)
	if err != nil {
		return nil, fmt.Errorf("wire: marshaling %s: %w", tag, err)
	}
	return out, nil
}

// derefIfNeeded unwraps a non-nil pointer so asn1.MarshalWithParams
// sees the struct value itself, matching how Decode rebuilds it.
func derefIfNeeded(body any) any {
	switch v := body.(type) {
	case *GetInfoReq:
		if v == nil {
			return GetInfoReq{}
		}
		return *v
	case *GetInfoResp:
		return *v
	case *ManifestReq:
		if v == nil {
			return ManifestReq{}
		}
		return *v
	case *ManifestResp:
		return *v
	case *PutMetaReq:
		return *v
	case *PutMetaResp:
		return *v
	case *SendFirmwareReq:
		return *v
	case *SendFirmwareResp:
		return *v
	case *InstallReq:
		return *v
	case *InstallResp:
		return *v
	case *PutMetaReq2:
		return *v
	case *UploadDataReq:
		return *v
	case *UploadDataResp:
		return *v
	case *DownloadOstreeRevReq:
		return *v
	case *DownloadOstreeRevResp:
		return *v
	default:
		return body
	}
}

// Decode parses exactly one message from the front of data, returning
// the message and the number of bytes consumed. If data holds less than
// one full element, it returns ErrIncomplete and the caller should
// accumulate more bytes (see DequeueBuffer) before retrying.
func Decode(data []byte) (*Message, int, error) {
	var raw asn1.RawValue
	rest, err := asn1.Unmarshal(data, &raw)
	if err != nil {
		if isTruncated(err) {
			return nil, 0, ErrIncomplete
		}
		return nil, 0, fmt.Errorf("wire: decoding envelope: %w", err)
	}
	consumed := len(data) - len(rest)

	tag := Tag(raw.Tag)
	msg := &Message{Tag: tag, receivedAt: time.Now()}

	var unmarshalErr error
	switch tag {
	case TagGetInfoReq:
		msg.GetInfoReq = &GetInfoReq{}
		_, unmarshalErr = asn1.Unmarshal(raw.Bytes, msg.GetInfoReq)
	case TagGetInfoResp:
		msg.GetInfoResp = &GetInfoResp{}
		_, unmarshalErr = asn1.Unmarshal(raw.Bytes, msg.GetInfoResp)
	case TagManifestReq:
		msg.ManifestReq = &ManifestReq{}
		_, unmarshalErr = asn1.Unmarshal(raw.Bytes, msg.ManifestReq)
	case TagManifestResp:
		msg.ManifestResp = &ManifestResp{}
		_, unmarshalErr = asn1.Unmarshal(raw.Bytes, msg.ManifestResp)
	case TagPutMetaReq:
		msg.PutMetaReq = &PutMetaReq{}
		_, unmarshalErr = asn1.Unmarshal(raw.Bytes, msg.PutMetaReq)
	case TagPutMetaResp:
		msg.PutMetaResp = &PutMetaResp{}
		_, unmarshalErr = asn1.Unmarshal(raw.Bytes, msg.PutMetaResp)
	case TagSendFirmwareReq:
		msg.SendFirmwareReq = &SendFirmwareReq{}
		_, unmarshalErr = asn1.Unmarshal(raw.Bytes, msg.SendFirmwareReq)
	case TagSendFirmwareResp:
		msg.SendFirmwareResp = &SendFirmwareResp{}
		_, unmarshalErr = asn1.Unmarshal(raw.Bytes, msg.SendFirmwareResp)
	case TagInstallReq:
		msg.InstallReq = &InstallReq{}
		_, unmarshalErr = asn1.Unmarshal(raw.Bytes, msg.InstallReq)
	case TagInstallResp:
		msg.InstallResp = &InstallResp{}
		_, unmarshalErr = asn1.Unmarshal(raw.Bytes, msg.InstallResp)
	case TagPutMetaReq2:
		msg.PutMetaReq2 = &PutMetaReq2{}
		_, unmarshalErr = asn1.Unmarshal(raw.Bytes, msg.PutMetaReq2)
	case TagUploadDataReq:
		msg.UploadDataReq = &UploadDataReq{}
		_, unmarshalErr = asn1.Unmarshal(raw.Bytes, msg.UploadDataReq)
	case TagUploadDataResp:
		msg.UploadDataResp = &UploadDataResp{}
		_, unmarshalErr = asn1.Unmarshal(raw.Bytes, msg.UploadDataResp)
	case TagDownloadOstreeRevReq:
		msg.DownloadOstreeRevReq = &DownloadOstreeRevReq{}
		_, unmarshalErr = asn1.Unmarshal(raw.Bytes, msg.DownloadOstreeRevReq)
	case TagDownloadOstreeRevResp:
		msg.DownloadOstreeRevResp = &DownloadOstreeRevResp{}
		_, unmarshalErr = asn1.Unmarshal(raw.Bytes, msg.DownloadOstreeRevResp)
	default:
		return nil, consumed, fmt.Errorf("wire: unrecognized message tag %d", raw.Tag)
	}

	if unmarshalErr != nil {
		return nil, consumed, fmt.Errorf("wire: decoding body for %s: %w", tag, unmarshalErr)
	}
	return msg, consumed, nil
}

func isTruncated(err error) bool {
	// asn1.SyntaxError{Msg: "data truncated"} is what the stdlib parser
	// returns for a short buffer; we treat any such parse-time shortfall
	// as "need more bytes" rather than a hard failure, since
	// Server.serveConn may see a message split across TCP segments.
	var se asn1.SyntaxError
	if errors.As(err, &se) {
		return true
	}
	return false
}
