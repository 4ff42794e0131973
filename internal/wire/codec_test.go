package wire

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []*Message{
		{Tag: TagGetInfoReq, GetInfoReq: &GetInfoReq{}},
		{Tag: TagGetInfoResp, GetInfoResp: &GetInfoResp{
			ECUSerial: "ecu-1", HardwareID: "hw-1", PublicKeyPEM: "pem", SignatureType: "ed25519",
		}},
		{Tag: TagManifestResp, ManifestResp: &ManifestResp{ManifestJSON: []byte(`{"ok":true}`)}},
		{Tag: TagPutMetaReq2, PutMetaReq2: &PutMetaReq2{Files: []MetaFile{
			{Repository: "director", Role: "root", JSON: []byte("{}")},
			{Repository: "image", Role: "targets", JSON: []byte("{}")},
		}}},
		{Tag: TagUploadDataReq, UploadDataReq: &UploadDataReq{TargetName: "fw.bin", Offset: 0, Chunk: []byte("abc"), Final: false}},
		{Tag: TagInstallResp, InstallResp: &InstallResp{Result: 2, Description: "need completion"}},
		{Tag: TagDownloadOstreeRevReq, DownloadOstreeRevReq: &DownloadOstreeRevReq{TargetName: "ostree-rev-1"}},
		{Tag: TagDownloadOstreeRevResp, DownloadOstreeRevResp: &DownloadOstreeRevResp{Result: 5, Description: "not supported"}},
	}

	for _, want := range cases {
		t.Run(want.Tag.String(), func(t *testing.T) {
			encoded, err := Encode(want)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}

			got, consumed, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if consumed != len(encoded) {
				t.Fatalf("consumed %d, want %d", consumed, len(encoded))
			}
			if got.Tag != want.Tag {
				t.Fatalf("got tag %s, want %s", got.Tag, want.Tag)
			}
		})
	}
}

func TestDecodeIncompleteThenComplete(t *testing.T) {
	msg := &Message{Tag: TagManifestResp, ManifestResp: &ManifestResp{ManifestJSON: []byte(`{"a":1}`)}}
	encoded, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var d DequeueBuffer
	d.Write(encoded[:len(encoded)/2])
	if _, err := d.TryDecode(); err != ErrIncomplete {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}

	d.Write(encoded[len(encoded)/2:])
	got, err := d.TryDecode()
	if err != nil {
		t.Fatalf("TryDecode after full write: %v", err)
	}
	if got.Tag != TagManifestResp {
		t.Fatalf("got tag %s, want manifestResp", got.Tag)
	}
	if !bytes.Equal(got.ManifestResp.ManifestJSON, msg.ManifestResp.ManifestJSON) {
		t.Fatalf("manifest json mismatch")
	}
	if d.Len() != 0 {
		t.Fatalf("expected buffer drained, got %d bytes left", d.Len())
	}
}

func TestDequeueBufferHandlesTwoMessagesBackToBack(t *testing.T) {
	m1 := &Message{Tag: TagGetInfoReq, GetInfoReq: &GetInfoReq{}}
	m2 := &Message{Tag: TagManifestReq, ManifestReq: &ManifestReq{}}

	e1, _ := Encode(m1)
	e2, _ := Encode(m2)

	var d DequeueBuffer
	d.Write(e1)
	d.Write(e2)

	got1, err := d.TryDecode()
	if err != nil {
		t.Fatalf("first TryDecode: %v", err)
	}
	if got1.Tag != TagGetInfoReq {
		t.Fatalf("got %s, want getInfoReq", got1.Tag)
	}

	got2, err := d.TryDecode()
	if err != nil {
		t.Fatalf("second TryDecode: %v", err)
	}
	if got2.Tag != TagManifestReq {
		t.Fatalf("got %s, want manifestReq", got2.Tag)
	}
}
