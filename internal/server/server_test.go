package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ironbridge-io/secondary-agent/internal/wire"
)

func newTestDispatcher(t *testing.T) *wire.Dispatcher {
	t.Helper()
	d := wire.NewDispatcher()
	d.RegisterHandler(wire.TagGetInfoReq, func(req *wire.Message) (*wire.Message, wire.HandleStatusCode, error) {
		return &wire.Message{
			Tag: wire.TagGetInfoResp,
			GetInfoResp: &wire.GetInfoResp{
				ECUSerial:     "ecu-test",
				HardwareID:    "hw-test",
				PublicKeyPEM:  "unused",
				SignatureType: "ed25519",
			},
		}, wire.StatusOK, nil
	})
	return d
}

func startTestServer(t *testing.T, d *wire.Dispatcher) *Server {
	t.Helper()
	srv := New("127.0.0.1:0", "", time.Second, 0, d)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(context.Background()) }()

	t.Cleanup(func() {
		srv.Stop()
		select {
		case <-errCh:
		case <-time.After(2 * time.Second):
			t.Fatal("server did not stop in time")
		}
	})
	return srv
}

func TestServeRoundTripsGetInfo(t *testing.T) {
	srv := startTestServer(t, newTestDispatcher(t))

	conn, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	encoded, err := wire.Encode(&wire.Message{Tag: wire.TagGetInfoReq, GetInfoReq: &wire.GetInfoReq{}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := conn.Write(encoded); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var buf wire.DequeueBuffer
	readBuf := make([]byte, 4096)
	for {
		n, err := conn.Read(readBuf)
		if n > 0 {
			buf.Write(readBuf[:n])
		}
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		msg, derr := buf.TryDecode()
		if derr == wire.ErrIncomplete {
			continue
		}
		if derr != nil {
			t.Fatalf("decode: %v", derr)
		}
		if msg.Tag != wire.TagGetInfoResp {
			t.Fatalf("unexpected tag %v", msg.Tag)
		}
		if msg.GetInfoResp.ECUSerial != "ecu-test" {
			t.Fatalf("unexpected serial %q", msg.GetInfoResp.ECUSerial)
		}
		break
	}
}

func TestServeReturnsRebootRequired(t *testing.T) {
	d := wire.NewDispatcher()
	d.RegisterHandler(wire.TagInstallReq, func(req *wire.Message) (*wire.Message, wire.HandleStatusCode, error) {
		return &wire.Message{Tag: wire.TagInstallResp, InstallResp: &wire.InstallResp{Result: 0}}, wire.StatusRebootRequired, nil
	})

	srv := New("127.0.0.1:0", "", time.Second, 0, d)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(context.Background()) }()

	<-srv.ready

	conn, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	encoded, err := wire.Encode(&wire.Message{Tag: wire.TagInstallReq, InstallReq: &wire.InstallReq{}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := conn.Write(encoded); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case err := <-errCh:
		if err != ErrRebootRequired {
			t.Fatalf("expected ErrRebootRequired, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit after reboot-required response")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	srv := startTestServer(t, newTestDispatcher(t))
	srv.Stop()
	srv.Stop()
}
