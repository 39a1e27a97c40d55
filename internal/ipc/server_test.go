package ipc

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tim-br/diakonos/internal/registry"
)

func writeUnit(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".service"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func startTestServer(t *testing.T) (*Server, string, *registry.Registry) {
	t.Helper()
	svcDir := t.TempDir()
	writeUnit(t, svcDir, "web", `[Service]
ExecStart=sleep 10
`)

	reg := registry.New(svcDir, nil, nil)
	if err := reg.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	sockPath := filepath.Join(t.TempDir(), "daemon.sock")
	srv := New(reg, nil, nil)
	if err := srv.ListenUnix(sockPath); err != nil {
		t.Fatalf("ListenUnix: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx)
	t.Cleanup(cancel)

	return srv, sockPath, reg
}

func TestServerPing(t *testing.T) {
	_, sockPath, _ := startTestServer(t)

	client, err := Dial(sockPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	resp, err := client.Send(Request{Kind: ReqPing})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Kind != RespPong {
		t.Errorf("Kind = %v, want Pong", resp.Kind)
	}
}

func TestServerStartStopStatus(t *testing.T) {
	_, sockPath, _ := startTestServer(t)

	client, err := Dial(sockPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	if resp, err := client.Send(Request{Kind: ReqStart, Service: "web"}); err != nil || resp.Kind != RespOk {
		t.Fatalf("Start: resp=%+v err=%v", resp, err)
	}

	resp, err := client.Send(Request{Kind: ReqStatus, Service: "web"})
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if resp.Kind != RespStatus || resp.State != registry.Running {
		t.Fatalf("Status resp = %+v, want Running", resp)
	}

	if resp, err := client.Send(Request{Kind: ReqStop, Service: "web"}); err != nil || resp.Kind != RespOk {
		t.Fatalf("Stop: resp=%+v err=%v", resp, err)
	}
}

func TestServerListReturnsLoadedServices(t *testing.T) {
	_, sockPath, _ := startTestServer(t)

	client, err := Dial(sockPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	resp, err := client.Send(Request{Kind: ReqList})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Kind != RespList || len(resp.Services) != 1 || resp.Services[0].Name != "web" {
		t.Fatalf("List resp = %+v", resp)
	}
}

func TestServerUnknownServiceReturnsError(t *testing.T) {
	_, sockPath, _ := startTestServer(t)

	client, err := Dial(sockPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	resp, err := client.Send(Request{Kind: ReqStatus, Service: "nope"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Kind != RespError {
		t.Fatalf("Kind = %v, want Error", resp.Kind)
	}
}

func TestServerShutdownClosesAfterResponse(t *testing.T) {
	_, sockPath, _ := startTestServer(t)

	client, err := Dial(sockPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	resp, err := client.Send(Request{Kind: ReqShutdown})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Kind != RespOk {
		t.Fatalf("Kind = %v, want Ok", resp.Kind)
	}

	// The server closes this connection once the Shutdown response is out.
	if _, err := client.Send(Request{Kind: ReqPing}); err == nil {
		t.Fatal("expected Send on the shut-down connection to fail")
	}
}

func TestSocketReady(t *testing.T) {
	_, sockPath, _ := startTestServer(t)

	if !SocketReady(sockPath) {
		t.Error("expected SocketReady to report true for a listening socket")
	}
	if SocketReady(filepath.Join(t.TempDir(), "nope.sock")) {
		t.Error("expected SocketReady to report false for a nonexistent socket")
	}
}

func TestMalformedRequestGetsErrorNotDisconnect(t *testing.T) {
	_, sockPath, _ := startTestServer(t)

	client, err := Dial(sockPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	if _, err := client.writer.Write([]byte("{not json}\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := client.writer.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if !client.reader.Scan() {
		t.Fatal("expected a response line for the malformed request")
	}
	var errResp Response
	if err := json.Unmarshal(client.reader.Bytes(), &errResp); err != nil {
		t.Fatalf("decoding response to malformed request: %v", err)
	}
	if errResp.Kind != RespError {
		t.Fatalf("Kind = %v, want Error", errResp.Kind)
	}

	// The connection should still be usable afterward.
	resp, err := client.Send(Request{Kind: ReqPing})
	if err != nil {
		t.Fatalf("Send after malformed request: %v", err)
	}
	if resp.Kind != RespPong {
		t.Errorf("Kind = %v, want Pong", resp.Kind)
	}

	time.Sleep(10 * time.Millisecond)
}
