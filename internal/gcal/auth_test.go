package gcal

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"
)

func TestStartCallbackServer_EphemeralPortsDoNotCollide(t *testing.T) {
	ctx := context.Background()

	// Two concurrent flows must both bind; a fixed port would make the
	// second one fail.
	a, err := startCallbackServer()
	if err != nil {
		t.Fatalf("first callback server: %v", err)
	}
	defer a.shutdown(ctx)

	b, err := startCallbackServer()
	if err != nil {
		t.Fatalf("second callback server: %v", err)
	}
	defer b.shutdown(ctx)

	if a.url == b.url {
		t.Errorf("both servers bound %s", a.url)
	}
}

func TestCallbackServer_DeliversCode(t *testing.T) {
	cs, err := startCallbackServer()
	if err != nil {
		t.Fatalf("startCallbackServer: %v", err)
	}
	defer cs.shutdown(context.Background())

	resp, err := http.Get(cs.url + "?code=auth-code-42")
	if err != nil {
		t.Fatalf("GET callback: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	select {
	case code := <-cs.codeCh:
		if code != "auth-code-42" {
			t.Errorf("code = %q", code)
		}
	case err := <-cs.errCh:
		t.Fatalf("callback reported error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("no code delivered")
	}
}

func TestCallbackServer_MissingCodeReportsError(t *testing.T) {
	cs, err := startCallbackServer()
	if err != nil {
		t.Fatalf("startCallbackServer: %v", err)
	}
	defer cs.shutdown(context.Background())

	resp, err := http.Get(cs.url)
	if err != nil {
		t.Fatalf("GET callback: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	select {
	case <-cs.errCh:
	case code := <-cs.codeCh:
		t.Fatalf("unexpected code %q", code)
	case <-time.After(5 * time.Second):
		t.Fatal("missing code not reported")
	}
}
