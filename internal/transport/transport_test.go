package transport

import (
	"sync"
	"testing"
	"time"
)

func startTestServer(t *testing.T) *DevServer {
	t.Helper()
	d, err := NewDevServer(DevServerConfig{Port: -1})
	if err != nil {
		t.Fatalf("new dev server: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("start dev server: %v", err)
	}
	return d
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	d := startTestServer(t)
	defer d.Shutdown()

	client, err := NewClient(d.URL())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()

	var mu sync.Mutex
	var got *Envelope
	done := make(chan struct{})

	_, err = client.Subscribe("message.agent-1.direct", func(e *Envelope) {
		mu.Lock()
		got = e
		mu.Unlock()
		close(done)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := client.Publish("message.agent-1.direct", []byte("hello")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := client.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	if got == nil || string(got.Data) != "hello" {
		t.Fatalf("expected to receive 'hello', got %+v", got)
	}
}
