package channel

import (
	"context"
	"testing"
	"time"

	"avaneesh/uds-go/pkg/link"
)

func exchange(t *testing.T, from, to PhysicalChannel) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	want, err := link.NewFrame(0x18DA10F1, true, []byte{0x03, 0x22, 0xF1, 0x90})
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	if err := from.Write(ctx, want); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := to.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != want {
		t.Errorf("Read = %s, want %s", got, want)
	}
}

func TestTCPChannelLoopback(t *testing.T) {
	server, err := NewTCPChannel(TCPChannelConfig{Address: "127.0.0.1:0", IsServer: true})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	defer server.Close()

	listener := &countingListener{}
	server.SetConnectionStateListener(listener)

	client, err := NewTCPChannel(TCPChannelConfig{
		Address:        server.Addr().String(),
		ReconnectDelay: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	defer client.Close()

	exchange(t, client, server)
	exchange(t, server, client)

	if listener.established.Load() != 1 {
		t.Errorf("established = %d, want 1", listener.established.Load())
	}
	if s := client.Statistics(); s.BytesSent != link.RecordSize || s.BytesReceived != link.RecordSize {
		t.Errorf("client stats = %+v", s)
	}
}

func TestTCPChannelDialFailure(t *testing.T) {
	// Grab a free port, then close it so nothing listens there
	probe, err := NewTCPChannel(TCPChannelConfig{Address: "127.0.0.1:0", IsServer: true})
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	addr := probe.Addr().String()
	probe.Close()

	_, err = NewTCPChannel(TCPChannelConfig{
		Address:        addr,
		ReconnectDelay: 20 * time.Millisecond,
		DialAttempts:   2,
	})
	if err == nil {
		t.Fatal("dial to closed port succeeded")
	}
}

func TestUDPChannelLoopback(t *testing.T) {
	server, err := NewUDPChannel(UDPChannelConfig{Address: "127.0.0.1:0", IsServer: true})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	defer server.Close()

	listener := &countingListener{}
	server.SetConnectionStateListener(listener)

	client, err := NewUDPChannel(UDPChannelConfig{Address: server.LocalAddr().String()})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	defer client.Close()

	// The server only learns its peer from the first datagram
	ctx := context.Background()
	if err := server.Write(ctx, link.Frame{ID: 0x7E8}); err == nil {
		t.Error("server wrote before any peer was known")
	}

	exchange(t, client, server)
	exchange(t, server, client)

	if listener.established.Load() != 1 {
		t.Errorf("established = %d, want 1", listener.established.Load())
	}
}

func TestQUICChannelLoopback(t *testing.T) {
	server, err := NewQUICChannel(QUICChannelConfig{Address: "127.0.0.1:0", IsServer: true})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	defer server.Close()

	client, err := NewQUICChannel(QUICChannelConfig{
		Address:        server.Addr().String(),
		ReconnectDelay: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	defer client.Close()

	// The server accepts the stream only once data arrives on it
	exchange(t, client, server)
	exchange(t, server, client)

	if !client.IsConnected() {
		t.Error("client reports no connection")
	}
}

func TestBridgeClose(t *testing.T) {
	br := NewBridge(time.Millisecond)
	a, b := br.Ends()

	exchange(t, a, b)

	a.Close()
	if _, err := b.Read(context.Background()); err != ErrChannelClosed {
		t.Errorf("Read after Close = %v, want ErrChannelClosed", err)
	}
	if err := b.Write(context.Background(), link.Frame{ID: 1}); err != ErrChannelClosed {
		t.Errorf("Write after Close = %v, want ErrChannelClosed", err)
	}
}
