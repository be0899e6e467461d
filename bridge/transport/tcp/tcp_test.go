package tcp

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/ValentinKolb/dNet/bridge/common"
	"github.com/ValentinKolb/dNet/bridge/transport"
)

func TestConnectAndUpgrade(t *testing.T) {
	c, err := transport.ByName("tcp")
	if err != nil {
		t.Fatal(err)
	}

	ln, err := c.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen error = %v", err)
	}
	defer ln.Close()

	accepted := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4)
		io.ReadFull(conn, buf)
		accepted <- buf
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := c.Connect(ctx, ln.Addr().String())
	if err != nil {
		t.Fatalf("Connect error = %v", err)
	}
	defer conn.Close()

	if err := c.UpgradeConnection(conn, common.DefaultSocketConfig()); err != nil {
		t.Fatalf("UpgradeConnection error = %v", err)
	}
	if _, err := conn.Write([]byte("ping")); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-accepted:
		if string(got) != "ping" {
			t.Errorf("server received %q, want ping", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for the server")
	}
}

func TestConnectCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewConnector().Connect(ctx, "127.0.0.1:1"); err == nil {
		t.Error("Connect with a cancelled context should fail")
	}
}
