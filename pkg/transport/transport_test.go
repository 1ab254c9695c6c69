package transport

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/dbehnke/cpslink/pkg/logger"
)

func TestFromConn_ReadWrite(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	ch := FromConn(local)
	defer ch.Close()

	sent := []byte{0x00, 0x0C, 0x00, 0xB1}
	go func() {
		if _, err := remote.Write(sent); err != nil {
			t.Errorf("pipe write failed: %v", err)
		}
	}()

	buf := make([]byte, len(sent))
	if err := ch.ReadFull(buf); err != nil {
		t.Fatalf("ReadFull failed: %v", err)
	}
	if !bytes.Equal(buf, sent) {
		t.Errorf("ReadFull = %X, want %X", buf, sent)
	}

	echo := make(chan []byte, 1)
	go func() {
		out := make([]byte, 4)
		if _, err := remote.Read(out); err != nil {
			t.Errorf("pipe read failed: %v", err)
			echo <- nil
			return
		}
		echo <- out
	}()

	if err := ch.WriteAll(sent); err != nil {
		t.Fatalf("WriteAll failed: %v", err)
	}
	if got := <-echo; !bytes.Equal(got, sent) {
		t.Errorf("WriteAll delivered %X, want %X", got, sent)
	}
}

func TestFromConn_ReadAfterClose(t *testing.T) {
	local, remote := net.Pipe()
	ch := FromConn(local)

	remote.Close()
	buf := make([]byte, 1)
	if err := ch.ReadFull(buf); err == nil {
		t.Error("Expected error reading from closed channel")
	}
}

func TestDial_NoListener(t *testing.T) {
	log := logger.New(logger.Config{Level: "error"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := Dial(ctx, Config{Host: "127.0.0.1", Port: 1, ConnectTimeout: 500 * time.Millisecond}, log)
	if err == nil {
		t.Error("Expected connection error")
	}
}

func TestDial_SetsNoDelay(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- conn
	}()

	log := logger.New(logger.Config{Level: "error"})
	addr := ln.Addr().(*net.TCPAddr)

	ch, err := Dial(context.Background(), Config{Host: "127.0.0.1", Port: addr.Port}, log)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer ch.Close()

	select {
	case conn := <-accepted:
		conn.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("Listener never saw the connection")
	}
}
