package netio

import (
	"net"
	"testing"
	"time"
)

func TestSocketReadStepAssemblesFrame(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sock := NewSocket(server)

	go func() {
		client.Write([]byte{5, 0, 0, 0, 'h', 'e', 'l', 'l', 'o'})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		res := sock.ReadStep()
		if res == Err {
			t.Fatal("ReadStep returned Err")
		}
		if payload, ok := sock.NextFrame(); ok {
			if string(payload) != "hello" {
				t.Fatalf("frame payload = %q, want hello", payload)
			}
			return
		}
	}
	t.Fatal("timed out waiting for a complete frame")
}

func TestSocketWriteStepFlushesQueuedFrame(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sock := NewSocket(server)
	sock.QueueSend([]byte("world"))

	readDone := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 64)
		n, _ := client.Read(buf)
		readDone <- buf[:n]
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		res := sock.WriteStep()
		if res == Err {
			t.Fatal("WriteStep returned Err")
		}
		if res == Ready {
			break
		}
	}

	select {
	case got := <-readDone:
		want := []byte{5, 0, 0, 0, 'w', 'o', 'r', 'l', 'd'}
		if string(got) != string(want) {
			t.Fatalf("client read %v, want %v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client read")
	}
}

func TestSocketResetSeqRestartsAtZero(t *testing.T) {
	_, server := net.Pipe()
	defer server.Close()

	sock := NewSocket(server)
	sock.QueueSend([]byte("a"))
	sock.QueueSend([]byte("b"))
	sock.ResetSeq()
	sock.QueueSend([]byte("c"))

	// Drain the first two frames so the third is the one we inspect.
	sock.Send.Pop()
	sock.Send.Pop()
	third, ok := sock.Send.Pop()
	if !ok {
		t.Fatal("expected a third queued frame")
	}
	if third[3] != 0 {
		t.Fatalf("seq id after ResetSeq = %d, want 0", third[3])
	}
}

func TestBindListensOnTCP(t *testing.T) {
	ln, err := Bind("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer ln.Close()
	if ln.Addr().Network() != "tcp" {
		t.Fatalf("network = %q, want tcp", ln.Addr().Network())
	}
}
