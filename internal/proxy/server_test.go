package proxy

import (
	"net"
	"testing"
	"time"

	"github.com/mysqlbouncer/mysqlbouncer/internal/backend"
	"github.com/mysqlbouncer/mysqlbouncer/internal/config"
	"github.com/mysqlbouncer/mysqlbouncer/internal/idlecache"
	"github.com/mysqlbouncer/mysqlbouncer/internal/wire"
)

// fakeBackend listens once and plays the exact packet sequence from
// spec.md §8 scenario 1: a HandshakeV10, an OK for auth, then a
// five-packet SELECT 1 result set for the client's COM_QUERY.
func fakeBackend(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		hs := &wire.HandshakeV10{
			ServerVersion:  "5.7.30",
			ConnectionID:   42,
			AuthPluginData: bytes20(),
			Capabilities:   wire.CoreCapabilities | wire.ClientPluginAuth,
			Charset:        0x21,
			StatusFlags:    wire.ServerStatusAutocommit,
			AuthPluginName: "mysql_native_password",
		}
		w := wire.NewPacketWriter(128)
		hs.Encode(w)
		writeFramed(conn, w.Bytes(), 0)

		// Read the client's HandshakeResponse41 (forwarded verbatim).
		readFramed(t, conn)

		ok := &wire.OKPacket{ServerStatus: wire.ServerStatusAutocommit}
		okw := wire.NewPacketWriter(8)
		ok.Encode(okw)
		writeFramed(conn, okw.Bytes(), 2)

		// Read the COM_QUERY.
		readFramed(t, conn)

		seq := byte(4)
		send := func(payload []byte) {
			writeFramed(conn, payload, seq)
			seq++
		}

		colCount := wire.NewPacketWriter(1)
		colCount.WriteLenEncInt(1)
		send(colCount.Bytes())

		field := &wire.FieldDefinition41{Name: "1", Type: 0x08}
		fw := wire.NewPacketWriter(32)
		field.Encode(fw)
		send(fw.Bytes())

		eof1 := &wire.EOFPacket{ServerStatus: wire.ServerStatusAutocommit}
		e1w := wire.NewPacketWriter(5)
		eof1.Encode(e1w)
		send(e1w.Bytes())

		row := wire.NewPacketWriter(2)
		row.WriteLenEncString([]byte("1"))
		send(row.Bytes())

		eof2 := &wire.EOFPacket{ServerStatus: wire.ServerStatusAutocommit}
		e2w := wire.NewPacketWriter(5)
		eof2.Encode(e2w)
		send(e2w.Bytes())
	}()
	return ln.Addr().String()
}

func bytes20() []byte {
	b := make([]byte, 20)
	for i := range b {
		b[i] = byte(i + 1)
	}
	return b
}

func writeFramed(conn net.Conn, payload []byte, seq byte) {
	framed, _ := wire.EncodeFrame(payload, seq)
	conn.Write(framed)
}

func readFramed(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	header := make([]byte, 4)
	if _, err := readFull(conn, header); err != nil {
		t.Fatalf("read header: %v", err)
	}
	length, _, _ := wire.PeekHeader(header)
	payload := make([]byte, length)
	if length > 0 {
		if _, err := readFull(conn, payload); err != nil {
			t.Fatalf("read payload: %v", err)
		}
	}
	return payload
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// TestServerScenario1EmptyPasswordLoginSingleQuery drives spec.md §8
// scenario 1 end to end through a real Server/Session over loopback TCP.
func TestServerScenario1EmptyPasswordLoginSingleQuery(t *testing.T) {
	backendAddr := fakeBackend(t)

	reg := backend.NewRegistry()
	b, err := reg.Add(backendAddr, backend.RoleReadWrite)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	b.MarkUp()

	cache := idlecache.NewCache(10, 2)
	defaults := config.PoolDefaults{
		ConnectTimeout: time.Second,
		ReadTimeout:    2 * time.Second,
		WriteTimeout:   2 * time.Second,
	}

	srv := NewServer(reg, cache, nil, defaults, nil)
	if err := srv.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Stop()

	clientConn, err := net.Dial("tcp", srv.ln.Addr().String())
	if err != nil {
		t.Fatalf("dial proxy: %v", err)
	}
	defer clientConn.Close()

	// Read the (relayed) handshake from the proxy.
	hsPayload := readFramed(t, clientConn)
	hs := &wire.HandshakeV10{}
	if err := hs.Decode(hsPayload); err != nil {
		t.Fatalf("decode handshake: %v", err)
	}

	auth := &wire.AuthResponse41{
		Capabilities: wire.CoreCapabilities,
		Username:     "root",
		AuthResponse: wire.Scramble(nil, hs.AuthPluginData),
	}
	aw := wire.NewPacketWriter(64)
	auth.Encode(aw)
	framed, _ := wire.EncodeFrame(aw.Bytes(), 1)
	if _, err := clientConn.Write(framed); err != nil {
		t.Fatalf("write auth: %v", err)
	}

	authResult := readFramed(t, clientConn)
	if len(authResult) == 0 || authResult[0] != wire.HeaderOK {
		t.Fatalf("expected OK after auth, got %v", authResult)
	}

	query := append([]byte{wire.ComQuery}, []byte("SELECT 1")...)
	qframed, _ := wire.EncodeFrame(query, 0)
	if _, err := clientConn.Write(qframed); err != nil {
		t.Fatalf("write query: %v", err)
	}

	var got [][]byte
	for i := 0; i < 5; i++ {
		got = append(got, readFramed(t, clientConn))
	}

	if len(got[0]) < 1 {
		t.Fatalf("expected column-count packet")
	}
	if got[2][0] != wire.HeaderEOF {
		t.Errorf("packet 3 should be EOF, got %#x", got[2][0])
	}
	if got[4][0] != wire.HeaderEOF {
		t.Errorf("packet 5 should be terminating EOF, got %#x", got[4][0])
	}
	if b.ConnectedClients() != 1 {
		t.Errorf("expected 1 connected client, got %d", b.ConnectedClients())
	}
}
