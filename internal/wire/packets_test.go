package wire

import (
	"bytes"
	"testing"
)

func encoded(enc func(*PacketWriter)) []byte {
	w := NewPacketWriter(32)
	enc(w)
	return w.Bytes()
}

func TestOKPacketRoundTrip(t *testing.T) {
	want := OKPacket{AffectedRows: 3, InsertID: 42, ServerStatus: ServerStatusAutocommit, Warnings: 1}
	buf := encoded(want.Encode)

	var got OKPacket
	if err := got.Decode(buf); err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestOKPacketRejectsWrongHeader(t *testing.T) {
	var p OKPacket
	if err := p.Decode([]byte{0xff, 0, 0, 0, 0, 0}); err != ErrMalformed {
		t.Fatalf("got %v, want ErrMalformed", err)
	}
}

func TestErrPacketRoundTrip(t *testing.T) {
	want := ErrPacket{Code: 1045, SQLState: "28000", Message: "Access denied for user 'root'@'localhost'"}
	buf := encoded(want.Encode)

	var got ErrPacket
	if err := got.Decode(buf); err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestErrPacketDefaultsSQLState(t *testing.T) {
	want := ErrPacket{Code: 2013, Message: "Lost connection to MySQL server"}
	buf := encoded(want.Encode)

	var got ErrPacket
	if err := got.Decode(buf); err != nil {
		t.Fatal(err)
	}
	if got.SQLState != DefaultSQLState {
		t.Errorf("SQLState = %q, want %q", got.SQLState, DefaultSQLState)
	}
}

func TestErrPacketTruncatesLongMessage(t *testing.T) {
	long := bytes.Repeat([]byte("x"), 2000)
	p := ErrPacket{Code: 1064, SQLState: "42000", Message: string(long)}
	buf := encoded(p.Encode)

	var got ErrPacket
	if err := got.Decode(buf); err != nil {
		t.Fatal(err)
	}
	if len(got.Message) != maxErrMessage {
		t.Errorf("Message length = %d, want %d", len(got.Message), maxErrMessage)
	}
}

func TestEOFPacketRoundTrip(t *testing.T) {
	want := EOFPacket{Warnings: 2, ServerStatus: ServerStatusAutocommit}
	buf := encoded(want.Encode)

	if !LooksLikeEOF(buf) {
		t.Fatal("encoded EOF does not look like one")
	}
	var got EOFPacket
	if err := got.Decode(buf); err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestLooksLikeEOFRejectsLongBuffers(t *testing.T) {
	buf := append([]byte{HeaderEOF}, bytes.Repeat([]byte{0}, 20)...)
	if LooksLikeEOF(buf) {
		t.Fatal("a long 0xfe-prefixed buffer should not look like EOF")
	}
}

func TestParseServerVersion(t *testing.T) {
	cases := []struct {
		in                     string
		major, minor, patch int
		wantErr              bool
	}{
		{"8.0.34", 8, 0, 34, false},
		{"5.7.0-log", 5, 7, 0, false},
		{"10.11.2-MariaDB", 10, 11, 2, false},
		{"bogus", 0, 0, 0, true},
		{"1.2", 0, 0, 0, true},
	}
	for _, c := range cases {
		major, minor, patch, err := ParseServerVersion(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseServerVersion(%q): expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseServerVersion(%q): %v", c.in, err)
			continue
		}
		if major != c.major || minor != c.minor || patch != c.patch {
			t.Errorf("ParseServerVersion(%q) = %d.%d.%d, want %d.%d.%d",
				c.in, major, minor, patch, c.major, c.minor, c.patch)
		}
	}
}

func TestHandshakeV10RoundTrip(t *testing.T) {
	want := HandshakeV10{
		ServerVersion:  "8.0.34-mysqlbouncer",
		ConnectionID:   7,
		AuthPluginData: bytes.Repeat([]byte{0x42}, 20),
		Capabilities:   CoreCapabilities | ClientPluginAuth,
		Charset:        0x21,
		StatusFlags:    ServerStatusAutocommit,
		AuthPluginName: "mysql_native_password",
	}
	buf := encoded(want.Encode)

	var got HandshakeV10
	if err := got.Decode(buf); err != nil {
		t.Fatal(err)
	}
	if got.ServerVersion != want.ServerVersion ||
		got.ConnectionID != want.ConnectionID ||
		got.Capabilities != want.Capabilities ||
		got.Charset != want.Charset ||
		got.StatusFlags != want.StatusFlags ||
		got.AuthPluginName != want.AuthPluginName {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if !bytes.Equal(got.AuthPluginData, want.AuthPluginData) {
		t.Errorf("AuthPluginData = %x, want %x", got.AuthPluginData, want.AuthPluginData)
	}
}

func TestHandshakeV10RejectsUnsupportedProtocolVersion(t *testing.T) {
	var h HandshakeV10
	if err := h.Decode([]byte{9, '8', '.', '0', '.', '0', 0}); err != ErrUnsupportedVersion {
		t.Fatalf("got %v, want ErrUnsupportedVersion", err)
	}
}

func TestAuthResponse41RoundTrip(t *testing.T) {
	want := AuthResponse41{
		Capabilities:   CoreCapabilities | ClientConnectWithDB | ClientPluginAuth,
		MaxPacketSize:  1 << 24,
		Charset:        0x21,
		Username:       "app_user",
		AuthResponse:   Scramble([]byte("s3cret"), bytes.Repeat([]byte{0x11}, 20)),
		Database:       "appdb",
		AuthPluginName: "mysql_native_password",
	}
	buf := encoded(want.Encode)

	var got AuthResponse41
	if err := got.Decode(buf); err != nil {
		t.Fatal(err)
	}
	if got.Username != want.Username || got.Database != want.Database ||
		got.AuthPluginName != want.AuthPluginName || got.Capabilities != want.Capabilities ||
		got.MaxPacketSize != want.MaxPacketSize || got.Charset != want.Charset {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if !bytes.Equal(got.AuthResponse, want.AuthResponse) {
		t.Errorf("AuthResponse = %x, want %x", got.AuthResponse, want.AuthResponse)
	}
}

func TestAuthResponse41WithoutDatabaseOrPlugin(t *testing.T) {
	want := AuthResponse41{
		Capabilities: CoreCapabilities,
		Username:     "root",
		AuthResponse: []byte{},
	}
	buf := encoded(want.Encode)

	var got AuthResponse41
	if err := got.Decode(buf); err != nil {
		t.Fatal(err)
	}
	if got.Database != "" || got.AuthPluginName != "" {
		t.Errorf("expected empty database/plugin, got %+v", got)
	}
}

func TestFieldDefinition41RoundTrip(t *testing.T) {
	want := FieldDefinition41{
		Catalog:      "def",
		Schema:       "appdb",
		Table:        "users",
		OrgTable:     "users",
		Name:         "id",
		OrgName:      "id",
		Charset:      0x3f,
		ColumnLength: 11,
		Type:         0x03,
		Flags:        0x0003,
		Decimals:     0,
	}
	buf := encoded(want.Encode)

	var got FieldDefinition41
	if err := got.Decode(buf); err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}
