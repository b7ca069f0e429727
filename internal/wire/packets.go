package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// Command opcodes (Protocol::CommandPhase), the subset the state machine
// classifies by first byte.
const (
	ComSleep           = 0x00
	ComQuit            = 0x01
	ComInitDB          = 0x02
	ComQuery           = 0x03
	ComFieldList       = 0x04
	ComCreateDB        = 0x05
	ComDropDB          = 0x06
	ComRefresh         = 0x07
	ComShutdown        = 0x08
	ComStatistics      = 0x09
	ComProcessInfo     = 0x0a
	ComConnect         = 0x0b
	ComProcessKill     = 0x0c
	ComDebug           = 0x0d
	ComPing            = 0x0e
	ComTime            = 0x0f
	ComDelayedInsert   = 0x10
	ComChangeUser      = 0x11
	ComBinlogDump      = 0x12
	ComTableDump       = 0x13
	ComConnectOut      = 0x14
	ComRegisterSlave   = 0x15
	ComStmtPrepare     = 0x16
	ComStmtExecute     = 0x17
	ComStmtSendLongData = 0x18
	ComStmtClose       = 0x19
	ComStmtReset       = 0x1a
	ComSetOption       = 0x1b
	ComStmtFetch       = 0x1c
	ComResetConnection = 0x1f
)

// Packet header bytes that disambiguate reply packet kinds.
const (
	HeaderOK      = 0x00
	HeaderEOF     = 0xfe
	HeaderErr     = 0xff
	HeaderLocalInfile = 0xfb
)

// OKPacket is Protocol::OK_Packet.
type OKPacket struct {
	AffectedRows uint64
	InsertID     uint64
	ServerStatus uint16
	Warnings     uint16
}

// Decode parses buf (payload, header byte included) as an OK packet. The
// caller must already have negotiated CLIENT_PROTOCOL_41, which this core
// always does.
func (p *OKPacket) Decode(buf []byte) error {
	r := NewPacketReader(buf)
	hdr, err := r.Uint8()
	if err != nil {
		return err
	}
	if hdr != HeaderOK {
		return ErrMalformed
	}
	affected, _, err := r.LenEncInt()
	if err != nil {
		return err
	}
	insertID, _, err := r.LenEncInt()
	if err != nil {
		return err
	}
	status, err := r.Uint16()
	if err != nil {
		return err
	}
	warnings, err := r.Uint16()
	if err != nil {
		return err
	}
	p.AffectedRows = affected
	p.InsertID = insertID
	p.ServerStatus = status
	p.Warnings = warnings
	return nil
}

// Encode appends this OK packet's wire form to w.
func (p *OKPacket) Encode(w *PacketWriter) {
	w.WriteUint8(HeaderOK)
	w.WriteLenEncInt(p.AffectedRows)
	w.WriteLenEncInt(p.InsertID)
	w.WriteUint16(uint64(p.ServerStatus))
	w.WriteUint16(uint64(p.Warnings))
}

// maxErrMessage is the encode-time truncation limit for ERR messages,
// per §4.1.
const maxErrMessage = 512

// ErrPacket is Protocol::ERR_Packet.
type ErrPacket struct {
	Code     uint16
	SQLState string
	Message  string
}

// DefaultSQLState is substituted when a constructed ErrPacket leaves
// SQLState empty.
const DefaultSQLState = "07000"

// Decode parses buf as an ERR packet.
func (p *ErrPacket) Decode(buf []byte) error {
	r := NewPacketReader(buf)
	hdr, err := r.Uint8()
	if err != nil {
		return err
	}
	if hdr != HeaderErr {
		return ErrMalformed
	}
	code, err := r.Uint16()
	if err != nil {
		return err
	}
	p.Code = code

	// The '#' + 5-byte sqlstate marker is only present once the peer has
	// negotiated CLIENT_PROTOCOL_41, which this core always has; but stay
	// defensive against a bare pre-4.1-style ERR arriving anyway.
	if b, ok := r.Peek(); ok && b == '#' {
		if err := r.Skip(1); err != nil {
			return err
		}
		state, err := r.FixedString(5)
		if err != nil {
			return err
		}
		p.SQLState = state
	} else {
		p.SQLState = DefaultSQLState
	}
	p.Message = string(r.Remainder())
	return nil
}

// Encode appends this ERR packet's wire form to w, truncating the message
// at 512 bytes.
func (p *ErrPacket) Encode(w *PacketWriter) {
	state := p.SQLState
	if state == "" {
		state = DefaultSQLState
	}
	if len(state) < 5 {
		state = state + strings.Repeat(" ", 5-len(state))
	} else if len(state) > 5 {
		state = state[:5]
	}
	msg := p.Message
	if len(msg) > maxErrMessage {
		msg = msg[:maxErrMessage]
	}
	w.WriteUint8(HeaderErr)
	w.WriteUint16(uint64(p.Code))
	w.WriteByte('#')
	w.WriteBytes([]byte(state))
	w.WriteBytes([]byte(msg))
}

// EOFPacket is Protocol::EOF_Packet. It is only distinguishable from a
// length-encoded-integer-prefixed row by packet length: an EOF is at most
// 9 bytes (header included).
type EOFPacket struct {
	Warnings     uint16
	ServerStatus uint16
}

// MaxEOFLength is the largest an EOF packet can legally be.
const MaxEOFLength = 9

// LooksLikeEOF reports whether buf (header byte included) is shaped like
// an EOF packet: leading 0xfe and no longer than MaxEOFLength.
func LooksLikeEOF(buf []byte) bool {
	return len(buf) > 0 && buf[0] == HeaderEOF && len(buf) <= MaxEOFLength
}

// Decode parses buf as an EOF packet.
func (p *EOFPacket) Decode(buf []byte) error {
	r := NewPacketReader(buf)
	hdr, err := r.Uint8()
	if err != nil {
		return err
	}
	if hdr != HeaderEOF {
		return ErrMalformed
	}
	warnings, err := r.Uint16()
	if err != nil {
		return err
	}
	status, err := r.Uint16()
	if err != nil {
		return err
	}
	p.Warnings = warnings
	p.ServerStatus = status
	return nil
}

// Encode appends this EOF packet's wire form to w.
func (p *EOFPacket) Encode(w *PacketWriter) {
	w.WriteUint8(HeaderEOF)
	w.WriteUint16(uint64(p.Warnings))
	w.WriteUint16(uint64(p.ServerStatus))
}

// HandshakeV10 is Protocol::HandshakeV10, the server's initial greeting.
type HandshakeV10 struct {
	ServerVersion      string
	ConnectionID       uint32
	AuthPluginData     []byte // 20 bytes when CLIENT_SECURE_CONNECTION, else 8
	Capabilities       uint32
	Charset            uint8
	StatusFlags        uint16
	AuthPluginName     string
}

// ParseServerVersion validates the "M.m.p[suffix]" shape required by
// §4.1 and returns the numeric components.
func ParseServerVersion(v string) (major, minor, patch int, err error) {
	dot1 := strings.IndexByte(v, '.')
	if dot1 < 0 {
		return 0, 0, 0, fmt.Errorf("wire: invalid server version %q", v)
	}
	rest := v[dot1+1:]
	dot2 := strings.IndexByte(rest, '.')
	if dot2 < 0 {
		return 0, 0, 0, fmt.Errorf("wire: invalid server version %q", v)
	}

	majorStr := v[:dot1]
	minorStr := rest[:dot2]
	patchStr := rest[dot2+1:]

	// patch may be followed by a non-numeric suffix (e.g. "5.7.0-log").
	end := 0
	for end < len(patchStr) && patchStr[end] >= '0' && patchStr[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, 0, 0, fmt.Errorf("wire: invalid server version %q", v)
	}
	patchStr = patchStr[:end]

	major, errM := strconv.Atoi(majorStr)
	minor, errN := strconv.Atoi(minorStr)
	patch, errP := strconv.Atoi(patchStr)
	if errM != nil || errN != nil || errP != nil {
		return 0, 0, 0, fmt.Errorf("wire: invalid server version %q", v)
	}
	if major < 0 || major > 10 || minor < 0 || minor >= 100 || patch < 0 || patch >= 100 {
		return 0, 0, 0, fmt.Errorf("wire: server version %q out of range", v)
	}
	return major, minor, patch, nil
}

// Decode parses buf as a HandshakeV10 packet.
func (h *HandshakeV10) Decode(buf []byte) error {
	r := NewPacketReader(buf)
	proto, err := r.Uint8()
	if err != nil {
		return err
	}
	if proto != 10 {
		return ErrUnsupportedVersion
	}
	ver, err := r.CString()
	if err != nil {
		return err
	}
	if _, _, _, err := ParseServerVersion(ver); err != nil {
		return ErrMalformed
	}
	h.ServerVersion = ver

	connID, err := r.Uint32()
	if err != nil {
		return err
	}
	h.ConnectionID = connID

	part1, err := r.FixedBytes(8)
	if err != nil {
		return err
	}
	authData := append([]byte{}, part1...)

	if err := r.Skip(1); err != nil { // filler
		return err
	}

	capLow, err := r.Uint16()
	if err != nil {
		return err
	}
	charset, err := r.Uint8()
	if err != nil {
		return err
	}
	status, err := r.Uint16()
	if err != nil {
		return err
	}
	capHigh, err := r.Uint16()
	if err != nil {
		return err
	}
	caps := uint32(capLow) | uint32(capHigh)<<16
	h.Capabilities = caps
	h.Charset = charset
	h.StatusFlags = status

	var authLen int
	if caps&ClientPluginAuth != 0 {
		b, err := r.Uint8()
		if err != nil {
			return err
		}
		authLen = int(b)
	} else {
		if err := r.Skip(1); err != nil {
			return err
		}
	}

	if err := r.Skip(10); err != nil { // reserved
		return err
	}

	if caps&ClientSecureConnection != 0 {
		part2Len := authLen - 8
		if part2Len < 13 {
			part2Len = 13
		}
		part2, err := r.FixedBytes(part2Len)
		if err != nil {
			return err
		}
		// Trailing NUL terminator on part 2.
		if len(part2) > 0 && part2[len(part2)-1] == 0 {
			part2 = part2[:len(part2)-1]
		}
		authData = append(authData, part2...)
	}
	h.AuthPluginData = authData

	if caps&ClientPluginAuth != 0 {
		name, err := r.CString()
		if err != nil {
			return err
		}
		h.AuthPluginName = name
	}

	return nil
}

// Encode appends this handshake's wire form to w.
func (h *HandshakeV10) Encode(w *PacketWriter) {
	w.WriteUint8(10)
	w.WriteCString(h.ServerVersion)
	w.WriteUint32(uint64(h.ConnectionID))

	data := h.AuthPluginData
	if len(data) < 8 {
		data = append(data, make([]byte, 8-len(data))...)
	}
	w.WriteBytes(data[:8])
	w.WriteFiller(1)

	w.WriteUint16(uint64(h.Capabilities) & 0xffff)
	w.WriteUint8(uint64(h.Charset))
	w.WriteUint16(uint64(h.StatusFlags))
	w.WriteUint16(uint64(h.Capabilities) >> 16)

	if h.Capabilities&ClientSecureConnection != 0 {
		part2 := data[8:]
		authLen := len(data)
		if h.Capabilities&ClientPluginAuth != 0 {
			w.WriteUint8(uint64(authLen))
		} else {
			w.WriteUint8(0)
		}
		w.WriteFiller(10)
		w.WriteBytes(part2)
		w.WriteByte(0)
	} else {
		w.WriteUint8(0)
		w.WriteFiller(10)
	}

	if h.Capabilities&ClientPluginAuth != 0 {
		w.WriteCString(h.AuthPluginName)
	}
}

// AuthResponse41 is Protocol::HandshakeResponse41, the client's reply to
// the server greeting.
type AuthResponse41 struct {
	Capabilities   uint32
	MaxPacketSize  uint32
	Charset        uint8
	Username       string
	AuthResponse   []byte
	Database       string
	AuthPluginName string
}

// Decode parses buf as a HandshakeResponse41. Pre-4.1 (no
// CLIENT_PROTOCOL_41) responses are rejected with ErrMalformed; the
// caller is expected to have already checked the capability bit before
// choosing this decoder, per §4.5 READ_AUTH.
func (a *AuthResponse41) Decode(buf []byte) error {
	r := NewPacketReader(buf)
	caps, err := r.Uint32()
	if err != nil {
		return err
	}
	if caps&ClientProtocol41 == 0 {
		return ErrMalformed
	}
	maxPkt, err := r.Uint32()
	if err != nil {
		return err
	}
	charset, err := r.Uint8()
	if err != nil {
		return err
	}
	if err := r.Skip(23); err != nil {
		return err
	}
	user, err := r.CString()
	if err != nil {
		return err
	}

	var authResp []byte
	if caps&ClientSecureConnection != 0 {
		b, _, err := r.LenEncString()
		if err != nil {
			return err
		}
		authResp = b
	} else {
		s, err := r.CString()
		if err != nil {
			return err
		}
		authResp = []byte(s)
	}

	var db string
	if caps&ClientConnectWithDB != 0 && r.Len() > 0 {
		s, err := r.CString()
		if err != nil {
			return err
		}
		db = s
	}

	var plugin string
	if caps&ClientPluginAuth != 0 && r.Len() > 0 {
		s, err := r.CString()
		if err != nil {
			return err
		}
		plugin = s
	}

	a.Capabilities = caps
	a.MaxPacketSize = maxPkt
	a.Charset = charset
	a.Username = user
	a.AuthResponse = authResp
	a.Database = db
	a.AuthPluginName = plugin
	return nil
}

// Encode appends this auth response's wire form to w.
func (a *AuthResponse41) Encode(w *PacketWriter) {
	w.WriteUint32(uint64(a.Capabilities))
	w.WriteUint32(uint64(a.MaxPacketSize))
	w.WriteUint8(uint64(a.Charset))
	w.WriteFiller(23)
	w.WriteCString(a.Username)

	if a.Capabilities&ClientSecureConnection != 0 {
		w.WriteLenEncString(a.AuthResponse)
	} else {
		w.WriteCString(string(a.AuthResponse))
	}

	if a.Capabilities&ClientConnectWithDB != 0 {
		w.WriteCString(a.Database)
	}
	if a.Capabilities&ClientPluginAuth != 0 {
		w.WriteCString(a.AuthPluginName)
	}
}

// FieldDefinition41 is Protocol::ColumnDefinition41.
type FieldDefinition41 struct {
	Catalog      string
	Schema       string
	Table        string
	OrgTable     string
	Name         string
	OrgName      string
	Charset      uint16
	ColumnLength uint32
	Type         uint8
	Flags        uint16
	Decimals     uint8
}

// Decode parses buf as a ColumnDefinition41.
func (f *FieldDefinition41) Decode(buf []byte) error {
	r := NewPacketReader(buf)
	read := func() (string, error) {
		b, _, err := r.LenEncString()
		return string(b), err
	}
	var err error
	if f.Catalog, err = read(); err != nil {
		return err
	}
	if f.Schema, err = read(); err != nil {
		return err
	}
	if f.Table, err = read(); err != nil {
		return err
	}
	if f.OrgTable, err = read(); err != nil {
		return err
	}
	if f.Name, err = read(); err != nil {
		return err
	}
	if f.OrgName, err = read(); err != nil {
		return err
	}
	if err := r.Skip(1); err != nil { // length-of-fixed-fields filler, always 0x0c
		return err
	}
	if f.Charset, err = r.Uint16(); err != nil {
		return err
	}
	if f.ColumnLength, err = r.Uint32(); err != nil {
		return err
	}
	t, err := r.Uint8()
	if err != nil {
		return err
	}
	f.Type = t
	if f.Flags, err = r.Uint16(); err != nil {
		return err
	}
	d, err := r.Uint8()
	if err != nil {
		return err
	}
	f.Decimals = d
	return r.Skip(2) // filler
}

// Encode appends this field definition's wire form to w.
func (f *FieldDefinition41) Encode(w *PacketWriter) {
	w.WriteLenEncString([]byte(f.Catalog))
	w.WriteLenEncString([]byte(f.Schema))
	w.WriteLenEncString([]byte(f.Table))
	w.WriteLenEncString([]byte(f.OrgTable))
	w.WriteLenEncString([]byte(f.Name))
	w.WriteLenEncString([]byte(f.OrgName))
	w.WriteUint8(0x0c)
	w.WriteUint16(uint64(f.Charset))
	w.WriteUint32(uint64(f.ColumnLength))
	w.WriteUint8(uint64(f.Type))
	w.WriteUint16(uint64(f.Flags))
	w.WriteUint8(uint64(f.Decimals))
	w.WriteFiller(2)
}
