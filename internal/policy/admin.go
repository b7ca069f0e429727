package policy

import (
	"strings"

	"github.com/mysqlbouncer/mysqlbouncer/internal/wire"
)

// versionComment and userReply are the fixed strings AdminHook returns.
// The real admin plugin's reply generator is intentionally not
// parameterized (§9); this mirrors that scope exactly rather than
// templating in the real backend version or authenticated user.
const (
	versionComment = "mysqlbouncer admin"
	userReply      = "mysqlbouncer@admin"
)

// AdminHook answers exactly two admin queries itself, without ever
// forwarding them to a backend: "SELECT @@version_comment" and
// "SELECT USER()" (case-insensitive, surrounding whitespace trimmed).
// Every other call point behaves like NoOpHook.
type AdminHook struct {
	NoOpHook
}

func (AdminHook) OnReadQuery(c Context) Decision {
	cmd := c.Command()
	if len(cmd) == 0 || cmd[0] != wire.ComQuery {
		return NoDecision
	}
	query := strings.TrimSpace(string(cmd[1:]))
	switch {
	case strings.EqualFold(query, "SELECT @@version_comment"):
		c.SetResult(cannedResultSet("@@version_comment", versionComment)...)
		return SendResult
	case strings.EqualFold(query, "SELECT USER()"):
		c.SetResult(cannedResultSet("USER()", userReply)...)
		return SendResult
	default:
		return NoDecision
	}
}

// cannedResultSet builds the flattened sequence of packet payloads for a
// one-column, one-row, text-protocol result set: column count, one field
// definition, EOF, one row, terminating EOF. Grounded on
// wire.FieldDefinition41/wire.EOFPacket; the session layer is responsible
// for assigning sequence ids as it frames and sends each payload in
// order via netio.Socket.QueueSend.
func cannedResultSet(column, value string) [][]byte {
	colCountW := wire.NewPacketWriter(1)
	colCountW.WriteLenEncInt(1)

	field := &wire.FieldDefinition41{
		Catalog:      "def",
		Name:         column,
		OrgName:      column,
		Charset:      0x21, // utf8_general_ci
		ColumnLength: uint32(len(value)),
		Type:         0xfd, // MYSQL_TYPE_VAR_STRING
	}
	fieldW := wire.NewPacketWriter(32)
	field.Encode(fieldW)

	eof1 := &wire.EOFPacket{ServerStatus: wire.ServerStatusAutocommit}
	eof1W := wire.NewPacketWriter(5)
	eof1.Encode(eof1W)

	rowW := wire.NewPacketWriter(len(value) + 1)
	rowW.WriteLenEncString([]byte(value))

	eof2 := &wire.EOFPacket{ServerStatus: wire.ServerStatusAutocommit}
	eof2W := wire.NewPacketWriter(5)
	eof2.Encode(eof2W)

	return [][]byte{
		colCountW.Bytes(),
		fieldW.Bytes(),
		eof1W.Bytes(),
		rowW.Bytes(),
		eof2W.Bytes(),
	}
}

var _ Hook = AdminHook{}
