package session

import "github.com/mysqlbouncer/mysqlbouncer/internal/wire"

// resultPhase is the §4.5 READ_QUERY_RESULT sub-state for the default
// (COM_QUERY-shaped) result tracker.
type resultPhase int

const (
	phaseInit resultPhase = iota
	phaseField
	phaseResult
	phaseLoadDataEnd
)

// commandTracker holds per-command state spanning the READ_QUERY →
// READ_QUERY_RESULT → SEND_QUERY_RESULT cycle for whichever command was
// last read from the client. Reset at the start of every READ_QUERY.
type commandTracker struct {
	opcode  byte
	command []byte // the full client command packet, header byte included

	phase resultPhase

	// lastPacket is the most recent response packet read from the
	// server, exposed to policy hooks via ctx.Result().
	lastPacket []byte

	// stmtPrepareEOFsRemaining counts down the EOF packets still expected
	// after a COM_STMT_PREPARE response header, per §4.5's tracker note:
	// "the first server packet encodes how many additional EOF packets
	// to expect (0, 1, or 2 depending on param/column counts)".
	stmtPrepareEOFsRemaining int

	// finished is set once the response for this command has been fully
	// classified; READ_QUERY_RESULT loops until this is true (or the
	// buffering threshold is hit).
	finished bool

	// multiResult is true once an OK/EOF carrying
	// SERVER_MORE_RESULTS_EXISTS returns the tracker to phaseInit for
	// another result set.
	multiResult bool
}

// reset prepares the tracker for a freshly read client command.
func (t *commandTracker) reset(command []byte) {
	*t = commandTracker{
		command: command,
	}
	if len(command) > 0 {
		t.opcode = command[0]
	}
}

// classifyResponse inspects one server response packet and advances the
// tracker, returning whether pkt is a LOAD DATA LOCAL INFILE request;
// whether the command's result is now complete is recorded in t.finished.
// Grounded on the teacher's drainMySQLResponse/mysqlPacketStatusFlags,
// generalized from "transaction boundary" detection to the full
// INIT/FIELD/RESULT/LOAD_DATA_END state graph §4.5 names.
func (t *commandTracker) classifyResponse(pkt []byte) (loadLocalInfile bool) {
	t.lastPacket = pkt

	// COM_BINLOG_DUMP never terminates with EOF; every packet is another
	// binlog event and the tracker reports "not finished" forever, per
	// §4.5 SEND_QUERY_RESULT's special case (the caller loops back to
	// READ_QUERY_RESULT directly rather than consulting the tracker).
	if t.opcode == wire.ComBinlogDump {
		t.finished = false
		return false
	}

	if len(pkt) == 0 {
		return false
	}
	first := pkt[0]

	switch t.phase {
	case phaseInit:
		switch {
		case t.opcode == wire.ComStmtPrepare && first == wire.HeaderOK:
			// COM_STMT_PREPARE_OK shares its leading 0x00 with a plain OK
			// packet but is shaped differently (statement_id/num_columns/
			// num_params rather than an affected-row count), so it must be
			// special-cased ahead of the generic HeaderOK branch below.
			eofs, err := stmtPrepareEOFCount(pkt)
			if err != nil {
				t.finished = true
				return false
			}
			t.stmtPrepareEOFsRemaining = eofs
			if eofs == 0 {
				t.finished = true
				return false
			}
			t.phase = phaseField
			return false
		case first == wire.HeaderOK:
			ok := &wire.OKPacket{}
			_ = ok.Decode(pkt)
			if ok.ServerStatus&wire.ServerMoreResultsExists != 0 {
				t.phase = phaseInit
				t.multiResult = true
				t.finished = false
			} else {
				t.finished = true
			}
			return false
		case first == wire.HeaderErr:
			t.finished = true
			return false
		case first == wire.HeaderLocalInfile:
			t.finished = true
			return true
		case first == wire.HeaderEOF && wire.LooksLikeEOF(pkt):
			// Illegal at this position per §4.5, but fail safe rather
			// than panicking: treat as finished.
			t.finished = true
			return false
		default:
			t.phase = phaseField
			return false
		}

	case phaseField:
		if wire.LooksLikeEOF(pkt) {
			eof := &wire.EOFPacket{}
			_ = eof.Decode(pkt)
			if t.opcode == wire.ComStmtPrepare {
				t.stmtPrepareEOFsRemaining--
				if t.stmtPrepareEOFsRemaining > 0 {
					return false
				}
				t.finished = true
				return false
			}
			if eof.ServerStatus&wire.ServerStatusCursorExists != 0 {
				t.finished = true
				return false
			}
			t.phase = phaseResult
			return false
		}
		return false

	case phaseResult:
		if wire.LooksLikeEOF(pkt) {
			eof := &wire.EOFPacket{}
			_ = eof.Decode(pkt)
			if eof.ServerStatus&wire.ServerMoreResultsExists != 0 {
				t.phase = phaseInit
				t.multiResult = true
				return false
			}
			t.finished = true
			return false
		}
		if first == wire.HeaderErr {
			t.finished = true
			return false
		}
		return false

	case phaseLoadDataEnd:
		// After the client's zero-length terminator, the server answers
		// with a single OK (or ERR); either finishes the command.
		t.finished = true
		return false
	}

	return false
}

// stmtPrepareEOFCount parses a COM_STMT_PREPARE_OK header (status byte,
// statement_id, num_columns, num_params, reserved byte, and an optional
// warning_count this core never reads) and reports how many trailing EOF
// packets follow: one after the parameter definitions if num_params>0, one
// after the column definitions if num_columns>0 — 0, 1, or 2 total, per
// §4.5/§6's COM_STMT_PREPARE reply shape.
func stmtPrepareEOFCount(pkt []byte) (int, error) {
	r := wire.NewPacketReader(pkt)
	if _, err := r.Uint8(); err != nil { // status, already known to be 0x00
		return 0, err
	}
	if _, err := r.Uint32(); err != nil { // statement_id
		return 0, err
	}
	numColumns, err := r.Uint16()
	if err != nil {
		return 0, err
	}
	numParams, err := r.Uint16()
	if err != nil {
		return 0, err
	}

	eofs := 0
	if numParams > 0 {
		eofs++
	}
	if numColumns > 0 {
		eofs++
	}
	return eofs, nil
}

// beginLoadDataEnd transitions the tracker to await the server's final
// OK/ERR after the client has sent its LOAD DATA LOCAL INFILE body.
func (t *commandTracker) beginLoadDataEnd() {
	t.phase = phaseLoadDataEnd
	t.finished = false
}
