// Package session implements the per-connection state machine: it owns a
// client Socket and, once attached, a server Socket, and drives both
// through the full handshake/auth/query lifecycle one Step at a time so
// a reactor can interleave many connections on a small number of
// goroutines without blocking on a single slow peer.
package session

import (
	"log/slog"
	"time"

	"github.com/mysqlbouncer/mysqlbouncer/internal/backend"
	"github.com/mysqlbouncer/mysqlbouncer/internal/config"
	"github.com/mysqlbouncer/mysqlbouncer/internal/idlecache"
	"github.com/mysqlbouncer/mysqlbouncer/internal/netio"
	"github.com/mysqlbouncer/mysqlbouncer/internal/policy"
	"github.com/mysqlbouncer/mysqlbouncer/internal/wire"
)

// State is a value from the §4.5 state enumeration.
type State int

const (
	StateInit State = iota
	StateConnectServer
	StateReadHandshake
	StateSendHandshake
	StateReadAuth
	StateSendAuth
	StateReadAuthResult
	StateSendAuthResult
	StateReadQuery
	StateSendQuery
	StateReadQueryResult
	StateSendQueryResult

	// Side path: old (pre-4.1) password continuation.
	StateReadAuthOldPassword
	StateSendAuthOldPassword

	// Side path: LOAD DATA LOCAL INFILE.
	StateReadLocalInfileData
	StateSendLocalInfileData
	StateReadLocalInfileResult
	StateSendLocalInfileResult

	StateSendError
	StateError
	StateCloseClient
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateConnectServer:
		return "CONNECT_SERVER"
	case StateReadHandshake:
		return "READ_HANDSHAKE"
	case StateSendHandshake:
		return "SEND_HANDSHAKE"
	case StateReadAuth:
		return "READ_AUTH"
	case StateSendAuth:
		return "SEND_AUTH"
	case StateReadAuthResult:
		return "READ_AUTH_RESULT"
	case StateSendAuthResult:
		return "SEND_AUTH_RESULT"
	case StateReadQuery:
		return "READ_QUERY"
	case StateSendQuery:
		return "SEND_QUERY"
	case StateReadQueryResult:
		return "READ_QUERY_RESULT"
	case StateSendQueryResult:
		return "SEND_QUERY_RESULT"
	case StateReadAuthOldPassword:
		return "READ_AUTH_OLD_PASSWORD"
	case StateSendAuthOldPassword:
		return "SEND_AUTH_OLD_PASSWORD"
	case StateReadLocalInfileData:
		return "READ_LOCAL_INFILE_DATA"
	case StateSendLocalInfileData:
		return "SEND_LOCAL_INFILE_DATA"
	case StateReadLocalInfileResult:
		return "READ_LOCAL_INFILE_RESULT"
	case StateSendLocalInfileResult:
		return "SEND_LOCAL_INFILE_RESULT"
	case StateSendError:
		return "SEND_ERROR"
	case StateError:
		return "ERROR"
	case StateCloseClient:
		return "CLOSE_CLIENT"
	default:
		return "UNKNOWN"
	}
}

// Deps bundles the shared collaborators every session needs: the backend
// registry to pick a server from, the idle cache to borrow/return
// connections through, the policy hook to consult, and pool defaults for
// timeouts and buffering thresholds. One Deps value is shared read-only
// across every concurrently running session.
type Deps struct {
	Registry *backend.Registry
	Cache    *idlecache.Cache
	Hook     policy.Hook
	Defaults config.PoolDefaults
}

// bufferThreshold is the client-bound byte count (§4.5 READ_QUERY_RESULT)
// above which the state machine flips to SEND_QUERY_RESULT even before a
// response finished arriving, so large result sets stream rather than
// buffer fully in memory.
const bufferThreshold = 64 * 1024

// Session is one client connection's state machine. It is owned by
// exactly one goroutine at a time (the worker driving its Step loop);
// nothing here is safe for concurrent use from two goroutines.
type Session struct {
	deps Deps

	Client *netio.Socket
	Server *netio.Socket

	State State

	backend *backend.Backend

	username string
	database string

	// idleEntry is set for the lifetime of CONNECT_SERVER through
	// READ_AUTH when Cache.Borrow supplied a connection whose original
	// handshake challenge was synthesized as this client's own handshake
	// (§4.5 CONNECT_SERVER's idle-reuse path). nil means the fresh-dial
	// path is in effect and Server came from a real backend handshake.
	idleEntry    *idlecache.Entry
	fromIdleAuth bool

	// authOK records whether the most recently completed auth phase (real
	// backend round-trip or synthesized idle-reuse check) succeeded, so
	// SEND_AUTH_RESULT knows whether to enter the query loop or close.
	authOK bool

	tracker commandTracker

	bufferResult bool
	resultBuf    [][]byte
	bufferedBytes int

	// exchangeSeq is the shared sequence counter for the current exchange
	// (the handshake/auth round trip, or one client command and its full
	// response), per §4.1's "each logical packet sequence restarts at 0
	// at the start of a new command." Both directions draw from this one
	// counter via queueToServer/queueToClient and flushResultBuf rather
	// than each Socket's own independent auto-increment, since the wire
	// protocol numbers a whole exchange, not one stream per direction.
	exchangeSeq byte

	injectQueue [][]byte

	// forceSeqZero overrides the shared exchange counter for the next
	// sendError flush, used by sendProtocolMismatch: §4.5 READ_AUTH and §7
	// require the pre-4.1 refusal ERR at sequence id 0 even though the
	// handshake already consumed seq 0 of the exchange the counter is
	// tracking.
	forceSeqZero bool

	lastErr error

	// phaseDeadline bounds however many WaitForEvent retries the current
	// state may take, armed fresh on first entry to a state and checked
	// each time Step would otherwise return "still waiting". Which
	// duration applies is phase-specific per §4.5's Timeouts paragraph:
	// connect timeout for CONNECT_SERVER, write timeout on any send,
	// read timeout otherwise.
	phaseDeadline time.Time
	phaseArmed    bool
}

// armPhase sets phaseDeadline to now+d the first time a state is entered,
// and leaves it alone on subsequent re-entries from the same state so a
// slow peer trickling data in under pollTimeout increments doesn't reset
// the overall phase budget.
func (s *Session) armPhase(d time.Duration) {
	if !s.phaseArmed {
		s.phaseDeadline = time.Now().Add(d)
		s.phaseArmed = true
	}
}

// disarmPhase clears the phase timer, called whenever a state completes
// and the machine is about to move to a different state.
func (s *Session) disarmPhase() {
	s.phaseArmed = false
}

// phaseExpired reports whether the current phase's deadline has passed.
func (s *Session) phaseExpired() bool {
	return s.phaseArmed && time.Now().After(s.phaseDeadline)
}

// resetExchange restarts the shared sequence counter, called once at
// CONNECT_SERVER (the handshake/auth exchange begins) and once at the
// top of each READ_QUERY (a new command's exchange begins).
func (s *Session) resetExchange() {
	s.exchangeSeq = 0
}

// queueToServer frames payload for the backend-facing socket using the
// next id in the shared exchange counter.
func (s *Session) queueToServer(payload []byte) {
	s.Server.SetSeq(s.exchangeSeq)
	s.Server.QueueSend(payload)
	s.exchangeSeq++
}

// queueToClient frames payload for the client-facing socket using the
// next id in the shared exchange counter.
func (s *Session) queueToClient(payload []byte) {
	s.Client.SetSeq(s.exchangeSeq)
	s.Client.QueueSend(payload)
	s.exchangeSeq++
}

// New constructs a session in StateInit for a freshly accepted client
// connection.
func New(client *netio.Socket, deps Deps) *Session {
	return &Session{
		deps:   deps,
		Client: client,
		State:  StateInit,
	}
}

// ctx adapts *Session to policy.Context, the narrow view hooks are
// allowed to read and mutate.
type ctx struct{ s *Session }

func (c ctx) Username() string { return c.s.username }
func (c ctx) Database() string { return c.s.database }
func (c ctx) Command() []byte  { return c.s.tracker.command }
func (c ctx) Result() []byte   { return c.s.tracker.lastPacket }
func (c ctx) Inject(payload []byte) {
	c.s.injectQueue = append(c.s.injectQueue, payload)
}
func (c ctx) SetResult(payloads ...[]byte) {
	c.s.resultBuf = append(c.s.resultBuf[:0], payloads...)
}
func (c ctx) RequireBuffering() { c.s.bufferResult = true }

// Step runs the state machine until it would block on I/O (a Socket step
// reports netio.WaitForEvent) or reaches a terminal state. It returns
// true while the session is still live and should be driven again once
// its socket(s) become ready; false once the connection is fully closed.
func (s *Session) Step() bool {
	for {
		switch s.State {
		case StateInit:
			s.State = StateConnectServer

		case StateConnectServer:
			if !s.stepConnectServer() {
				return s.blockedOrDone()
			}

		case StateReadHandshake:
			if !s.stepReadHandshake() {
				return s.blockedOrDone()
			}

		case StateSendHandshake:
			if !s.stepSendHandshake() {
				return s.blockedOrDone()
			}

		case StateReadAuth:
			if !s.stepReadAuth() {
				return s.blockedOrDone()
			}

		case StateSendAuth:
			if !s.stepSendAuth() {
				return s.blockedOrDone()
			}

		case StateReadAuthResult:
			if !s.stepReadAuthResult() {
				return s.blockedOrDone()
			}

		case StateSendAuthResult:
			if !s.stepSendAuthResult() {
				return s.blockedOrDone()
			}

		case StateReadQuery:
			if !s.stepReadQuery() {
				return s.blockedOrDone()
			}

		case StateSendQuery:
			if !s.stepSendQuery() {
				return s.blockedOrDone()
			}

		case StateReadQueryResult:
			if !s.stepReadQueryResult() {
				return s.blockedOrDone()
			}

		case StateSendQueryResult:
			if !s.stepSendQueryResult() {
				return s.blockedOrDone()
			}

		case StateReadLocalInfileData:
			if !s.stepReadLocalInfileData() {
				return s.blockedOrDone()
			}

		case StateSendLocalInfileData:
			if !s.stepSendLocalInfileData() {
				return s.blockedOrDone()
			}

		case StateReadLocalInfileResult:
			if !s.stepReadLocalInfileResult() {
				return s.blockedOrDone()
			}

		case StateSendLocalInfileResult:
			if !s.stepSendLocalInfileResult() {
				return s.blockedOrDone()
			}

		case StateSendError:
			s.sendError()
			s.State = StateError

		case StateError, StateCloseClient:
			return s.finishIfTerminal()

		default:
			slog.Error("session: unknown state", "state", int(s.State))
			s.State = StateError
		}
	}
}

// blockedOrDone is called when a per-state step function returns false:
// either a socket reported WaitForEvent (still live, try again later) or
// the state transitioned to a terminal state.
func (s *Session) blockedOrDone() bool {
	if s.State == StateError || s.State == StateCloseClient {
		return s.finishIfTerminal()
	}
	if s.phaseExpired() {
		s.handleTimeout()
		return s.Step()
	}
	return true
}

// finishIfTerminal performs terminal-state cleanup exactly once and
// reports the session as no longer live.
func (s *Session) finishIfTerminal() bool {
	s.deps.Hook.OnDisconnectClient(ctx{s})

	if s.State == StateCloseClient && s.Server != nil && s.serverIsAuthenticatedIdle() {
		e := s.deps.Cache.Add(s.backend.Addr, s.username, s.Server.Conn())
		e.Challenge = s.Client.LastChallenge
		e.Scramble = s.Client.LastAuthResponse
	} else if s.Server != nil {
		s.Server.Close()
	}
	if s.backend != nil {
		s.backend.DecClients()
	}
	s.Client.Close()
	return false
}

// serverIsAuthenticatedIdle reports whether Server holds a fully
// authenticated, idle backend connection eligible for pooling — i.e. the
// session reached CLOSE_CLIENT via a clean COM_QUIT rather than a
// mid-command error.
func (s *Session) serverIsAuthenticatedIdle() bool {
	return s.State == StateCloseClient && s.username != "" && s.tracker.opcode == wire.ComQuit
}

// sendError queues whatever ERR packet stepConnectServer/stepReadAuth/etc
// already prepared in resultBuf (SEND_ERROR just flushes it), or a
// generic one if none was set.
func (s *Session) sendError() {
	if len(s.resultBuf) == 0 {
		e := &wire.ErrPacket{Code: 2013, SQLState: "HY000", Message: "internal proxy error"}
		w := wire.NewPacketWriter(16)
		e.Encode(w)
		s.resultBuf = [][]byte{w.Bytes()}
	}
	if s.forceSeqZero {
		seq := byte(0)
		for _, p := range s.resultBuf {
			s.Client.SetSeq(seq)
			s.Client.QueueSend(p)
			seq++
		}
		s.forceSeqZero = false
	} else {
		for _, p := range s.resultBuf {
			s.queueToClient(p)
		}
	}
	s.resultBuf = nil
	// Best-effort flush: a handful of bounded WriteStep attempts, not an
	// unbounded block, since the socket is being torn down regardless.
	for i := 0; i < 5 && s.Client.WriteStep() == netio.WaitForEvent; i++ {
	}
}
