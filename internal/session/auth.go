package session

import (
	"crypto/rand"
	"log/slog"

	"github.com/mysqlbouncer/mysqlbouncer/internal/netio"
	"github.com/mysqlbouncer/mysqlbouncer/internal/policy"
	"github.com/mysqlbouncer/mysqlbouncer/internal/wire"
)

// serverVersion is what a synthesized idle-reuse handshake advertises,
// since no live backend greeting exists to pass through on that path.
const serverVersion = "5.7.0-mysqlbouncer"

// protocolMismatchCode/Message are the fixed ERR this core sends a client
// that never negotiated CLIENT_PROTOCOL_41, per §6/§7.
const (
	protocolMismatchCode    = 0x07D7
	protocolMismatchMessage = "4.0 protocol is not supported"
)

// windowsAuthPlugin is refused outright per §9's open-question decision,
// carried as policy.RefuseWindowsAuth.
const windowsAuthPlugin = "authentication_windows_client"

// stepConnectServer selects and dials a backend, retrying a different one
// on failure until the registry is exhausted. Grounded on
// proxy.TenantPool.dial/Acquire's retry discipline, generalized to the
// explicit backend-registry failover §4.5 CONNECT_SERVER describes.
func (s *Session) stepConnectServer() bool {
	s.armPhase(s.deps.Defaults.ConnectTimeout)

	if d := s.deps.Hook.OnConnectServer(ctx{s}); d == policy.SendResult {
		s.disarmPhase()
		s.State = StateSendError
		return true
	}

	tried := make(map[string]bool)
	for {
		b, ok := s.deps.Registry.SelectWritable()
		if !ok || tried[b.Addr] {
			s.disarmPhase()
			s.sendAllBackendsDown()
			return true
		}
		tried[b.Addr] = true

		if entry, found := s.deps.Cache.Borrow(b.Addr); found {
			b.IncClients()
			s.backend = b
			s.idleEntry = entry
			s.resetExchange()

			hs := synthesizeHandshake(entry.Challenge)
			s.Client.LastChallenge = hs.AuthPluginData
			s.resultBuf = [][]byte{encodeHandshake(hs)}

			s.disarmPhase()
			s.State = StateSendHandshake
			return true
		}

		srv, err := netio.Dial(b.Addr)
		if err != nil {
			slog.Warn("session: backend dial failed", "backend", b.Addr, "err", err)
			b.MarkDown()
			continue
		}
		b.IncClients()
		s.backend = b
		s.idleEntry = nil
		s.Server = srv
		s.resetExchange()
		s.disarmPhase()
		s.State = StateReadHandshake
		return true
	}
}

// synthesizeHandshake builds a Protocol::HandshakeV10 around challenge (or
// a fresh random one if the borrowed entry never recorded one), so a new
// client computes its scramble against the exact salt the borrowed
// connection's real backend originally issued.
func synthesizeHandshake(challenge []byte) *wire.HandshakeV10 {
	if len(challenge) == 0 {
		challenge = randomChallenge()
	}
	return &wire.HandshakeV10{
		ServerVersion:  serverVersion,
		ConnectionID:   1,
		AuthPluginData: challenge,
		Capabilities:   wire.CoreCapabilities | wire.ClientPluginAuth | wire.ClientConnectWithDB,
		Charset:        0x21,
		StatusFlags:    wire.ServerStatusAutocommit,
		AuthPluginName: "mysql_native_password",
	}
}

func randomChallenge() []byte {
	b := make([]byte, 20)
	_, _ = rand.Read(b)
	for i := range b {
		if b[i] == 0 {
			b[i] = 1
		}
	}
	return b
}

// sendAllBackendsDown queues the pre-4.1-framed ERR §4.5 CONNECT_SERVER
// requires when every backend has been tried and failed: no '#'/sqlstate
// marker, matching a pre-CLIENT_PROTOCOL_41 peer's expectations since the
// client hasn't negotiated anything with this core yet.
func (s *Session) sendAllBackendsDown() {
	const msg = "all backends are down"
	w := wire.NewPacketWriter(len(msg) + 3)
	w.WriteUint8(wire.HeaderErr)
	w.WriteUint16(2003)
	w.WriteBytes([]byte(msg))
	s.resultBuf = [][]byte{w.Bytes()}
	s.State = StateSendError
}

// stepReadHandshake reads the real backend's Protocol::HandshakeV10,
// masking capability bits this core does not implement before the
// handshake is ever forwarded, per §4.5. The backend's challenge is
// stashed on the client socket so it travels forward to SEND_HANDSHAKE
// and, on eventual idle-cache insertion, into the cached Entry.
func (s *Session) stepReadHandshake() bool {
	s.armPhase(s.deps.Defaults.ReadTimeout)

	switch s.Server.ReadStep() {
	case netio.Err:
		s.disarmPhase()
		s.backendFailed()
		return true
	case netio.WaitForEvent:
		return false
	}

	payload, ok := s.Server.NextFrame()
	if !ok {
		return false
	}

	hs := &wire.HandshakeV10{}
	if err := hs.Decode(payload); err != nil {
		s.disarmPhase()
		s.sendGenericError("invalid handshake from backend")
		return true
	}

	hs.Capabilities = wire.MaskUnsupported(hs.Capabilities)
	s.Client.LastChallenge = append([]byte{}, hs.AuthPluginData...)
	s.resultBuf = [][]byte{encodeHandshake(hs)}

	s.disarmPhase()
	s.State = StateSendHandshake
	return true
}

// stepSendHandshake flushes the (possibly synthesized) handshake queued
// in resultBuf to the client.
func (s *Session) stepSendHandshake() bool {
	s.armPhase(s.deps.Defaults.WriteTimeout)
	return s.flushResultBuf(StateReadAuth)
}

// flushResultBuf queues every payload in resultBuf onto the client's send
// queue, each stamped with the next id from the shared exchange counter,
// and drives WriteStep until the queue drains, then transitions to next.
// Shared by every SEND_* state that hands the client a core-built packet
// set rather than a relayed one.
func (s *Session) flushResultBuf(next State) bool {
	if len(s.resultBuf) > 0 {
		for _, p := range s.resultBuf {
			s.queueToClient(p)
		}
		s.resultBuf = nil
	}
	for {
		switch s.Client.WriteStep() {
		case netio.Err:
			s.disarmPhase()
			s.State = StateCloseClient
			return true
		case netio.WaitForEvent:
			return false
		}
		if s.Client.Send.Len() == 0 {
			s.disarmPhase()
			s.State = next
			return true
		}
	}
}

func encodeHandshake(hs *wire.HandshakeV10) []byte {
	w := wire.NewPacketWriter(128)
	hs.Encode(w)
	return w.Bytes()
}

// stepReadAuth reads the client's HandshakeResponse41, enforces the
// protocol-41/Windows-auth refusals, and either short-circuits via an
// idle-cache identity match or forwards the client's auth packet toward
// the backend. Grounded on proxy.readHandshakeResponse, generalized with
// the idle-reuse verification §4.5 describes.
func (s *Session) stepReadAuth() bool {
	s.armPhase(s.deps.Defaults.ReadTimeout)

	switch s.Client.ReadStep() {
	case netio.Err:
		s.disarmPhase()
		s.State = StateCloseClient
		return true
	case netio.WaitForEvent:
		return false
	}

	payload, ok := s.Client.NextFrame()
	if !ok {
		return false
	}
	s.disarmPhase()

	caps := peekCapabilities(payload)
	if caps&wire.ClientProtocol41 == 0 {
		s.sendProtocolMismatch()
		return true
	}

	auth := &wire.AuthResponse41{}
	if err := auth.Decode(payload); err != nil {
		s.sendGenericError("malformed auth response")
		return true
	}

	if auth.AuthPluginName == windowsAuthPlugin && policy.RefuseWindowsAuth {
		s.sendAuthError("authentication_windows_client is not supported")
		return true
	}

	s.username = auth.Username
	s.database = auth.Database
	s.Client.PeerCapabilities = auth.Capabilities
	s.Client.LastAuthResponse = auth.AuthResponse
	s.Client.DefaultDB = auth.Database

	if d := s.deps.Hook.OnReadAuth(ctx{s}); d == policy.SendResult {
		s.authOK = true
		s.State = StateSendAuthResult
		return true
	}

	if s.idleEntry != nil {
		s.authViaIdleEntry(auth)
		return true
	}

	// Fresh-dial path: forward the client's own auth packet to the
	// backend verbatim, since it was computed against that backend's real
	// challenge (passed through untouched in stepReadHandshake).
	s.queueToServer(rebuildAuthPayload(auth))
	s.State = StateSendAuth
	return true
}

// peekCapabilities reads the leading capability word without a full
// decode, so CLIENT_PROTOCOL_41 can be checked before committing to the
// 4.1-shaped AuthResponse41 decoder.
func peekCapabilities(payload []byte) uint32 {
	r := wire.NewPacketReader(payload)
	v, err := r.Uint32()
	if err != nil {
		return 0
	}
	return v
}

func rebuildAuthPayload(a *wire.AuthResponse41) []byte {
	w := wire.NewPacketWriter(64 + len(a.Username) + len(a.AuthResponse))
	a.Encode(w)
	return w.Bytes()
}

// authViaIdleEntry decides how to attach the borrowed idle connection for
// a client whose handshake challenge was synthesized from it. If the
// client's username and scramble match the entry's cached identity
// exactly, the connection is already authenticated as that exact user and
// a synthetic OK is enough. Otherwise the borrowed connection is
// re-authenticated in place with COM_CHANGE_USER: valid regardless of
// which username originally owned it, because the client's scramble was
// computed against this connection's own original handshake
// challenge — exactly what COM_CHANGE_USER's classic-protocol scramble
// requires. Either way the backend round trip (or its absence) flows
// through the ordinary SEND_AUTH/READ_AUTH_RESULT states.
func (s *Session) authViaIdleEntry(auth *wire.AuthResponse41) {
	entry := s.idleEntry
	s.Server = netio.NewSocket(entry.Conn)
	s.Server.DefaultDB = s.database
	s.fromIdleAuth = true

	// The client's own auth-response packet occupies a slot in the
	// client-facing exchange numbering (handshake=0, this packet=1) even
	// though, unlike the fresh-dial path, it is never relayed onward
	// verbatim — so the slot must be accounted for by hand here instead
	// of by a queueToServer/queueToClient call consuming it.
	s.exchangeSeq++

	if auth.Username == entry.Username && scrambleEqual(auth.AuthResponse, entry.Scramble) {
		ok := &wire.OKPacket{ServerStatus: wire.ServerStatusAutocommit}
		w := wire.NewPacketWriter(8)
		ok.Encode(w)
		s.resultBuf = [][]byte{w.Bytes()}
		s.authOK = true
		s.State = StateSendAuthResult
		return
	}

	// COM_CHANGE_USER is a brand new command on the borrowed connection's
	// own wire, independent of the client-facing synthesized handshake
	// numbering: the backend expects it at seq 0 regardless of how many
	// packets the proxy has exchanged with the client so far.
	s.Server.ResetSeq()
	s.Server.QueueSend(changeUserPayload(auth))
	s.State = StateSendAuth
}

// changeUserPayload builds a COM_CHANGE_USER packet re-authenticating a
// borrowed connection as auth's username/scramble/database.
func changeUserPayload(a *wire.AuthResponse41) []byte {
	w := wire.NewPacketWriter(32 + len(a.Username) + len(a.AuthResponse) + len(a.Database))
	w.WriteUint8(wire.ComChangeUser)
	w.WriteCString(a.Username)
	w.WriteUint8(uint64(len(a.AuthResponse)))
	w.WriteBytes(a.AuthResponse)
	w.WriteCString(a.Database)
	return w.Bytes()
}

func scrambleEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// stepSendAuth forwards the queued auth packet to the backend.
func (s *Session) stepSendAuth() bool {
	s.armPhase(s.deps.Defaults.WriteTimeout)
	switch s.Server.WriteStep() {
	case netio.Err:
		s.disarmPhase()
		s.backendFailed()
		return true
	case netio.WaitForEvent:
		return false
	}
	if s.Server.Send.Len() > 0 {
		return false
	}
	s.disarmPhase()
	s.State = StateReadAuthResult
	return true
}

// stepReadAuthResult reads the backend's OK/ERR to the forwarded auth
// attempt and queues it for the client.
func (s *Session) stepReadAuthResult() bool {
	s.armPhase(s.deps.Defaults.ReadTimeout)
	switch s.Server.ReadStep() {
	case netio.Err:
		s.disarmPhase()
		s.backendFailed()
		return true
	case netio.WaitForEvent:
		return false
	}
	payload, ok := s.Server.NextFrame()
	if !ok {
		return false
	}
	s.disarmPhase()

	s.authOK = len(payload) > 0 && payload[0] == wire.HeaderOK

	if d := s.deps.Hook.OnReadAuthResult(ctx{s}); d == policy.SendResult {
		s.State = StateSendAuthResult
		return true
	}

	s.resultBuf = [][]byte{payload}
	s.State = StateSendAuthResult
	return true
}

// stepSendAuthResult flushes the auth result to the client. A successful
// result enters the query loop; a failed one closes the connection right
// after the client has seen the ERR, matching §4.5's "on auth failure,
// the client connection is closed after the error is delivered".
func (s *Session) stepSendAuthResult() bool {
	s.armPhase(s.deps.Defaults.WriteTimeout)
	if !s.flushResultBuf(StateReadQuery) {
		return false
	}
	if s.State == StateReadQuery && !s.authOK {
		s.State = StateCloseClient
	}
	return true
}

// sendProtocolMismatch queues the pre-4.1-framed 4.0-refusal ERR at
// sequence id 0: the client never negotiated CLIENT_PROTOCOL_41, so it
// cannot parse a '#'/sqlstate marker, and §4.5 READ_AUTH/§7 both require
// packet id 0 for this reply regardless of the handshake already having
// consumed seq 0 of the shared exchange counter.
func (s *Session) sendProtocolMismatch() {
	w := wire.NewPacketWriter(len(protocolMismatchMessage) + 3)
	w.WriteUint8(wire.HeaderErr)
	w.WriteUint16(protocolMismatchCode)
	w.WriteBytes([]byte(protocolMismatchMessage))
	s.resultBuf = [][]byte{w.Bytes()}
	s.forceSeqZero = true
	s.State = StateSendError
}

func (s *Session) sendAuthError(msg string) {
	w := wire.NewPacketWriter(32 + len(msg))
	e := &wire.ErrPacket{Code: 1045, SQLState: "28000", Message: msg}
	e.Encode(w)
	s.resultBuf = [][]byte{w.Bytes()}
	s.State = StateSendError
}

func (s *Session) sendGenericError(msg string) {
	w := wire.NewPacketWriter(32 + len(msg))
	e := &wire.ErrPacket{Code: 2013, SQLState: "HY000", Message: msg}
	e.Encode(w)
	s.resultBuf = [][]byte{w.Bytes()}
	s.State = StateSendError
}

// backendFailed marks the current backend Down, releases the server
// socket, and re-enters CONNECT_SERVER to try another backend, per
// §4.5's CONNECT_SERVER/timeout failure handling.
func (s *Session) backendFailed() {
	if s.backend != nil {
		s.backend.MarkDown()
		s.backend.DecClients()
	}
	if s.Server != nil {
		s.Server.Close()
		s.Server = nil
	}
	s.idleEntry = nil
	s.State = StateConnectServer
}

// handleTimeout is invoked by blockedOrDone when the current phase's
// deadline has passed without the state completing. Per §4.5's Timeouts
// note, a read/write/connect timeout during the handshake/auth phases
// fails the backend and retries; during the query phase it fails the
// whole session, since a client mid-query has no safe retry point.
func (s *Session) handleTimeout() {
	if d := s.deps.Hook.OnTimeout(ctx{s}); d == policy.SendResult {
		s.State = StateSendError
		return
	}

	switch s.State {
	case StateConnectServer, StateReadHandshake, StateSendHandshake,
		StateReadAuth, StateSendAuth, StateReadAuthResult, StateSendAuthResult:
		s.backendFailed()
	default:
		s.sendGenericError("timed out waiting for a response")
	}
}
