// Package policy implements the interception points a connection's state
// machine (internal/session) calls into at fixed points, replacing the
// Lua scripting engine of the original MySQL Proxy with a single Go
// interface.
package policy

// Decision is what a Hook method returns at each call point.
type Decision int

const (
	// NoDecision proceeds with the core's default behavior.
	NoDecision Decision = iota
	// SendResult means the hook already wrote a response into the
	// client's send queue; the state machine transitions straight to
	// sending it instead of consulting the backend.
	SendResult
	// SendQuery means the hook queued one or more synthetic queries
	// (via Context.Inject, called by the hook before returning) that
	// must be popped and sent before resuming normal flow.
	SendQuery
	// IgnoreResult drops the backend's result silently. Only valid when
	// returned from OnReadQueryResult.
	IgnoreResult
)

// Hook is the fixed set of interception points §6 names. Implementations
// must be safe for concurrent use only insofar as a single Session ever
// calls into a single Hook value from one goroutine at a time; a Hook
// shared across sessions must serialize its own state.
type Hook interface {
	OnInit(s Context) Decision
	OnConnectServer(s Context) Decision
	OnReadHandshake(s Context) Decision
	OnReadAuth(s Context) Decision
	OnReadAuthResult(s Context) Decision
	OnReadQuery(s Context) Decision
	OnReadQueryResult(s Context) Decision
	OnDisconnectClient(s Context)
	OnTimeout(s Context) Decision
}

// Context is the subset of session state a Hook is allowed to read or
// mutate: the raw command/result bytes in flight and the injection
// queue. internal/session implements this with its *Session type so
// hooks never import internal/session (which would create an import
// cycle) and cannot reach into unrelated connection internals.
type Context interface {
	// Username is the client's authenticated (or authenticating) username.
	Username() string
	// Database is the currently selected default database, if any.
	Database() string
	// Command is the raw COM_* packet currently being processed, valid
	// inside OnReadQuery only.
	Command() []byte
	// Result is the raw response packet currently being processed,
	// valid inside OnReadQueryResult only.
	Result() []byte
	// Inject appends a synthetic COM_QUERY payload to the session's
	// injection queue. When OnReadQuery returns SendQuery, the queued
	// payloads are sent instead of the original command (a hook that
	// still wants the original sent injects it as well, after its own);
	// otherwise the original is forwarded first and the queued payloads
	// follow it, one after each flushed result.
	Inject(payload []byte)
	// SetResult writes one or more raw response packet payloads directly
	// into the client's send queue, in order, for use alongside
	// SendResult. A hand-built result set (column count, field
	// definitions, EOF, rows, terminating EOF/OK) is expressed as
	// multiple payloads in a single call.
	SetResult(payloads ...[]byte)
	// RequireBuffering marks the in-flight result set as needing to be
	// fully buffered before it is released to the client, rather than
	// streamed packet-by-packet.
	RequireBuffering()
}

// NoOpHook is a no-op Hook: every call point returns NoDecision, matching
// an unconfigured MySQL Proxy with no Lua scripts attached.
type NoOpHook struct{}

func (NoOpHook) OnInit(Context) Decision            { return NoDecision }
func (NoOpHook) OnConnectServer(Context) Decision   { return NoDecision }
func (NoOpHook) OnReadHandshake(Context) Decision   { return NoDecision }
func (NoOpHook) OnReadAuth(Context) Decision        { return NoDecision }
func (NoOpHook) OnReadAuthResult(Context) Decision  { return NoDecision }
func (NoOpHook) OnReadQuery(Context) Decision       { return NoDecision }
func (NoOpHook) OnReadQueryResult(Context) Decision { return NoDecision }
func (NoOpHook) OnDisconnectClient(Context)         {}
func (NoOpHook) OnTimeout(Context) Decision          { return NoDecision }

var _ Hook = NoOpHook{}

// RefuseWindowsAuth is the fixed policy decision for the
// authentication_windows_client plugin continuation: refuse rather than
// relay the 2-packet LDAP-style exchange. internal/session consults this
// constant directly in its READ_AUTH handler rather than through a Hook
// call point, since the spec treats it as a build-time default rather
// than a per-query decision.
const RefuseWindowsAuth = true
