package session

import (
	"github.com/mysqlbouncer/mysqlbouncer/internal/netio"
	"github.com/mysqlbouncer/mysqlbouncer/internal/policy"
	"github.com/mysqlbouncer/mysqlbouncer/internal/wire"
)

// stepReadQuery reads the client's next command packet, resets the
// per-command tracker, and lets the policy hook veto or rewrite it before
// it is forwarded. Grounded on proxy.MySQLHandler.Handle's read loop,
// generalized from COM_QUERY-only to every command the tracker classifies.
func (s *Session) stepReadQuery() bool {
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

	s.tracker.reset(payload)
	s.bufferResult = false
	s.resultBuf = nil
	s.resetExchange()

	d := s.deps.Hook.OnReadQuery(ctx{s})
	if d == policy.SendResult {
		s.State = StateSendQueryResult
		return true
	}
	if d == policy.SendQuery && len(s.injectQueue) > 0 {
		injected := s.injectQueue[0]
		s.injectQueue = s.injectQueue[1:]
		s.tracker.reset(injected)
		s.queueToServer(injected)
		s.State = StateSendQuery
		return true
	}

	s.queueToServer(payload)
	s.State = StateSendQuery
	return true
}

// stepSendQuery forwards the client's command to the backend, or the
// next entry in the injection queue if one was queued by a hook's
// ctx.Inject, per §4.5 SEND_QUERY_RESULT's injection-replay note.
func (s *Session) stepSendQuery() bool {
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

	if s.tracker.opcode == wire.ComQuit {
		s.State = StateCloseClient
		return true
	}
	s.State = StateReadQueryResult
	return true
}

// stepReadQueryResult reads one server response packet at a time,
// classifying it with commandTracker and looping internally until the
// command's result is fully read, the buffering threshold is crossed
// (not applied once a hook has called RequireBuffering), or a LOAD DATA
// LOCAL INFILE request diverts to the side path.
func (s *Session) stepReadQueryResult() bool {
	s.armPhase(s.deps.Defaults.ReadTimeout)

	for {
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

		loadLocalInfile := s.tracker.classifyResponse(payload)
		s.resultBuf = append(s.resultBuf, payload)
		s.bufferedBytes += len(payload)

		if loadLocalInfile {
			s.disarmPhase()
			s.State = StateSendLocalInfileData
			return true
		}

		// COM_BINLOG_DUMP never finishes; every event is streamed to the
		// client as soon as it arrives rather than buffered up.
		if s.tracker.opcode == wire.ComBinlogDump {
			s.disarmPhase()
			s.State = StateSendQueryResult
			return true
		}

		if s.tracker.finished || (!s.bufferResult && s.bufferedBytes > bufferThreshold) {
			s.disarmPhase()
			s.State = StateSendQueryResult
			return true
		}
		// Not finished yet and under threshold: loop for more packets
		// within this same Step call rather than yielding, since the
		// server is actively streaming a multi-packet result.
	}
}

// stepSendQueryResult flushes whatever stepReadQueryResult accumulated to
// the client. A hook's OnReadQueryResult may substitute (SendResult) or
// suppress (IgnoreResult) the buffered response before it is consulted
// here. After flushing, an injected query (ctx.Inject) takes priority over
// returning to READ_QUERY, per §4.5's injection-replay note; a still
// in-flight multi-packet result (not tracker.finished, flushed early at
// the buffering threshold) loops back to READ_QUERY_RESULT instead of
// READ_QUERY.
func (s *Session) stepSendQueryResult() bool {
	s.armPhase(s.deps.Defaults.WriteTimeout)

	if d := s.deps.Hook.OnReadQueryResult(ctx{s}); d == policy.IgnoreResult {
		s.resultBuf = nil
	}

	next := s.afterQueryResultState()
	if !s.flushResultBuf(next) {
		return false
	}
	s.bufferedBytes = 0

	if s.State == StateReadQuery && len(s.injectQueue) > 0 {
		injected := s.injectQueue[0]
		s.injectQueue = s.injectQueue[1:]
		s.tracker.reset(injected)
		s.resetExchange()
		s.queueToServer(injected)
		s.State = StateSendQuery
	}
	return true
}

// afterQueryResultState decides where SEND_QUERY_RESULT goes next:
// COM_BINLOG_DUMP always loops back to wait for the next event; an
// unfinished buffered-above-threshold result loops back to read more;
// anything else returns to READ_QUERY for the client's next command.
func (s *Session) afterQueryResultState() State {
	if s.tracker.opcode == wire.ComBinlogDump {
		return StateReadQueryResult
	}
	if !s.tracker.finished {
		return StateReadQueryResult
	}
	return StateReadQuery
}
