package session

import "github.com/mysqlbouncer/mysqlbouncer/internal/netio"

// stepSendLocalInfileData flushes the server's LOCAL INFILE request packet
// (queued onto resultBuf by stepReadQueryResult when it classified a
// HeaderLocalInfile response) to the client, per §4.5's LOAD DATA LOCAL
// INFILE side path.
func (s *Session) stepSendLocalInfileData() bool {
	s.armPhase(s.deps.Defaults.WriteTimeout)
	return s.flushResultBuf(StateReadLocalInfileData)
}

// stepReadLocalInfileData relays the client's file-content packets to the
// backend one at a time as they arrive, continuing the same exchange
// numbering the LOCAL INFILE request packet started. A zero-length packet
// is the client's terminator: forward it too, arm the tracker to expect
// the server's single closing OK/ERR, and move on to READ_LOCAL_INFILE_RESULT.
func (s *Session) stepReadLocalInfileData() bool {
	s.armPhase(s.deps.Defaults.ReadTimeout)

	for {
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

		s.queueToServer(payload)
		for s.Server.Send.Len() > 0 {
			switch s.Server.WriteStep() {
			case netio.Err:
				s.disarmPhase()
				s.backendFailed()
				return true
			case netio.WaitForEvent:
				return false
			}
		}

		if len(payload) == 0 {
			s.disarmPhase()
			s.tracker.beginLoadDataEnd()
			s.State = StateReadLocalInfileResult
			return true
		}
	}
}

// stepReadLocalInfileResult reads the server's single closing OK/ERR for
// the LOAD DATA LOCAL INFILE command.
func (s *Session) stepReadLocalInfileResult() bool {
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

	s.tracker.classifyResponse(payload)
	s.resultBuf = [][]byte{payload}
	s.State = StateSendLocalInfileResult
	return true
}

// stepSendLocalInfileResult flushes the closing OK/ERR to the client and
// returns to the command loop.
func (s *Session) stepSendLocalInfileResult() bool {
	s.armPhase(s.deps.Defaults.WriteTimeout)
	return s.flushResultBuf(StateReadQuery)
}
