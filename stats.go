package socket

import "sync/atomic"

// Stats is a snapshot of server-wide counters.
type Stats struct {
	Accepted    uint64 // connections registered since Start
	Removed     uint64 // connections torn down since Start
	MessagesIn  uint64 // messages framed from client streams
	MessagesOut uint64 // messages fully written to clients
	BytesIn     uint64
	BytesOut    uint64
	// Dropped counts queued messages discarded on teardown or rejected by
	// the codec at write time.
	Dropped uint64
}

type stats struct {
	accepted    atomic.Uint64
	removed     atomic.Uint64
	messagesIn  atomic.Uint64
	messagesOut atomic.Uint64
	bytesIn     atomic.Uint64
	bytesOut    atomic.Uint64
	dropped     atomic.Uint64
}

func (s *stats) snapshot() Stats {
	return Stats{
		Accepted:    s.accepted.Load(),
		Removed:     s.removed.Load(),
		MessagesIn:  s.messagesIn.Load(),
		MessagesOut: s.messagesOut.Load(),
		BytesIn:     s.bytesIn.Load(),
		BytesOut:    s.bytesOut.Load(),
		Dropped:     s.dropped.Load(),
	}
}
