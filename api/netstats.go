package api

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc/stats"
)

// NetStats tallies the wire traffic of a protocol run. Message counts make
// it easy to check that a run used exactly the expected number of
// exchanges for its mode.
type NetStats struct {
	BytesSent, BytesRecv uint64
	MsgsSent, MsgsRecv   uint64
}

func (s NetStats) String() string {
	return fmt.Sprintf("sent: %s in %d msgs, received: %s in %d msgs",
		byteCountSI(s.BytesSent), s.MsgsSent, byteCountSI(s.BytesRecv), s.MsgsRecv)
}

type statsHandler struct {
	mu sync.Mutex
	ns NetStats
}

// NewStatsHandler returns a grpc stats handler that counts payload bytes
// and messages in both directions.
func NewStatsHandler() *statsHandler {
	return new(statsHandler)
}

func (s *statsHandler) TagRPC(ctx context.Context, _ *stats.RPCTagInfo) context.Context {
	return ctx
}

func (s *statsHandler) HandleRPC(ctx context.Context, sta stats.RPCStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch sta := sta.(type) {
	case *stats.InPayload:
		s.ns.BytesRecv += uint64(sta.WireLength)
		s.ns.MsgsRecv++
	case *stats.OutPayload:
		s.ns.BytesSent += uint64(sta.WireLength)
		s.ns.MsgsSent++
	}
}

func (s *statsHandler) TagConn(ctx context.Context, _ *stats.ConnTagInfo) context.Context {
	return ctx
}

func (s *statsHandler) HandleConn(_ context.Context, _ stats.ConnStats) {}

func (s *statsHandler) GetStats() NetStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ns
}

func byteCountSI(b uint64) string {
	const unit = 1000
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "kMGTPE"[exp])
}
