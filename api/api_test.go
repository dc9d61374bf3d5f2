package api

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/encoding/protowire"

	"feddfg"
)

func messagesEqual(a, b *feddfg.Message) bool {
	if a.Kind != b.Kind || !bytes.Equal(a.Session, b.Session) ||
		a.Scheme != b.Scheme || !bytes.Equal(a.Key, b.Key) || !bytes.Equal(a.Cipher, b.Cipher) {
		return false
	}
	if len(a.Pairs) != len(b.Pairs) || len(a.Points) != len(b.Points) ||
		len(a.Values) != len(b.Values) || len(a.Labels) != len(b.Labels) {
		return false
	}
	for i := range a.Pairs {
		if a.Pairs[i] != b.Pairs[i] {
			return false
		}
	}
	for i := range a.Points {
		if !a.Points[i].Equals(b.Points[i]) {
			return false
		}
	}
	for i := range a.Values {
		if a.Values[i] != b.Values[i] {
			return false
		}
	}
	for slot, p := range a.Labels {
		if b.Labels[slot] != p {
			return false
		}
	}
	return true
}

func TestEnvelopeRoundTrip(t *testing.T) {
	sid := feddfg.NewSessionID("orga", "orgb")

	tests := []struct {
		name string
		msg  *feddfg.Message
	}{
		{
			name: "pairs",
			msg: &feddfg.Message{
				Kind:    feddfg.MsgPairs,
				Session: sid,
				Pairs: []feddfg.Pair{
					{From: "register", To: "triage"},
					{From: "triage", To: "treat"},
				},
			},
		},
		{
			name: "blinded pairs",
			msg: &feddfg.Message{
				Kind:    feddfg.MsgBlind,
				Session: sid,
				Points:  []*feddfg.Point{feddfg.RandomPoint(), feddfg.RandomPoint(), feddfg.RandomPoint()},
			},
		},
		{
			name: "public key",
			msg: &feddfg.Message{
				Kind:    feddfg.MsgPublicKey,
				Session: sid,
				Scheme:  feddfg.SchemeBFV,
				Key:     []byte{0xde, 0xad, 0xbe, 0xef},
			},
		},
		{
			name: "cipher",
			msg: &feddfg.Message{
				Kind:    feddfg.MsgCipher,
				Session: sid,
				Cipher:  bytes.Repeat([]byte{0x42}, 100),
			},
		},
		{
			name: "result",
			msg: &feddfg.Message{
				Kind:    feddfg.MsgResult,
				Session: sid,
				Values:  feddfg.PlaintextVector{0, 1, 1 << 20, 7},
				Labels: map[int]feddfg.Pair{
					0: {From: "a", To: "b"},
					2: {From: "b", To: "c"},
				},
			},
		},
		{
			name: "labels",
			msg: &feddfg.Message{
				Kind:    feddfg.MsgLabels,
				Session: sid,
				Labels:  map[int]feddfg.Pair{1: {From: "x", To: "y"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := MarshalMessage(tt.msg)
			if err != nil {
				t.Fatalf("MarshalMessage failed: %v", err)
			}
			fmt.Println("Envelope size of", tt.msg.Kind, "message:", len(data))

			got, err := UnmarshalMessage(data)
			if err != nil {
				t.Fatalf("UnmarshalMessage failed: %v", err)
			}
			if !messagesEqual(tt.msg, got) {
				t.Errorf("round trip changed the message:\n got:  %+v\n want: %+v", got, tt.msg)
			}
		})
	}
}

func TestEnvelopeDeterministic(t *testing.T) {
	msg := &feddfg.Message{
		Kind:    feddfg.MsgResult,
		Session: feddfg.NewSessionID("orga", "orgb"),
		Values:  feddfg.PlaintextVector{1, 2, 3},
		Labels: map[int]feddfg.Pair{
			2: {From: "c", To: "d"},
			0: {From: "a", To: "b"},
			1: {From: "b", To: "c"},
		},
	}

	first, err := MarshalMessage(msg)
	if err != nil {
		t.Fatalf("MarshalMessage failed: %v", err)
	}
	second, err := MarshalMessage(msg)
	if err != nil {
		t.Fatalf("MarshalMessage failed: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("equal messages encoded to different bytes")
	}
}

func TestEnvelopeSkipsUnknownFields(t *testing.T) {
	msg := &feddfg.Message{
		Kind:    feddfg.MsgPairs,
		Session: feddfg.NewSessionID("orga", "orgb"),
		Pairs:   []feddfg.Pair{{From: "a", To: "b"}},
	}
	data, err := MarshalMessage(msg)
	if err != nil {
		t.Fatalf("MarshalMessage failed: %v", err)
	}

	// A newer peer may append fields this version does not know.
	data = protowire.AppendTag(data, 15, protowire.VarintType)
	data = protowire.AppendVarint(data, 99)
	data = protowire.AppendTag(data, 16, protowire.BytesType)
	data = protowire.AppendBytes(data, []byte("future"))

	got, err := UnmarshalMessage(data)
	if err != nil {
		t.Fatalf("UnmarshalMessage failed on unknown fields: %v", err)
	}
	if !messagesEqual(msg, got) {
		t.Errorf("unknown fields corrupted the known ones:\n got:  %+v\n want: %+v", got, msg)
	}
}

func TestEnvelopeRejectsTruncation(t *testing.T) {
	msg := &feddfg.Message{
		Kind:    feddfg.MsgCipher,
		Session: feddfg.NewSessionID("orga", "orgb"),
		Cipher:  bytes.Repeat([]byte{7}, 64),
	}
	data, err := MarshalMessage(msg)
	if err != nil {
		t.Fatalf("MarshalMessage failed: %v", err)
	}

	if _, err := UnmarshalMessage(data[:len(data)-10]); err == nil {
		t.Errorf("UnmarshalMessage accepted truncated data")
	}
}

func TestRawCodec(t *testing.T) {
	c := rawCodec{}
	if c.Name() != CodecName {
		t.Errorf("Name() = %q, want %q", c.Name(), CodecName)
	}

	frame := &Frame{Data: []byte("payload")}
	data, err := c.Marshal(frame)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var back Frame
	if err := c.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !bytes.Equal(frame.Data, back.Data) {
		t.Errorf("round trip changed the frame: %q vs %q", frame.Data, back.Data)
	}

	if _, err := c.Marshal("not a frame"); err == nil {
		t.Errorf("Marshal accepted a foreign type")
	}
	if err := c.Unmarshal(data, "not a frame"); err == nil {
		t.Errorf("Unmarshal accepted a foreign type")
	}
}

// keyholderSession serves exactly one protocol run.
type keyholderSession struct {
	kh      *feddfg.Keyholder
	cfg     feddfg.Config
	session []byte
	res     chan *feddfg.RunResult
	errs    chan error
}

func (s *keyholderSession) Session(stream ExchangeStream) error {
	res, err := s.kh.Run(stream.Context(), NewStreamConduit(stream, s.session), s.cfg)
	if err != nil {
		s.errs <- err
		return err
	}
	s.res <- res
	return nil
}

// The whole protocol across a real grpc stream, in memory.
func TestStreamSession(t *testing.T) {
	sid := feddfg.NewSessionID("orga", "orgb")
	tableA, tableB := feddfg.GenTestFrequencyTables(20, 5)
	want := feddfg.MergeFrequencies(tableA, tableB)
	cfg := feddfg.Config{UsePSI: true}

	engineA, err := feddfg.NewEngine(false)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	engineB, err := feddfg.NewEngine(false)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	server := &keyholderSession{
		kh:      feddfg.NewKeyholder(sid, engineA, tableA),
		cfg:     cfg,
		session: sid,
		res:     make(chan *feddfg.RunResult, 1),
		errs:    make(chan error, 1),
	}

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterExchangeServer(srv, server)
	go srv.Serve(lis)
	defer srv.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()
	stream, err := NewExchangeStream(ctx, conn)
	if err != nil {
		t.Fatalf("NewExchangeStream failed: %v", err)
	}

	contributor := feddfg.NewContributor(sid, engineB, tableB)
	ctRes, err := contributor.Run(ctx, NewStreamConduit(stream, sid), cfg)
	if err != nil {
		t.Fatalf("contributor run failed: %v", err)
	}

	var khRes *feddfg.RunResult
	select {
	case khRes = <-server.res:
	case err := <-server.errs:
		t.Fatalf("keyholder run failed: %v", err)
	}

	if !want.Equal(khRes.Table) {
		t.Errorf("keyholder table differs from the plaintext merge:\n got:  %v\n want: %v", khRes.Table, want)
	}
	if !want.Equal(ctRes.Table) {
		t.Errorf("contributor table differs from the plaintext merge:\n got:  %v\n want: %v", ctRes.Table, want)
	}
	if !khRes.Graph.Equal(ctRes.Graph) {
		t.Errorf("parties assembled different graphs over the stream")
	}
}
