package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"feddfg"
	"feddfg/api"
	"feddfg/cmd/common"
	"feddfg/cmd/config"
)

var (
	bindAddr = flag.String("bind_address", fmt.Sprintf(":%d", config.DEFAULT_PORT), "the address to bind")
	input    = flag.String("input", "", "the XES event log of this organization")
	output   = flag.String("out", "-", "write the joint DFG as JSON to this file ('-' for stdout)")
	secure   = flag.Bool("secure", true, "use the BFV backend instead of the trivial one")
	psi      = flag.Bool("psi", true, "blind the pair sets during reconciliation")
)

func init() {
	log.SetFlags(log.Flags() &^ log.Ldate)
	log.SetPrefix("> ")
}

type runOutcome struct {
	res *feddfg.RunResult
	err error
}

type exchangeServer struct {
	keyholder *feddfg.Keyholder
	cfg       feddfg.Config

	outcome chan runOutcome

	start chan struct{} // closed when the contributor connects
	once  sync.Once
}

func newExchangeServer(kh *feddfg.Keyholder, cfg feddfg.Config) *exchangeServer {
	return &exchangeServer{
		keyholder: kh,
		cfg:       cfg,
		outcome:   make(chan runOutcome, 1),
		start:     make(chan struct{}),
	}
}

// Session serves exactly one aggregation run. The key pair is generated
// inside the run and dies with it, so the server exits once a run finishes.
func (s *exchangeServer) Session(stream api.ExchangeStream) error {
	role, ok := feddfg.RoleFromIncomingContext(stream.Context())
	if !ok {
		return status.Error(codes.Unauthenticated, "peer did not announce a role")
	}
	if role != feddfg.RoleContributor {
		return status.Errorf(codes.PermissionDenied, "unexpected peer role %q", role)
	}
	s.once.Do(func() { close(s.start) })

	conduit := api.NewStreamConduit(stream, config.SessionID)
	res, err := s.keyholder.Run(stream.Context(), conduit, s.cfg)
	s.outcome <- runOutcome{res: res, err: err}
	if err != nil {
		log.Printf("run failed: %v", err)
		return status.Error(codes.Aborted, err.Error())
	}
	return nil
}

func main() {

	flag.Parse()

	log.Println("DFG keyholder")

	if *input == "" {
		log.Fatal("an input event log must be provided")
	}
	table, err := common.LoadFrequencies(*input)
	if err != nil {
		log.Fatalf("reading %s: %v", *input, err)
	}

	engine, err := feddfg.NewEngine(*secure)
	if err != nil {
		log.Fatalf("engine: %v", err)
	}
	log.Printf("%d local pairs, scheme %s", len(table), engine.Scheme())

	lis, err := net.Listen("tcp", *bindAddr)
	if err != nil {
		log.Fatalf("failed to listen: %v", err)
	}
	var opts []grpc.ServerOption
	statsHandler := api.NewStatsHandler()
	opts = append(opts, grpc.StatsHandler(statsHandler))
	grpcServer := grpc.NewServer(opts...)
	srv := newExchangeServer(
		feddfg.NewKeyholder(config.SessionID, engine, table),
		feddfg.Config{UsePSI: *psi},
	)
	api.RegisterExchangeServer(grpcServer, srv)

	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatalf("error during serve: %v", err)
		}
	}()

	log.Printf("keyholder listening at %v", lis.Addr())
	start := time.Now()
	<-srv.start
	startActive := time.Now() // measured from the contributor's connect
	outcome := <-srv.outcome
	total := time.Since(start)
	active := time.Since(startActive)

	if outcome.err != nil {
		log.Fatalf("no graph published: %v", outcome.err)
	}
	log.Printf("joint graph: %v", outcome.res.Graph)
	log.Printf("HE ops: %s", engine.Counts())
	common.PrintStats(statsHandler.GetStats(), total, active)
	if err := common.WriteDFG(outcome.res.Graph, *output); err != nil {
		log.Fatalf("writing %s: %v", *output, err)
	}
	<-time.After(time.Second) // leaves some time for streams to close as GracefulStop seems insufficient
	log.Println("shutting down")
	grpcServer.GracefulStop()
}
