package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"feddfg"
	"feddfg/api"
	"feddfg/cmd/common"
	"feddfg/cmd/config"
)

var (
	serverAddr = flag.String("server_address", fmt.Sprintf(":%d", config.DEFAULT_PORT), "the address of the keyholder node")
	input      = flag.String("input", "", "the XES event log of this organization")
	output     = flag.String("out", "-", "write the joint DFG as JSON to this file ('-' for stdout)")
	secure     = flag.Bool("secure", true, "use the BFV backend instead of the trivial one")
	psi        = flag.Bool("psi", true, "blind the pair sets during reconciliation")
)

func init() {
	log.SetFlags(log.Flags() &^ log.Ldate)
	log.SetPrefix("> ")
}

func main() {

	flag.Parse()

	log.Println("DFG contributor")

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

	statsHandler := api.NewStatsHandler()
	var opts []grpc.DialOption
	opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials())) // no TLS for now
	opts = append(opts, grpc.WithStatsHandler(statsHandler))
	conn, err := grpc.NewClient(*serverAddr, opts...)
	if err != nil {
		log.Fatalf("Failed to connect to keyholder: %v", err)
	}
	defer conn.Close()

	start := time.Now()

	ctx := feddfg.RoleToOutgoingContext(context.Background(), feddfg.RoleContributor)
	stream, err := api.NewExchangeStream(ctx, conn)
	if err != nil {
		log.Fatalf("Failed to create stream: %v", err)
	}

	startActive := time.Now() // measured from the keyholder connect
	contributor := feddfg.NewContributor(config.SessionID, engine, table)
	res, err := contributor.Run(ctx, api.NewStreamConduit(stream, config.SessionID), feddfg.Config{UsePSI: *psi})
	if err != nil {
		log.Fatalf("no graph published: %v", err)
	}

	total := time.Since(start)
	active := time.Since(startActive)

	log.Printf("joint graph: %v", res.Graph)
	log.Printf("HE ops: %s", engine.Counts())
	common.PrintStats(statsHandler.GetStats(), total, active)
	if err := common.WriteDFG(res.Graph, *output); err != nil {
		log.Fatalf("writing %s: %v", *output, err)
	}
}
