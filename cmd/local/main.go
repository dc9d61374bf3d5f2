package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"feddfg"
	"feddfg/cmd/common"
	"feddfg/xeslog"
)

var (
	out    = flag.String("out", "-", "write the joint DFG as JSON to this file ('-' for stdout)")
	dot    = flag.String("dot", "", "also write the joint DFG in graphviz dot format to this file")
	secure = flag.Bool("secure", true, "use the BFV backend instead of the trivial one")
	psi    = flag.Bool("psi", true, "blind the pair sets during reconciliation")
	seed   = flag.String("seed", "", "derive the blinding exponents from this seed for reproducible runs")
	gen    = flag.Int("gen", 0, "ignore the input files and run on two synthetic logs with this many traces")
)

func init() {
	log.SetFlags(log.Flags() &^ log.Ldate)
	log.SetPrefix("> ")
}

func main() {

	flag.Parse()

	var tableA, tableB feddfg.FrequencyTable
	switch {
	case *gen > 0:
		tableA = xeslog.GenTestLog(*gen, 8, 12).Frequencies()
		tableB = xeslog.GenTestLog(*gen, 8, 12).Frequencies()
	case flag.NArg() == 2:
		var err error
		if tableA, err = common.LoadFrequencies(flag.Arg(0)); err != nil {
			log.Fatalf("reading %s: %v", flag.Arg(0), err)
		}
		if tableB, err = common.LoadFrequencies(flag.Arg(1)); err != nil {
			log.Fatalf("reading %s: %v", flag.Arg(1), err)
		}
	default:
		fmt.Fprintf(os.Stderr, "usage: %s [flags] keyholder.xes contributor.xes\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}

	fmt.Println("----- federated DFG -----")
	fmt.Println("")

	// Both parties run inside this process, wired by channel conduits.
	// Each still gets its own engine instance, like separate deployments.

	sid := feddfg.NewSessionID("orga", "orgb")

	engineA, err := feddfg.NewEngine(*secure)
	if err != nil {
		log.Fatalf("keyholder engine: %v", err)
	}
	engineB, err := feddfg.NewEngine(*secure)
	if err != nil {
		log.Fatalf("contributor engine: %v", err)
	}

	keyholder := feddfg.NewKeyholder(sid, engineA, tableA)
	contributor := feddfg.NewContributor(sid, engineB, tableB)

	cfg := feddfg.Config{UsePSI: *psi}
	if *seed != "" {
		cfg.Seed = []byte(*seed)
	}

	khConduit, ctConduit := feddfg.NewLocalConduits()

	ctRes := make(chan *feddfg.RunResult, 1)
	ctErr := make(chan error, 1)
	go func() {
		res, err := contributor.Run(context.Background(), ctConduit, cfg)
		if err != nil {
			ctErr <- err
			return
		}
		ctRes <- res
	}()

	khResult, err := keyholder.Run(context.Background(), khConduit, cfg)
	if err != nil {
		log.Fatalf("keyholder: %v", err)
	}

	var ctResult *feddfg.RunResult
	select {
	case ctResult = <-ctRes:
	case err := <-ctErr:
		log.Fatalf("contributor: %v", err)
	}

	fmt.Println("Joint graph:", khResult.Graph)

	// Check results against the plaintext reference

	reference := feddfg.MergeFrequencies(tableA, tableB)

	fmt.Println("Do both parties hold the same table?", khResult.Table.Equal(ctResult.Table))
	fmt.Println("Does the protocol result match the plaintext merge?", reference.Equal(khResult.Table))

	log.Printf("keyholder HE ops: %s", engineA.Counts())
	log.Printf("contributor HE ops: %s", engineB.Counts())

	if err := common.WriteDFG(khResult.Graph, *out); err != nil {
		log.Fatalf("writing %s: %v", *out, err)
	}
	if *dot != "" {
		if err := common.WriteDOT(khResult.Graph, *dot); err != nil {
			log.Fatalf("writing %s: %v", *dot, err)
		}
	}
}
