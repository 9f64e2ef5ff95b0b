package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/dustin/go-humanize"

	"nasfit/internal/storage"
	"nasfit/pkg/nasfit"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "evaluate":
		return runEvaluate(ctx, args[1:])
	case "results":
		return runResults(ctx, args[1:])
	case "result":
		return runResult(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "nasfit.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := nasfit.New(nasfit.Options{StoreKind: *storeKind, DBPath: *dbPath})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Init(ctx); err != nil {
		return err
	}
	fmt.Printf("initialized store=%s\n", *storeKind)
	return nil
}

func runEvaluate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "nasfit.db", "sqlite database path")
	genomePath := fs.String("genome", "", "path to a genome JSON file")
	family := fs.String("family", nasfit.FamilyMicro, "search space family: micro|macro")
	exprRoot := fs.String("expr-root", "search", "root directory for run artifacts")
	save := fs.String("save", "EXP", "run name under the artifact root")
	cifarDir := fs.String("cifar", "", "directory holding the binary CIFAR-10 archive")
	classes := fs.Int("classes", 10, "number of target classes")
	initChannels := fs.Int("init-channels", 0, "initial channel count (0 = default)")
	layers := fs.Int("layers", 0, "cell stack depth (0 = default)")
	epochs := fs.Int("epochs", 0, "training epochs (0 = default)")
	batchSize := fs.Int("batch-size", 0, "training batch size (0 = default)")
	lr := fs.Float64("lr", 0, "initial learning rate (0 = default)")
	auxiliary := fs.Bool("auxiliary", false, "attach the auxiliary classifier")
	cutout := fs.Bool("cutout", false, "enable cutout augmentation")
	dropPath := fs.Float64("drop-path", 0, "final drop-path probability")
	seed := fs.Int64("seed", 0, "evaluation seed")
	synthetic := fs.Int("synthetic", 0, "synthetic example count when no CIFAR dir is given")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *genomePath == "" {
		return usageError("evaluate requires -genome")
	}

	raw, err := os.ReadFile(*genomePath)
	if err != nil {
		return fmt.Errorf("read genome: %w", err)
	}
	var g nasfit.Genome
	if err := json.Unmarshal(raw, &g); err != nil {
		return fmt.Errorf("parse genome: %w", err)
	}

	shape := nasfit.Shape{Channels: 3, Height: 32, Width: 32}
	client, err := nasfit.New(nasfit.Options{
		StoreKind:  *storeKind,
		DBPath:     *dbPath,
		ExprRoot:   *exprRoot,
		Save:       *save,
		NumClasses: *classes,
		InputShape: shape,
		Logger:     log.New(os.Stderr, "", log.LstdFlags),
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	record, err := client.Evaluate(ctx, nasfit.EvaluateRequest{
		Genome: g,
		Family: *family,
		HP: nasfit.HyperParameters{
			InitChannels: *initChannels,
			Layers:       *layers,
			Epochs:       *epochs,
			BatchSize:    *batchSize,
			LearningRate: *lr,
			Auxiliary:    *auxiliary,
			Cutout:       *cutout,
			DropPathProb: *dropPath,
			Seed:         *seed,
		},
		CIFARDir:          *cifarDir,
		SyntheticExamples: *synthetic,
	})
	if err != nil {
		return err
	}

	fmt.Printf("result %s\n", record.ID)
	printRecord(record)
	return nil
}

func runResults(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("results", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "nasfit.db", "sqlite database path")
	limit := fs.Int("limit", 0, "show at most this many results (0 = all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := nasfit.New(nasfit.Options{StoreKind: *storeKind, DBPath: *dbPath})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	results, err := client.Results(ctx)
	if err != nil {
		return err
	}
	if *limit > 0 && len(results) > *limit {
		results = results[len(results)-*limit:]
	}
	if len(results) == 0 {
		fmt.Println("no results")
		return nil
	}

	fmt.Printf("%-36s  %-20s  %10s  %12s  %9s\n", "ID", "CREATED", "PARAMS", "FLOPS", "VALID_ACC")
	for _, r := range results {
		fmt.Printf("%-36s  %-20s  %10s  %12s  %8.2f%%\n",
			r.ID, r.CreatedAtUTC,
			humanize.CommafWithDigits(r.ParamMillions, 3)+"M",
			humanize.CommafWithDigits(r.FLOPMillions, 1)+"M",
			r.ValidAccuracy)
	}
	return nil
}

func runResult(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("result", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "nasfit.db", "sqlite database path")
	id := fs.String("id", "", "result id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return usageError("result requires -id")
	}

	client, err := nasfit.New(nasfit.Options{StoreKind: *storeKind, DBPath: *dbPath})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	record, ok, err := client.Result(ctx, *id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no result with id %s", *id)
	}
	printRecord(record)
	return nil
}

func printRecord(r nasfit.ResultRecord) {
	fmt.Printf("  genome       %s\n", r.Genome)
	fmt.Printf("  architecture %s\n", r.Architecture)
	fmt.Printf("  params       %sM\n", humanize.CommafWithDigits(r.ParamMillions, 3))
	fmt.Printf("  flops        %sM\n", humanize.CommafWithDigits(r.FLOPMillions, 1))
	fmt.Printf("  valid_acc    %.2f%%\n", r.ValidAccuracy)
	fmt.Printf("  valid_loss   %.4f\n", r.ValidLoss)
	fmt.Printf("  created      %s\n", r.CreatedAtUTC)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: nasfitctl <init|evaluate|results|result> [flags]", msg)
}
