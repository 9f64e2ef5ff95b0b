// Package nasfit is the public fitness-evaluation API: it scores candidate
// network architectures by decoding, building, training, and validating
// them, and reports the resulting fitness vectors.
package nasfit

import (
	"context"
	"fmt"
	"log"

	"nasfit/internal/data"
	"nasfit/internal/genome"
	"nasfit/internal/harness"
	"nasfit/internal/model"
	"nasfit/internal/storage"
)

const (
	defaultDBPath   = "nasfit.db"
	defaultExprRoot = "search"
	defaultSave     = "EXP"
)

// Families of supported search spaces.
const (
	FamilyMicro = genome.FamilyMicro
	FamilyMacro = genome.FamilyMacro
)

// Re-exported request and result types.
type (
	Genome          = model.Genome
	GenePair        = model.GenePair
	ChannelSpan     = model.ChannelSpan
	Shape           = model.Shape
	HyperParameters = model.HyperParameters
	ResultRecord    = model.ResultRecord
)

type Options struct {
	StoreKind  string
	DBPath     string
	ExprRoot   string
	Save       string
	NumClasses int
	InputShape Shape
	Logger     *log.Logger
}

type Client struct {
	store  storage.Store
	cfg    harness.Config
	logger *log.Logger
}

// EvaluateRequest describes one candidate and the data to score it on.
type EvaluateRequest struct {
	Genome   Genome
	Family   string
	Channels []ChannelSpan
	HP       HyperParameters

	// CIFARDir points at a binary-format CIFAR-10 archive. When empty, a
	// synthetic dataset of SyntheticExamples examples is used instead.
	CIFARDir          string
	SyntheticExamples int
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	exprRoot := opts.ExprRoot
	if exprRoot == "" {
		exprRoot = defaultExprRoot
	}
	save := opts.Save
	if save == "" {
		save = defaultSave
	}
	numClasses := opts.NumClasses
	if numClasses == 0 {
		numClasses = 10
	}
	shape := opts.InputShape
	if shape == (Shape{}) {
		shape = Shape{Channels: 3, Height: 32, Width: 32}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store: store,
		cfg: harness.Config{
			ExprRoot:   exprRoot,
			Save:       save,
			NumClasses: numClasses,
			InputShape: shape,
		},
		logger: logger,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.store.Init(ctx)
}

// Evaluate scores one candidate end to end and returns its result record.
func (c *Client) Evaluate(ctx context.Context, req EvaluateRequest) (ResultRecord, error) {
	train, valid, err := c.datasets(req)
	if err != nil {
		return ResultRecord{}, err
	}

	ev := harness.New(c.store, c.cfg, c.logger)
	return ev.Evaluate(ctx, harness.Request{
		Genome:   req.Genome,
		Family:   req.Family,
		Channels: req.Channels,
		HP:       req.HP,
		Train:    train,
		Valid:    valid,
	})
}

// Results lists all persisted evaluation results, oldest first.
func (c *Client) Results(ctx context.Context) ([]ResultRecord, error) {
	return c.store.ListResults(ctx)
}

// Result fetches one persisted evaluation by id.
func (c *Client) Result(ctx context.Context, id string) (ResultRecord, bool, error) {
	return c.store.GetResult(ctx, id)
}

func (c *Client) datasets(req EvaluateRequest) (train, valid *data.Dataset, err error) {
	if req.CIFARDir != "" {
		train, valid, err = data.LoadCIFAR10(req.CIFARDir)
		if err != nil {
			return nil, nil, fmt.Errorf("load cifar-10: %w", err)
		}
		return train, valid, nil
	}

	n := req.SyntheticExamples
	if n <= 0 {
		n = 512
	}
	seed := req.HP.Seed
	train = data.Synthetic(n, c.cfg.NumClasses, c.cfg.InputShape, seed)
	valid = data.Synthetic(n/4+1, c.cfg.NumClasses, c.cfg.InputShape, seed+1)
	return train, valid, nil
}
