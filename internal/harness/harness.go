// Package harness runs one full architecture evaluation: decode, build,
// profile, train, validate, report.
package harness

import (
	"context"
	"errors"
	"fmt"
	"log"

	"nasfit/internal/data"
	"nasfit/internal/genome"
	"nasfit/internal/model"
	"nasfit/internal/netbuild"
	"nasfit/internal/profile"
	"nasfit/internal/report"
	"nasfit/internal/storage"
	"nasfit/internal/train"
)

// Config fixes the evaluation environment shared by all candidates of a
// search run.
type Config struct {
	ExprRoot   string
	Save       string
	NumClasses int
	InputShape model.Shape
}

// Request describes one candidate to score. Channels may be nil for the
// macro family, in which case the reference progression applies.
type Request struct {
	Genome   model.Genome
	Family   string
	Channels []model.ChannelSpan
	HP       model.HyperParameters

	Train *data.Dataset
	Valid *data.Dataset
}

// Evaluator scores candidates one at a time. Each call builds a fresh
// network and optimizer state, so evaluations cannot leak into each other.
type Evaluator struct {
	store  storage.Store
	cfg    Config
	logger *log.Logger
}

func New(store storage.Store, cfg Config, logger *log.Logger) *Evaluator {
	if logger == nil {
		logger = log.Default()
	}
	return &Evaluator{store: store, cfg: cfg, logger: logger}
}

// Evaluate runs the full pipeline for one candidate. Validation runs after
// every epoch so that a usable score survives divergence; the reported
// accuracy is the pass after the final epoch. A diverged training run still
// produces a persisted record carrying the last stable validation metrics;
// the returned error then wraps *train.DivergedError.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (model.ResultRecord, error) {
	hp := req.HP.Normalize()
	if req.Train == nil || req.Valid == nil {
		return model.ResultRecord{}, fmt.Errorf("harness: request needs train and valid datasets")
	}

	channels := req.Channels
	if req.Family == genome.FamilyMacro && len(channels) == 0 {
		channels = genome.DefaultChannelProgression(hp.InitChannels)
	}
	spec, err := genome.Decode(req.Genome, req.Family, channels)
	if err != nil {
		return model.ResultRecord{}, err
	}
	e.logger.Printf("Genome = %s", req.Genome)
	e.logger.Printf("Architecture = %s", spec)

	net, err := netbuild.Build(spec, hp, e.cfg.NumClasses, e.cfg.InputShape)
	if err != nil {
		return model.ResultRecord{}, err
	}

	paramM := profile.CountParameters(net)
	e.logger.Printf("param size = %fMB", paramM)

	flopM, err := profile.EstimateFLOPs(net, e.cfg.InputShape)
	if err != nil {
		e.logger.Printf("flops unavailable: %v", err)
		flopM = profile.Unavailable
	} else {
		e.logger.Printf("flops = %fMB", flopM)
	}

	augment := &data.Augmentor{Pad: 4, Cutout: hp.Cutout, CutoutLength: hp.CutoutLength}
	trainLoader := data.NewLoader(req.Train, hp.BatchSize, augment, hp.Seed)
	validLoader := data.NewLoader(req.Valid, hp.BatchSize, nil, hp.Seed)

	trainer := train.NewTrainer(net, hp, e.logger)
	var lastValid train.Metrics
	var trainErr error
	for epoch := 0; epoch < hp.Epochs; epoch++ {
		tm, err := trainer.TrainEpoch(ctx, trainLoader, epoch)
		if err != nil {
			var diverged *train.DivergedError
			if errors.As(err, &diverged) {
				e.logger.Printf("training diverged: %v", err)
				trainErr = err
				break
			}
			return model.ResultRecord{}, err
		}
		e.logger.Printf("train_acc %f", tm.Accuracy)

		vm, err := train.Evaluate(ctx, net, validLoader)
		if err != nil {
			return model.ResultRecord{}, err
		}
		lastValid = vm
		e.logger.Printf("valid_acc %f", vm.Accuracy)
	}

	reporter := report.NewReporter(e.store, e.cfg.ExprRoot, e.cfg.Save, e.logger)
	record, err := reporter.Report(ctx, report.Outcome{
		Genome:        req.Genome,
		Spec:          spec,
		ParamMillions: paramM,
		FLOPMillions:  flopM,
		ValidAccuracy: lastValid.Accuracy,
		ValidLoss:     lastValid.Loss,
	})
	if trainErr != nil {
		return record, trainErr
	}
	return record, err
}
