package train

import (
	"context"
	"fmt"
	"log"
	"math"

	"nasfit/internal/data"
	"nasfit/internal/model"
	"nasfit/internal/nn"
)

// DivergedError reports a training run whose loss stopped being finite. It
// carries the last stable metrics so callers can still report a fitness for
// the failed candidate.
type DivergedError struct {
	Epoch        int
	LastAccuracy float64
	LastLoss     float64
}

func (e *DivergedError) Error() string {
	return fmt.Sprintf("train: diverged at epoch %d (last stable acc=%.2f loss=%.4f)",
		e.Epoch, e.LastAccuracy, e.LastLoss)
}

// CosineLR returns the learning rate for epoch e of total epochs, annealing
// from lr0 down to lrMin over the schedule.
func CosineLR(lr0, lrMin float64, epoch, epochs int) float64 {
	if epochs < 1 {
		return lr0
	}
	t := float64(epoch) / float64(epochs)
	return lrMin + (lr0-lrMin)*(1+math.Cos(math.Pi*t))/2
}

// Metrics are the aggregate results of one pass over a stream.
type Metrics struct {
	Accuracy float64
	Loss     float64
	Examples int
}

// Trainer drives the per-candidate training schedule: SGD with momentum,
// cosine learning-rate annealing, reduced-precision forward passes under
// dynamic loss scaling, gradient clipping, and scheduled drop path.
type Trainer struct {
	net    nn.Network
	hp     model.HyperParameters
	opt    *SGD
	scaler *GradScaler
	logger *log.Logger

	// ReportEvery controls batch-level progress logging.
	ReportEvery int

	lastStable Metrics
}

func NewTrainer(net nn.Network, hp model.HyperParameters, logger *log.Logger) *Trainer {
	hp = hp.Normalize()
	if logger == nil {
		logger = log.Default()
	}
	return &Trainer{
		net:         net,
		hp:          hp,
		opt:         NewSGD(hp.LearningRate, hp.Momentum, hp.WeightDecay),
		scaler:      NewGradScaler(0),
		logger:      logger,
		ReportEvery: 50,
	}
}

// TrainEpoch runs one full pass over the training stream. It returns the
// epoch's aggregate metrics, or a *DivergedError when no batch in the epoch
// produced a usable step.
func (t *Trainer) TrainEpoch(ctx context.Context, loader *data.Loader, epoch int) (Metrics, error) {
	lr := CosineLR(t.hp.LearningRate, 0, epoch, t.hp.Epochs)
	t.opt.LR = lr
	t.net.SetDropPath(t.hp.DropPathProb * float64(epoch) / float64(t.hp.Epochs))
	t.net.SetHalf(true)
	defer t.net.SetHalf(false)
	t.logger.Printf("epoch %d lr %e", epoch, lr)

	params := t.net.Params()
	var m Metrics
	stepped := 0
	batches := 0

	for batch := range loader.Batches(ctx, epoch) {
		if err := ctx.Err(); err != nil {
			return m, err
		}
		batches++

		logits, aux := t.net.Forward(batch.Images, true)
		loss, grad := nn.CrossEntropy(logits, batch.Labels)
		var auxGrad *nn.Tensor
		if aux != nil {
			auxLoss, g := nn.CrossEntropy(aux, batch.Labels)
			loss += t.hp.AuxiliaryLossWeight * auxLoss
			scaleInto(g, t.hp.AuxiliaryLossWeight*t.scaler.Scale())
			auxGrad = g
		}

		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			t.scaler.Update(true)
			continue
		}

		scaleInto(grad, t.scaler.Scale())
		nn.ZeroGrads(params)
		t.net.Backward(grad, auxGrad)
		nn.ScaleGrads(params, 1/t.scaler.Scale())

		if nn.GradsOverflowed(params) {
			t.scaler.Update(true)
			continue
		}
		nn.ClipGradNorm(params, t.hp.GradClipNorm)
		t.opt.Step(params)
		t.scaler.Update(false)
		stepped++

		n := len(batch.Labels)
		m.Examples += n
		m.Loss += loss * float64(n)
		m.Accuracy += float64(nn.CountCorrect(logits, batch.Labels))

		if t.ReportEvery > 0 && batch.Seq%t.ReportEvery == 0 {
			t.logger.Printf("train %03d %e %f", batch.Seq, m.Loss/float64(m.Examples), 100*m.Accuracy/float64(m.Examples))
		}
	}

	if err := ctx.Err(); err != nil {
		return m, err
	}
	if batches > 0 && stepped == 0 {
		return m, &DivergedError{
			Epoch:        epoch,
			LastAccuracy: t.lastStable.Accuracy,
			LastLoss:     t.lastStable.Loss,
		}
	}
	if m.Examples > 0 {
		m.Loss /= float64(m.Examples)
		m.Accuracy = 100 * m.Accuracy / float64(m.Examples)
	}
	t.lastStable = m
	return m, nil
}

// Evaluate runs an inference pass over the stream and returns accuracy in
// [0, 100] and mean loss.
func Evaluate(ctx context.Context, net nn.Network, loader *data.Loader) (Metrics, error) {
	var m Metrics
	for batch := range loader.Batches(ctx, 0) {
		if err := ctx.Err(); err != nil {
			return m, err
		}
		logits, _ := net.Forward(batch.Images, false)
		loss, _ := nn.CrossEntropy(logits, batch.Labels)
		n := len(batch.Labels)
		m.Examples += n
		m.Loss += loss * float64(n)
		m.Accuracy += float64(nn.CountCorrect(logits, batch.Labels))
	}
	if err := ctx.Err(); err != nil {
		return m, err
	}
	if m.Examples > 0 {
		m.Loss /= float64(m.Examples)
		m.Accuracy = 100 * m.Accuracy / float64(m.Examples)
	}
	return m, nil
}

func scaleInto(t *nn.Tensor, f float64) {
	s := float32(f)
	for i := range t.Data {
		t.Data[i] *= s
	}
}
