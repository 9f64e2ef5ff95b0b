package data

import (
	"context"
	"math/rand"
	"runtime"
	"sync"

	"nasfit/internal/nn"
)

// Batch is one prepared batch of examples.
type Batch struct {
	Seq    int
	Images *nn.Tensor
	Labels []int
}

// Loader shuffles a dataset per epoch and prepares batches on a small
// worker pool. Batches arrive strictly in sequence order, and augmentation
// draws from a per-batch generator, so the produced stream does not depend
// on goroutine scheduling.
type Loader struct {
	ds      *Dataset
	batch   int
	augment *Augmentor
	seed    int64
	workers int
}

// NewLoader wraps ds for batched iteration. augment may be nil for
// evaluation streams.
func NewLoader(ds *Dataset, batchSize int, augment *Augmentor, seed int64) *Loader {
	workers := runtime.GOMAXPROCS(0)
	if workers > 4 {
		workers = 4
	}
	if workers < 1 {
		workers = 1
	}
	return &Loader{ds: ds, batch: batchSize, augment: augment, seed: seed, workers: workers}
}

// NumBatches returns the number of batches one epoch yields.
func (l *Loader) NumBatches() int {
	return (l.ds.Len() + l.batch - 1) / l.batch
}

// Batches streams one epoch of batches. The channel closes after the last
// batch or once ctx is cancelled.
func (l *Loader) Batches(ctx context.Context, epoch int) <-chan Batch {
	out := make(chan Batch)
	go func() {
		defer close(out)
		order := rand.New(rand.NewSource(l.seed + int64(epoch))).Perm(l.ds.Len())

		type job struct {
			seq  int
			idxs []int
		}
		jobs := make(chan job)
		results := make(chan Batch, l.workers)

		var wg sync.WaitGroup
		for w := 0; w < l.workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := range jobs {
					results <- l.prepare(epoch, j.seq, j.idxs)
				}
			}()
		}
		go func() {
			defer close(jobs)
			for seq, start := 0, 0; start < len(order); seq, start = seq+1, start+l.batch {
				end := start + l.batch
				if end > len(order) {
					end = len(order)
				}
				select {
				case jobs <- job{seq: seq, idxs: order[start:end]}:
				case <-ctx.Done():
					return
				}
			}
		}()
		go func() {
			wg.Wait()
			close(results)
		}()

		pending := make(map[int]Batch)
		next := 0
		for b := range results {
			pending[b.Seq] = b
			for {
				nb, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				select {
				case out <- nb:
				case <-ctx.Done():
					for range results {
					}
					return
				}
				next++
			}
		}
	}()
	return out
}

func (l *Loader) prepare(epoch, seq int, idxs []int) Batch {
	shape := l.ds.Shape
	stride := shape.Channels * shape.Height * shape.Width
	t := nn.NewTensor(len(idxs), shape.Channels, shape.Height, shape.Width)
	labels := make([]int, len(idxs))

	var rng *rand.Rand
	if l.augment != nil {
		rng = rand.New(rand.NewSource(l.seed + int64(epoch)*1000003 + int64(seq)))
	}
	for i, idx := range idxs {
		dst := t.Data[i*stride : (i+1)*stride]
		copy(dst, l.ds.Example(idx))
		if l.augment != nil {
			l.augment.Apply(dst, shape, rng)
		}
		labels[i] = l.ds.Labels[idx]
	}
	return Batch{Seq: seq, Images: t, Labels: labels}
}
