// Package data loads and batches image classification datasets for
// architecture evaluation.
package data

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"

	"nasfit/internal/model"
)

// ErrDataset marks a dataset that could not be loaded or is internally
// inconsistent.
var ErrDataset = errors.New("data: bad dataset")

// Dataset is an in-memory labeled image set. Images are stored
// channels-first, normalized, one example after another.
type Dataset struct {
	Shape   model.Shape
	Classes int
	Images  []float32
	Labels  []int
}

// Len returns the number of examples.
func (d *Dataset) Len() int {
	return len(d.Labels)
}

// Example returns a view of example i. The slice aliases the dataset.
func (d *Dataset) Example(i int) []float32 {
	stride := d.Shape.Channels * d.Shape.Height * d.Shape.Width
	return d.Images[i*stride : (i+1)*stride]
}

func (d *Dataset) validate() error {
	stride := d.Shape.Channels * d.Shape.Height * d.Shape.Width
	if stride <= 0 {
		return fmt.Errorf("%w: empty shape", ErrDataset)
	}
	if len(d.Images) != stride*len(d.Labels) {
		return fmt.Errorf("%w: %d pixels for %d labels", ErrDataset, len(d.Images), len(d.Labels))
	}
	for i, label := range d.Labels {
		if label < 0 || label >= d.Classes {
			return fmt.Errorf("%w: label %d out of range at example %d", ErrDataset, label, i)
		}
	}
	return nil
}

// Synthetic generates a deterministic random dataset, used by tests and
// smoke runs that must not touch the filesystem.
func Synthetic(n, classes int, shape model.Shape, seed int64) *Dataset {
	rng := rand.New(rand.NewSource(seed))
	stride := shape.Channels * shape.Height * shape.Width
	d := &Dataset{
		Shape:   shape,
		Classes: classes,
		Images:  make([]float32, n*stride),
		Labels:  make([]int, n),
	}
	for i := range d.Images {
		d.Images[i] = rng.Float32()*2 - 1
	}
	for i := range d.Labels {
		d.Labels[i] = rng.Intn(classes)
	}
	return d
}

// CIFAR-10 channel statistics used for normalization.
var (
	cifarMean = [3]float32{0.49139968, 0.48215827, 0.44653124}
	cifarStd  = [3]float32{0.24703233, 0.24348505, 0.26158768}
)

const (
	cifarSide       = 32
	cifarRecordSize = 1 + 3*cifarSide*cifarSide
	cifarClasses    = 10
)

// LoadCIFAR10 reads the binary-format CIFAR-10 archive from dir. Training
// examples come from data_batch_1.bin through data_batch_5.bin, test
// examples from test_batch.bin. Pixels are scaled to [0,1] and normalized
// per channel.
func LoadCIFAR10(dir string) (train, test *Dataset, err error) {
	var trainFiles []string
	for i := 1; i <= 5; i++ {
		trainFiles = append(trainFiles, filepath.Join(dir, fmt.Sprintf("data_batch_%d.bin", i)))
	}
	train, err = readCIFARFiles(trainFiles)
	if err != nil {
		return nil, nil, err
	}
	test, err = readCIFARFiles([]string{filepath.Join(dir, "test_batch.bin")})
	if err != nil {
		return nil, nil, err
	}
	return train, test, nil
}

func readCIFARFiles(paths []string) (*Dataset, error) {
	d := &Dataset{
		Shape:   model.Shape{Channels: 3, Height: cifarSide, Width: cifarSide},
		Classes: cifarClasses,
	}
	record := make([]byte, cifarRecordSize)
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDataset, err)
		}
		for {
			_, err := io.ReadFull(f, record)
			if err == io.EOF {
				break
			}
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("%w: short record in %s: %v", ErrDataset, path, err)
			}
			label := int(record[0])
			if label >= cifarClasses {
				f.Close()
				return nil, fmt.Errorf("%w: label %d in %s", ErrDataset, label, path)
			}
			d.Labels = append(d.Labels, label)
			for c := 0; c < 3; c++ {
				base := 1 + c*cifarSide*cifarSide
				for p := 0; p < cifarSide*cifarSide; p++ {
					v := float32(record[base+p]) / 255
					d.Images = append(d.Images, (v-cifarMean[c])/cifarStd[c])
				}
			}
		}
		f.Close()
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	return d, nil
}
