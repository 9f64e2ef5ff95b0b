package nn

import "math"

// CrossEntropy computes the mean softmax cross-entropy of logits [N, K]
// against integer labels, and the gradient with respect to the logits
// (already averaged over the batch).
func CrossEntropy(logits *Tensor, labels []int) (float64, *Tensor) {
	n, k := logits.Dims2()
	grad := NewTensor(n, k)
	var total float64

	for b := 0; b < n; b++ {
		row := logits.Data[b*k : (b+1)*k]
		max := row[0]
		for _, v := range row[1:] {
			if v > max {
				max = v
			}
		}
		var sum float64
		for _, v := range row {
			sum += math.Exp(float64(v - max))
		}
		logSum := math.Log(sum)

		label := labels[b]
		total += logSum - float64(row[label]-max)

		inv := 1 / float64(n)
		for j := 0; j < k; j++ {
			p := math.Exp(float64(row[j]-max)) / sum
			g := p * inv
			if j == label {
				g -= inv
			}
			grad.Data[b*k+j] = float32(g)
		}
	}
	return total / float64(n), grad
}

// Argmax returns the index of the largest logit per row.
func Argmax(logits *Tensor) []int {
	n, k := logits.Dims2()
	out := make([]int, n)
	for b := 0; b < n; b++ {
		row := logits.Data[b*k : (b+1)*k]
		best := 0
		for j, v := range row {
			if v > row[best] {
				best = j
			}
		}
		out[b] = best
	}
	return out
}

// CountCorrect returns how many predictions match their labels.
func CountCorrect(logits *Tensor, labels []int) int {
	correct := 0
	for i, pred := range Argmax(logits) {
		if pred == labels[i] {
			correct++
		}
	}
	return correct
}
