package trainer

import (
	"fmt"
	"sort"
)

// fold is one train/test partition of sample indices.
type fold struct {
	train []int
	test  []int
}

// stratifiedKFold splits samples into k folds preserving label proportions.
// Samples of each label are dealt round-robin in input order, continuing the
// rotation across labels so fold sizes stay within one of each other. k is
// lowered to n when there are fewer samples than folds.
func stratifiedKFold(labels []string, k int) ([]fold, error) {
	n := len(labels)
	if n < 2 {
		return nil, fmt.Errorf("cross-validation needs at least 2 samples, got %d", n)
	}
	if k < 2 {
		return nil, fmt.Errorf("cross-validation needs at least 2 folds, got %d", k)
	}
	if k > n {
		k = n
	}

	byLabel := make(map[string][]int)
	var order []string
	for i, l := range labels {
		if _, ok := byLabel[l]; !ok {
			order = append(order, l)
		}
		byLabel[l] = append(byLabel[l], i)
	}
	sort.Strings(order)

	assign := make([]int, n)
	next := 0
	for _, l := range order {
		for _, i := range byLabel[l] {
			assign[i] = next % k
			next++
		}
	}

	folds := make([]fold, k)
	for i := 0; i < n; i++ {
		for f := range folds {
			if assign[i] == f {
				folds[f].test = append(folds[f].test, i)
			} else {
				folds[f].train = append(folds[f].train, i)
			}
		}
	}
	return folds, nil
}

func pick(xs []string, idx []int) []string {
	out := make([]string, len(idx))
	for k, i := range idx {
		out[k] = xs[i]
	}
	return out
}
