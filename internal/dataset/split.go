package dataset

import (
	"fmt"
	"math"
	"math/rand"
)

// DefaultTestFraction is the share of rows held out for evaluation.
const DefaultTestFraction = 0.2

// Split shuffles ds with seed and holds out ceil(fraction*n) rows for test.
// Both halves must be non-empty.
func Split(ds Dataset, fraction float64, seed int64) (train, test Dataset, err error) {
	if fraction <= 0 || fraction >= 1 {
		return nil, nil, fmt.Errorf("test fraction must be in (0, 1), got %v", fraction)
	}
	n := len(ds)
	nTest := int(math.Ceil(fraction * float64(n)))
	if nTest < 1 || n-nTest < 1 {
		return nil, nil, fmt.Errorf("cannot split %d rows with test fraction %v", n, fraction)
	}
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	test = make(Dataset, 0, nTest)
	for _, i := range perm[:nTest] {
		test = append(test, ds[i])
	}
	train = make(Dataset, 0, n-nTest)
	for _, i := range perm[nTest:] {
		train = append(train, ds[i])
	}
	return train, test, nil
}
