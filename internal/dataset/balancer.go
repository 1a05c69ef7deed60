package dataset

import (
	"math/rand"
	"sort"
)

// DefaultSeed seeds the balancer and the train/test split.
const DefaultSeed int64 = 42

// Balancer drops incomplete rows and downsamples every class to the size of
// the smallest one.
type Balancer struct {
	Seed int64
}

// NewBalancer returns a balancer using DefaultSeed.
func NewBalancer() Balancer {
	return Balancer{Seed: DefaultSeed}
}

// Preprocess returns classes in sorted label order, each holding the same
// number of rows in their original relative order. Fewer than two classes
// yields an empty dataset.
func (b Balancer) Preprocess(ds Dataset) Dataset {
	byLabel := make(map[string]Dataset)
	for _, r := range ds {
		if r.Body == "" || r.Label == "" {
			continue
		}
		byLabel[r.Label] = append(byLabel[r.Label], r)
	}
	if len(byLabel) < 2 {
		return Dataset{}
	}

	labels := make([]string, 0, len(byLabel))
	smallest := -1
	for l, rows := range byLabel {
		labels = append(labels, l)
		if smallest < 0 || len(rows) < smallest {
			smallest = len(rows)
		}
	}
	sort.Strings(labels)

	rng := rand.New(rand.NewSource(b.Seed))
	out := make(Dataset, 0, smallest*len(labels))
	for _, l := range labels {
		out = append(out, sample(byLabel[l], smallest, rng)...)
	}
	return out
}

// sample keeps n rows chosen by rng, preserving their input order.
func sample(rows Dataset, n int, rng *rand.Rand) Dataset {
	if len(rows) <= n {
		return rows
	}
	idx := rng.Perm(len(rows))[:n]
	sort.Ints(idx)
	out := make(Dataset, n)
	for i, j := range idx {
		out[i] = rows[j]
	}
	return out
}
