package collection

import (
	"math"
	"sort"
)

// Series is one sample's column: feature ids in retrieval order with their
// values.
type Series struct {
	Index  []string
	Values []float64
	pos    map[string]int
}

func NewSeries(index []string, values []float64) *Series {
	pos := make(map[string]int, len(index))
	for i, name := range index {
		pos[name] = i
	}
	return &Series{Index: index, Values: values, pos: pos}
}

func (s *Series) Len() int {
	return len(s.Index)
}

func (s *Series) Get(name string) (float64, bool) {
	i, ok := s.pos[name]
	if !ok {
		return 0, false
	}
	return s.Values[i], true
}

// Matrix is a wide feature x sample table. Cells for features absent from a
// sample hold NaN; they are never an error.
type Matrix struct {
	Features []string
	Samples  []string
	Values   [][]float64 // indexed [feature][sample]

	fpos map[string]int
	spos map[string]int
}

// Cell returns the value for one (feature, sample) pair, NaN when either is
// not part of the matrix.
func (m *Matrix) Cell(feature, sample string) float64 {
	fi, ok := m.fpos[feature]
	if !ok {
		return math.NaN()
	}
	si, ok := m.spos[sample]
	if !ok {
		return math.NaN()
	}
	return m.Values[fi][si]
}

// assemble joins per-sample series into one wide matrix, reindexed against
// the requested feature list. A nil feature list means the sorted union of
// all features seen across the fetched samples.
func assemble(features, samples []string, fetch func(sample string) (*Series, error)) (*Matrix, error) {

	columns := make(map[string]*Series, len(samples))
	for _, sample := range samples {
		series, err := fetch(sample)
		if err != nil {
			return nil, err
		}
		columns[sample] = series
	}

	if features == nil {
		seen := make(map[string]bool)
		for _, series := range columns {
			for _, name := range series.Index {
				seen[name] = true
			}
		}
		features = make([]string, 0, len(seen))
		for name := range seen {
			features = append(features, name)
		}
		sort.Strings(features)
	}

	m := &Matrix{
		Features: features,
		Samples:  samples,
		Values:   make([][]float64, len(features)),
		fpos:     make(map[string]int, len(features)),
		spos:     make(map[string]int, len(samples)),
	}
	for i, name := range features {
		m.fpos[name] = i
	}
	for i, name := range samples {
		m.spos[name] = i
	}

	for fi, feature := range features {
		row := make([]float64, len(samples))
		for si, sample := range samples {
			if v, ok := columns[sample].Get(feature); ok {
				row[si] = v
			} else {
				row[si] = math.NaN()
			}
		}
		m.Values[fi] = row
	}

	return m, nil
}
