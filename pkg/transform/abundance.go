// Transformations from raw per-sample abundance JSON (e.g. FAMLI output)
// into the rows stored in the collection.

package transform

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
)

// AbundanceOptions names the keys that every record in a per-sample
// abundance JSON is required to carry. The auxiliary keys map positionally
// onto the fixed (length, coverage, nreads) columns of the abundance table.
type AbundanceOptions struct {
	ResultsKey   string
	GeneIDKey    string
	AbundanceKey string
	OtherKeys    []string
}

func DefaultAbundanceOptions() AbundanceOptions {
	return AbundanceOptions{
		ResultsKey:   "results",
		GeneIDKey:    "id",
		AbundanceKey: "depth",
		OtherKeys:    []string{"length", "coverage", "nreads"},
	}
}

// GeneAbundance is one gene row of a sample's abundance table. Other holds
// the auxiliary values in the order of AbundanceOptions.OtherKeys.
type GeneAbundance struct {
	Gene      string
	Abundance float64
	Other     []float64
	CLR       float64
	HasCLR    bool
}

// ParseAbundance validates and flattens one sample's abundance JSON.
// A record missing any required key is fatal for the whole sample.
func ParseAbundance(r io.Reader, opts AbundanceOptions) ([]GeneAbundance, error) {

	dec := json.NewDecoder(r)
	dec.UseNumber()

	var doc map[string]json.RawMessage
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("abundance JSON is not an object: %w", err)
	}

	raw_results, ok := doc[opts.ResultsKey]
	if !ok {
		return nil, fmt.Errorf("abundance JSON has no %q key", opts.ResultsKey)
	}

	var results []map[string]json.RawMessage
	if err := json.Unmarshal(raw_results, &results); err != nil {
		return nil, fmt.Errorf("%q must be a list of records: %w", opts.ResultsKey, err)
	}

	records := make([]GeneAbundance, 0, len(results))
	seen := make(map[string]bool, len(results))

	for i, d := range results {

		raw_gene, ok := d[opts.GeneIDKey]
		if !ok {
			return nil, fmt.Errorf("record %d has no %q key", i, opts.GeneIDKey)
		}
		var gene string
		if err := json.Unmarshal(raw_gene, &gene); err != nil {
			return nil, fmt.Errorf("record %d: %q is not a string: %w", i, opts.GeneIDKey, err)
		}

		if seen[gene] {
			return nil, fmt.Errorf("gene %s appears twice in one sample", gene)
		}
		seen[gene] = true

		abund, err := numberField(d, opts.AbundanceKey)
		if err != nil {
			return nil, fmt.Errorf("record %d (%s): %w", i, gene, err)
		}

		rec := GeneAbundance{
			Gene:      gene,
			Abundance: abund,
			Other:     make([]float64, 0, len(opts.OtherKeys)),
		}

		for _, k := range opts.OtherKeys {
			v, err := numberField(d, k)
			if err != nil {
				return nil, fmt.Errorf("record %d (%s): %w", i, gene, err)
			}
			rec.Other = append(rec.Other, v)
		}

		records = append(records, rec)
	}

	return records, nil
}

// ComputeCLR fills in the centered log-ratio for every record, using the
// geometric mean of the sample: clr_i = log10(a_i / g). Returns false (and
// leaves the records untouched) if any abundance is <= 0, in which case the
// transform is not defined.
func ComputeCLR(records []GeneAbundance) bool {

	if len(records) == 0 {
		return false
	}

	sum_logs := 0.0
	for _, rec := range records {
		if rec.Abundance <= 0 {
			return false
		}
		sum_logs += math.Log(rec.Abundance)
	}

	gmean := math.Exp(sum_logs / float64(len(records)))

	for i := range records {
		records[i].CLR = math.Log10(records[i].Abundance / gmean)
		records[i].HasCLR = true
	}

	return true
}

// GeometricMean returns exp(mean(log a)) over the sample's abundances, or
// false when any value is non-positive.
func GeometricMean(records []GeneAbundance) (float64, bool) {

	if len(records) == 0 {
		return 0, false
	}

	sum_logs := 0.0
	for _, rec := range records {
		if rec.Abundance <= 0 {
			return 0, false
		}
		sum_logs += math.Log(rec.Abundance)
	}

	return math.Exp(sum_logs / float64(len(records))), true
}

func numberField(d map[string]json.RawMessage, key string) (float64, error) {

	raw, ok := d[key]
	if !ok {
		return 0, fmt.Errorf("missing required key %q", key)
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.Float64()
	}

	// Upstream pipelines sometimes emit numbers as strings.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("key %q is not numeric: %q", key, s)
		}
		return v, nil
	}

	return 0, fmt.Errorf("key %q is not numeric", key)
}
