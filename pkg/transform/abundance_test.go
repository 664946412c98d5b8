package transform

import (
	"math"
	"strings"
	"testing"
)

const sampleJSON = `{
	"parameters": {"batchsize": 10000000},
	"results": [
		{"id": "g1", "depth": 10, "length": 900, "coverage": 0.91, "nreads": 120},
		{"id": "g2", "depth": 30, "length": 1200, "coverage": 0.99, "nreads": 410}
	]
}`

func TestParseAbundance(t *testing.T) {

	records, err := ParseAbundance(strings.NewReader(sampleJSON), DefaultAbundanceOptions())

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	if records[0].Gene != "g1" || records[0].Abundance != 10 {
		t.Errorf("unexpected first record: %+v", records[0])
	}

	if len(records[1].Other) != 3 || records[1].Other[0] != 1200 {
		t.Errorf("auxiliary fields not kept: %+v", records[1].Other)
	}
}

func TestParseAbundanceMissingKey(t *testing.T) {

	bad := `{"results": [{"id": "g1", "depth": 10, "length": 900, "coverage": 0.91}]}`

	_, err := ParseAbundance(strings.NewReader(bad), DefaultAbundanceOptions())

	if err == nil {
		t.Fatal("a record missing a required key must be fatal for the sample")
	}
}

func TestParseAbundanceResultsNotList(t *testing.T) {

	bad := `{"results": {"id": "g1"}}`

	if _, err := ParseAbundance(strings.NewReader(bad), DefaultAbundanceOptions()); err == nil {
		t.Fatal("a non-list results field must be rejected")
	}
}

func TestParseAbundanceDuplicateGene(t *testing.T) {

	bad := `{"results": [
		{"id": "g1", "depth": 10, "length": 1, "coverage": 1, "nreads": 1},
		{"id": "g1", "depth": 20, "length": 1, "coverage": 1, "nreads": 1}
	]}`

	if _, err := ParseAbundance(strings.NewReader(bad), DefaultAbundanceOptions()); err == nil {
		t.Fatal("a duplicated gene id must be rejected")
	}
}

func TestComputeCLR(t *testing.T) {

	records := []GeneAbundance{
		{Gene: "g1", Abundance: 10},
		{Gene: "g2", Abundance: 30},
	}

	if ok := ComputeCLR(records); !ok {
		t.Fatal("CLR should be defined for all-positive abundances")
	}

	// gmean(10, 30) = sqrt(300); log10(10 / sqrt(300)) = -0.23856
	want := 0.23856
	if math.Abs(records[0].CLR+want) > 1e-3 {
		t.Errorf("clr(g1) = %f, want %f", records[0].CLR, -want)
	}
	if math.Abs(records[1].CLR-want) > 1e-3 {
		t.Errorf("clr(g2) = %f, want %f", records[1].CLR, want)
	}

	// Symmetric around zero for a two-element vector.
	if math.Abs(records[0].CLR+records[1].CLR) > 1e-9 {
		t.Errorf("clr values should be symmetric, got %f and %f", records[0].CLR, records[1].CLR)
	}
}

func TestComputeCLRSkippedOnNonPositive(t *testing.T) {

	records := []GeneAbundance{
		{Gene: "g1", Abundance: 10},
		{Gene: "g2", Abundance: 0},
	}

	if ok := ComputeCLR(records); ok {
		t.Fatal("CLR must be skipped when any abundance is <= 0")
	}

	if records[0].HasCLR || records[1].HasCLR {
		t.Error("no record should carry a CLR value when the transform is skipped")
	}
}
