package collection

import (
	"context"
	"errors"
	"math"
	"os"
	"path"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/mbiome/expcollect/logger"
	"github.com/mbiome/expcollect/pkg/blob"
	"github.com/mbiome/expcollect/pkg/store"
)

func TestMain(m *testing.M) {
	if err := logger.InitLogger(zapcore.ErrorLevel); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func writeFixture(t *testing.T, dir, name, content string) string {
	t.Helper()
	fp := path.Join(dir, name)
	if err := os.WriteFile(fp, []byte(content), 0644); err != nil {
		t.Fatalf("writing fixture %s: %v", name, err)
	}
	return fp
}

// buildCollection builds and publishes a small two-sample collection with
// every table populated.
func buildCollection(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()

	cagsFp := writeFixture(t, dir, "cags.json", `{"c1": ["g1", "g2"], "c2": ["g3"]}`)

	s1Fp := writeFixture(t, dir, "s1.json", `{"results": [
		{"id": "g1", "depth": 10, "length": 900, "coverage": 0.9, "nreads": 100},
		{"id": "g2", "depth": 30, "length": 1200, "coverage": 0.95, "nreads": 300}
	]}`)
	s2Fp := writeFixture(t, dir, "s2.json", `{"results": [
		{"id": "g1", "depth": 5, "length": 900, "coverage": 0.5, "nreads": 40}
	]}`)

	metaFp := writeFixture(t, dir, "metadata.csv", "sample,site,day\ns1,gut,0\ns2,skin,7\n")
	taxFp := writeFixture(t, dir, "tax.tsv", "g1\t1280\t1e-20\ng2\t562\t1e-9\n")

	eggnogFp := writeFixture(t, dir, "eggnog.tsv", strings.Join([]string{
		"# eggNOG-mapper",
		"# version: 1.0",
		"# time: now",
		"#query_name\tseed_eggNOG_ortholog\tKEGG_KOs",
		"g1\t394.NGR_c13120\tK00001,K00002",
		"g2\t\tK03088",
	}, "\n")+"\n")

	posFp := writeFixture(t, dir, "positions.tsv", strings.Join([]string{
		"seqname\tID\tcluster\tstart\tend\tstrand\tproduct",
		"contig_A\tr1\tclu_2\t700\t990\t-\ttransporter",
		"contig_A\tr2\tclu_1\t100\t550\t+\thypothetical protein",
		"contig_B\tr3\tclu_1\t40\t510\t+\thypothetical protein",
	}, "\n")+"\n")

	b, err := store.NewBuilder(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	err = b.Populate(store.Inputs{
		CAGs: cagsFp,
		Samples: []store.SampleSource{
			{Name: "s1", Path: s1Fp},
			{Name: "s2", Path: s2Fp},
		},
		Metadata:      metaFp,
		Taxonomy:      taxFp,
		Eggnog:        eggnogFp,
		GenePositions: posFp,
	})
	if err != nil {
		t.Fatalf("Populate: %v", err)
	}
	if err := b.Repack(); err != nil {
		t.Fatalf("Repack: %v", err)
	}

	dst := path.Join(t.TempDir(), "collection.sqlite")
	if err := b.Publish(context.Background(), blob.New(), dst, ""); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := b.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	return dst
}

func openCollection(t *testing.T) *Reader {
	t.Helper()
	r, err := Open(buildCollection(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestSampleCatalog(t *testing.T) {

	r := openCollection(t)

	samples := r.Samples()
	if len(samples) != 2 || samples[0] != "s1" || samples[1] != "s2" {
		t.Errorf("unexpected catalog: %v", samples)
	}
}

func TestGeneAbundanceRoundTrip(t *testing.T) {

	r := openCollection(t)

	m, err := r.GeneAbundance(AbundanceQuery{Samples: []string{"s1"}})
	if err != nil {
		t.Fatalf("GeneAbundance: %v", err)
	}

	if len(m.Features) != 2 {
		t.Fatalf("expected 2 features, got %v", m.Features)
	}
	if v := m.Cell("g1", "s1"); v != 10 {
		t.Errorf("g1/s1 = %f, want 10", v)
	}
	if v := m.Cell("g2", "s1"); v != 30 {
		t.Errorf("g2/s1 = %f, want 30", v)
	}
}

func TestMissingFeatureIsNaN(t *testing.T) {

	r := openCollection(t)

	m, err := r.GeneAbundance(AbundanceQuery{Features: []string{"g1", "g2"}})
	if err != nil {
		t.Fatalf("GeneAbundance: %v", err)
	}

	// g2 was not observed in s2; the cell exists and holds NaN.
	if v := m.Cell("g2", "s2"); !math.IsNaN(v) {
		t.Errorf("g2/s2 = %f, want NaN", v)
	}
	if v := m.Cell("g1", "s2"); v != 5 {
		t.Errorf("g1/s2 = %f, want 5", v)
	}
}

func TestUnknownSampleIsFatal(t *testing.T) {

	r := openCollection(t)

	_, err := r.GeneAbundance(AbundanceQuery{Samples: []string{"nope"}})
	if !errors.Is(err, ErrUnknownSample) {
		t.Errorf("expected ErrUnknownSample, got %v", err)
	}
}

func TestUnsupportedMetricIsFatal(t *testing.T) {

	r := openCollection(t)

	_, err := r.GeneAbundance(AbundanceQuery{Metric: "zscore"})
	if !errors.Is(err, ErrUnknownMetric) {
		t.Errorf("expected ErrUnknownMetric, got %v", err)
	}

	// CAG tables only store the build metric and the CLR.
	_, err = r.CAGAbundance(AbundanceQuery{Metric: "coverage"})
	if !errors.Is(err, ErrUnknownMetric) {
		t.Errorf("expected ErrUnknownMetric for CAG coverage, got %v", err)
	}
}

func TestCLRMetric(t *testing.T) {

	r := openCollection(t)

	m, err := r.GeneAbundance(AbundanceQuery{Samples: []string{"s1"}, Metric: "clr"})
	if err != nil {
		t.Fatalf("GeneAbundance: %v", err)
	}

	lo, hi := m.Cell("g1", "s1"), m.Cell("g2", "s1")
	if math.Abs(lo+0.23856) > 1e-3 || math.Abs(hi-0.23856) > 1e-3 {
		t.Errorf("clr cells = %f, %f; want ~-0.2386, ~0.2386", lo, hi)
	}
}

func TestCAGAbundanceMatrix(t *testing.T) {

	r := openCollection(t)

	m, err := r.CAGAbundance(AbundanceQuery{})
	if err != nil {
		t.Fatalf("CAGAbundance: %v", err)
	}

	// c1 = mean(10, 30) = 20 in s1, mean(5, 0) = 2.5 in s2.
	if v := m.Cell("c1", "s1"); v != 20 {
		t.Errorf("c1/s1 = %f, want 20", v)
	}
	if v := m.Cell("c1", "s2"); v != 2.5 {
		t.Errorf("c1/s2 = %f, want 2.5", v)
	}

	// c2 was never detected, so it is not part of the default feature union.
	for _, f := range m.Features {
		if f == "c2" {
			t.Error("undetected CAG c2 should not appear in the matrix")
		}
	}
}

func TestMetadata(t *testing.T) {

	r := openCollection(t)

	meta, err := r.Metadata()
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}

	if meta["s1"]["site"] != "gut" || meta["s2"]["day"] != "7" {
		t.Errorf("unexpected metadata: %v", meta)
	}
}

func TestEggnogAnnotation(t *testing.T) {

	r := openCollection(t)

	kos, err := r.EggnogAnnotation("ko")
	if err != nil {
		t.Fatalf("EggnogAnnotation(ko): %v", err)
	}
	if len(kos) != 3 {
		t.Errorf("expected 3 KO pairs, got %v", kos)
	}

	clusters, err := r.EggnogAnnotation("cluster")
	if err != nil {
		t.Fatalf("EggnogAnnotation(cluster): %v", err)
	}
	if len(clusters) != 1 || clusters[0].Gene != "g1" {
		t.Errorf("expected one cluster pair for g1, got %v", clusters)
	}

	if _, err := r.EggnogAnnotation("go"); err == nil {
		t.Error("an unknown annotation kind must be rejected")
	}
}

func TestTaxonomicAnnotation(t *testing.T) {

	r := openCollection(t)

	taxa, err := r.TaxonomicAnnotation()
	if err != nil {
		t.Fatalf("TaxonomicAnnotation: %v", err)
	}

	if taxa["g1"] != 1280 || taxa["g2"] != 562 {
		t.Errorf("unexpected taxa: %v", taxa)
	}
}

func TestCAGMembership(t *testing.T) {

	r := openCollection(t)

	membership, err := r.CAGMembership()
	if err != nil {
		t.Fatalf("CAGMembership: %v", err)
	}

	c1 := membership["c1"]
	if len(c1) != 2 || c1[0] != "g1" || c1[1] != "g2" {
		t.Errorf("unexpected c1 members: %v", c1)
	}
}

func TestContigAccessors(t *testing.T) {

	r := openCollection(t)

	contigs, err := r.ContigsWithGene("clu_1")
	if err != nil {
		t.Fatalf("ContigsWithGene: %v", err)
	}
	if len(contigs) != 2 || contigs[0] != "contig_A" || contigs[1] != "contig_B" {
		t.Errorf("unexpected contigs for clu_1: %v", contigs)
	}

	genes, err := r.ContigStructure("contig_A")
	if err != nil {
		t.Fatalf("ContigStructure: %v", err)
	}
	// Ordered by start position, not input order.
	if len(genes) != 2 || genes[0].Gene != "clu_1" || genes[1].Gene != "clu_2" {
		t.Errorf("unexpected structure for contig_A: %+v", genes)
	}
	if genes[0].Start != 100 || genes[0].Strand != "+" {
		t.Errorf("unexpected first gene: %+v", genes[0])
	}

	empty, err := r.ContigStructure("contig_Z")
	if err != nil {
		t.Fatalf("ContigStructure(contig_Z): %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("unknown contig should have no genes, got %+v", empty)
	}
}

func TestAccessorsAreMemoized(t *testing.T) {

	r := openCollection(t)

	if _, err := r.GeneAbundance(AbundanceQuery{}); err != nil {
		t.Fatal(err)
	}
	after := r.fetches

	// Same query again: every per-sample series comes from the cache.
	if _, err := r.GeneAbundance(AbundanceQuery{}); err != nil {
		t.Fatal(err)
	}
	if r.fetches != after {
		t.Errorf("second query hit the container (%d -> %d fetches)", after, r.fetches)
	}

	if _, err := r.ContigStructure("contig_A"); err != nil {
		t.Fatal(err)
	}
	after = r.fetches
	if _, err := r.ContigStructure("contig_A"); err != nil {
		t.Fatal(err)
	}
	if r.fetches != after {
		t.Error("repeated ContigStructure call hit the container")
	}
}

func TestRepeatedQueriesAreIdentical(t *testing.T) {

	fp := buildCollection(t)

	r1, err := Open(fp)
	if err != nil {
		t.Fatal(err)
	}
	defer r1.Close()
	r2, err := Open(fp)
	if err != nil {
		t.Fatal(err)
	}
	defer r2.Close()

	m1, err := r1.GeneAbundance(AbundanceQuery{})
	if err != nil {
		t.Fatal(err)
	}
	m2, err := r2.GeneAbundance(AbundanceQuery{})
	if err != nil {
		t.Fatal(err)
	}

	if len(m1.Features) != len(m2.Features) {
		t.Fatalf("readers disagree on features: %v vs %v", m1.Features, m2.Features)
	}
	for _, f := range m1.Features {
		for _, s := range m1.Samples {
			v1, v2 := m1.Cell(f, s), m2.Cell(f, s)
			if v1 != v2 && !(math.IsNaN(v1) && math.IsNaN(v2)) {
				t.Errorf("%s/%s differs between readers: %f vs %f", f, s, v1, v2)
			}
		}
	}
}

func TestOpenRejectsMissingOrMalformed(t *testing.T) {

	if _, err := Open(path.Join(t.TempDir(), "absent.sqlite")); err == nil {
		t.Error("opening a missing collection must fail")
	}

	fp := writeFixture(t, t.TempDir(), "junk.sqlite", "this is not a database")
	if _, err := Open(fp); err == nil {
		t.Error("opening a malformed collection must fail")
	}
}

func TestCacheEviction(t *testing.T) {

	c := newAccessorCache[int](2)

	fills := 0
	fill := func(v int) func() (int, error) {
		return func() (int, error) {
			fills++
			return v, nil
		}
	}

	c.get("a", fill(1))
	c.get("b", fill(2))
	c.get("c", fill(3)) // evicts "a"

	if c.len() != 2 {
		t.Fatalf("cache holds %d entries, want 2", c.len())
	}

	c.get("a", fill(1))
	if fills != 4 {
		t.Errorf("expected the evicted entry to be refilled, fills = %d", fills)
	}
}
