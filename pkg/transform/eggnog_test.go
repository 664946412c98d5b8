package transform

import (
	"strings"
	"testing"
)

func eggnogFixture(t *testing.T) *Table {
	t.Helper()

	text := strings.Join([]string{
		"#query_name\tseed_eggNOG_ortholog\tKEGG_KOs",
		"g1\t394.NGR_c13120\tK00001,K00002",
		"g2\t\tK03088",
		"g3\t224911.Bamb_5033\t",
	}, "\n") + "\n"

	table, err := ReadTable(strings.NewReader(text), TableOptions{Sep: '\t'})
	if err != nil {
		t.Fatalf("fixture table failed to parse: %v", err)
	}
	return table
}

func TestEggnogKO(t *testing.T) {

	pairs, err := EggnogKO(eggnogFixture(t))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// g1 explodes into two rows, g3 (no KO) is dropped.
	want := []GeneLabel{
		{Gene: "g1", Label: "K00001"},
		{Gene: "g1", Label: "K00002"},
		{Gene: "g2", Label: "K03088"},
	}

	if len(pairs) != len(want) {
		t.Fatalf("expected %d pairs, got %d: %v", len(want), len(pairs), pairs)
	}

	for i := range want {
		if pairs[i] != want[i] {
			t.Errorf("pair %d = %v, want %v", i, pairs[i], want[i])
		}
	}
}

func TestEggnogCluster(t *testing.T) {

	pairs, err := EggnogCluster(eggnogFixture(t))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// g2 has no seed ortholog and is dropped; one row per gene otherwise.
	if len(pairs) != 2 {
		t.Fatalf("expected 2 pairs, got %d: %v", len(pairs), pairs)
	}

	if pairs[0].Gene != "g1" || pairs[0].Label != "394.NGR_c13120" {
		t.Errorf("unexpected first pair: %v", pairs[0])
	}
}

func TestEggnogMissingColumn(t *testing.T) {

	table := &Table{Columns: []string{"#query_name"}, Rows: [][]string{{"g1"}}}

	if _, err := EggnogKO(table); err == nil {
		t.Fatal("a table without the KO column must be rejected")
	}
}

func TestTaxonomyRows(t *testing.T) {

	text := "g1\t1280\t1e-20\ng2\t0\t1e-5\ng3\t562\t1e-9\n"

	table, err := ReadTable(strings.NewReader(text), TableOptions{
		Sep:   '\t',
		Names: []string{"gene", "taxid", "evalue"},
	})
	if err != nil {
		t.Fatalf("fixture table failed to parse: %v", err)
	}

	rows, err := TaxonomyRows(table)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// g2 is unclassified (taxid 0) and is dropped.
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	if rows[0].Gene != "g1" || rows[0].Taxid != 1280 {
		t.Errorf("unexpected first row: %+v", rows[0])
	}
}

func TestTaxonomyRejectsNonNumericTaxid(t *testing.T) {

	table := &Table{
		Columns: []string{"gene", "taxid", "evalue"},
		Rows:    [][]string{{"g1", "none", "1e-5"}},
	}

	if _, err := TaxonomyRows(table); err == nil {
		t.Fatal("a non-numeric taxid must be rejected")
	}
}
