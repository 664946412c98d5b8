package transform

import (
	"fmt"
	"strings"
)

// Column names produced by eggNOG-mapper.
const (
	eggnogQueryCol   = "#query_name"
	eggnogKOCol      = "KEGG_KOs"
	eggnogClusterCol = "seed_eggNOG_ortholog"
)

// GeneLabel is one (gene, annotation label) pair.
type GeneLabel struct {
	Gene  string
	Label string
}

// EggnogKO explodes the KEGG_KOs column of an eggNOG-mapper table into one
// row per (gene, KO) pair. Genes with no KO assigned are dropped.
func EggnogKO(t *Table) ([]GeneLabel, error) {

	gene_col, err := t.Col(eggnogQueryCol)
	if err != nil {
		return nil, err
	}
	ko_col, err := t.Col(eggnogKOCol)
	if err != nil {
		return nil, err
	}

	var pairs []GeneLabel

	for _, row := range t.Rows {
		kos := row[ko_col]
		if kos == "" || kos == "none" {
			continue
		}
		for _, ko := range strings.Split(kos, ",") {
			ko = strings.TrimSpace(ko)
			if ko == "" {
				continue
			}
			pairs = append(pairs, GeneLabel{Gene: row[gene_col], Label: ko})
		}
	}

	return pairs, nil
}

// EggnogCluster returns one (gene, seed eggNOG ortholog) pair per gene,
// dropping genes with no cluster assigned.
func EggnogCluster(t *Table) ([]GeneLabel, error) {

	gene_col, err := t.Col(eggnogQueryCol)
	if err != nil {
		return nil, err
	}
	cluster_col, err := t.Col(eggnogClusterCol)
	if err != nil {
		return nil, err
	}

	var pairs []GeneLabel

	for _, row := range t.Rows {
		cluster := row[cluster_col]
		if cluster == "" || cluster == "none" {
			continue
		}
		pairs = append(pairs, GeneLabel{Gene: row[gene_col], Label: cluster})
	}

	return pairs, nil
}

// TaxonRow is one gene -> NCBI taxid assignment.
type TaxonRow struct {
	Gene  string
	Taxid int64
}

// TaxonomyRows extracts (gene, taxid) pairs from a taxonomic classification
// table (columns gene, taxid, evalue). Unclassified genes (taxid 0) are
// dropped.
func TaxonomyRows(t *Table) ([]TaxonRow, error) {

	gene_col, err := t.Col("gene")
	if err != nil {
		return nil, err
	}
	taxid_col, err := t.Col("taxid")
	if err != nil {
		return nil, err
	}

	var rows []TaxonRow

	for i, row := range t.Rows {
		taxid, err := parseInt(row[taxid_col])
		if err != nil {
			return nil, fmt.Errorf("row %d: taxid %q is not an integer", i, row[taxid_col])
		}
		if taxid == 0 {
			continue
		}
		rows = append(rows, TaxonRow{Gene: row[gene_col], Taxid: taxid})
	}

	return rows, nil
}
