package transform

import (
	"fmt"
	"strconv"
)

// GenePosition is one predicted gene on one assembled contig. Cluster links
// the gene across near-identical contigs found in different assemblies.
type GenePosition struct {
	Seqname  string
	Cluster  string
	Start    int64
	End      int64
	Strand   string
	Product  string
	RecordID string
}

// GenePositions extracts the integrated-assembly gene coordinate rows from a
// table with columns seqname, cluster, start, end, strand, product, ID.
func GenePositions(t *Table) ([]GenePosition, error) {

	cols := make(map[string]int, 7)
	for _, name := range []string{"seqname", "cluster", "start", "end", "strand", "product", "ID"} {
		ix, err := t.Col(name)
		if err != nil {
			return nil, err
		}
		cols[name] = ix
	}

	rows := make([]GenePosition, 0, len(t.Rows))

	for i, row := range t.Rows {

		start, err := parseInt(row[cols["start"]])
		if err != nil {
			return nil, fmt.Errorf("row %d: start %q is not an integer", i, row[cols["start"]])
		}
		end, err := parseInt(row[cols["end"]])
		if err != nil {
			return nil, fmt.Errorf("row %d: end %q is not an integer", i, row[cols["end"]])
		}

		strand := row[cols["strand"]]
		if strand != "+" && strand != "-" {
			return nil, fmt.Errorf("row %d: strand must be + or -, got %q", i, strand)
		}

		rows = append(rows, GenePosition{
			Seqname:  row[cols["seqname"]],
			Cluster:  row[cols["cluster"]],
			Start:    start,
			End:      end,
			Strand:   strand,
			Product:  row[cols["product"]],
			RecordID: row[cols["ID"]],
		})
	}

	return rows, nil
}

func parseInt(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
