// Package collection reads a published experiment collection. A Reader is
// read-only; any number of independent readers may open the same container
// at once, each with its own private caches.
package collection

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mbiome/expcollect/internal/util"

	_ "modernc.org/sqlite"
)

var (
	ErrUnknownSample = errors.New("unknown sample")
	ErrUnknownMetric = errors.New("unsupported metric")
)

// DefaultMetric is the abundance metric recorded at build time.
const DefaultMetric = "depth"

// Cache bounds per accessor kind, sized to the expected catalog (hundreds to
// low thousands of samples / contigs).
const (
	seriesCacheSize = 2048
	contigCacheSize = 4096
)

var geneMetrics = map[string]bool{
	"depth": true, "clr": true, "length": true, "coverage": true, "nreads": true,
}

var cagMetrics = map[string]bool{
	"depth": true, "clr": true,
}

// GenePosition is one gene's placement on a contig.
type GenePosition struct {
	Gene    string
	Start   int64
	End     int64
	Strand  string
	Product string
}

// Annotation is one (gene, label) pair.
type Annotation struct {
	Gene  string
	Label string
}

// Reader exposes the read layer over one published container.
type Reader struct {
	path    string
	db      *sql.DB
	metric  string
	samples []string
	known   map[string]bool

	geneSeries  *accessorCache[*Series]
	cagSeries   *accessorCache[*Series]
	contigGenes *accessorCache[[]GenePosition]
	geneContigs *accessorCache[[]string]

	// Whole-table accessors have a single possible key, so a memo field is
	// their size-1 bound.
	meta       map[string]map[string]string
	koPairs    []Annotation
	clustPairs []Annotation
	taxa       map[string]int64
	membership map[string][]string

	// fetches counts reads that went to the container, not the cache.
	fetches int
}

type Option func(*Reader)

// WithMetric overrides the metric recorded at build time, used as the
// default for abundance queries.
func WithMetric(metric string) Option {
	return func(r *Reader) { r.metric = metric }
}

// Open opens a published container read-only and discovers the sample
// catalog from the abundance table.
func Open(path string, opts ...Option) (*Reader, error) {

	if !util.FileExists(path) {
		return nil, fmt.Errorf("collection %s does not exist", path)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, err
	}

	r := &Reader{
		path:        path,
		db:          db,
		metric:      DefaultMetric,
		known:       make(map[string]bool),
		geneSeries:  newAccessorCache[*Series](seriesCacheSize),
		cagSeries:   newAccessorCache[*Series](seriesCacheSize),
		contigGenes: newAccessorCache[[]GenePosition](contigCacheSize),
		geneContigs: newAccessorCache[[]string](contigCacheSize),
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.loadCatalog(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening collection %s: %w", path, err)
	}

	return r, nil
}

func (r *Reader) Close() error {
	return r.db.Close()
}

// Samples returns the ordered catalog of canonical sample identifiers.
func (r *Reader) Samples() []string {
	out := make([]string, len(r.samples))
	copy(out, r.samples)
	return out
}

func (r *Reader) loadCatalog() error {

	var name string
	err := r.db.QueryRow(
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'abundance'`,
	).Scan(&name)
	if err == sql.ErrNoRows {
		// A collection without abundance data has an empty catalog.
		return nil
	}
	if err != nil {
		return err
	}

	rows, err := r.db.Query(`SELECT DISTINCT sample FROM abundance ORDER BY sample`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var sample string
		if err := rows.Scan(&sample); err != nil {
			return err
		}
		r.samples = append(r.samples, sample)
		r.known[sample] = true
	}
	return rows.Err()
}

// AbundanceQuery selects what an abundance matrix should contain. Nil
// Features or Samples means all; an empty Metric means the build-time
// metric. Unknown samples and unsupported metrics are errors; unknown
// features produce NaN cells.
type AbundanceQuery struct {
	Features []string
	Samples  []string
	Metric   string
}

// GeneAbundance assembles the gene x sample matrix.
func (r *Reader) GeneAbundance(q AbundanceQuery) (*Matrix, error) {

	metric, samples, err := r.resolve(q, geneMetrics)
	if err != nil {
		return nil, err
	}

	return assemble(q.Features, samples, func(sample string) (*Series, error) {
		return r.geneSeries.get(sample+"\x1f"+metric, func() (*Series, error) {
			return r.readSeries(`abundance`, `gene`, metric, sample)
		})
	})
}

// CAGAbundance assembles the CAG x sample matrix.
func (r *Reader) CAGAbundance(q AbundanceQuery) (*Matrix, error) {

	metric, samples, err := r.resolve(q, cagMetrics)
	if err != nil {
		return nil, err
	}

	return assemble(q.Features, samples, func(sample string) (*Series, error) {
		return r.cagSeries.get(sample+"\x1f"+metric, func() (*Series, error) {
			return r.readSeries(`cag_abundance`, `cag_id`, metric, sample)
		})
	})
}

func (r *Reader) resolve(q AbundanceQuery, valid map[string]bool) (string, []string, error) {

	metric := q.Metric
	if metric == "" {
		metric = r.metric
	}
	if !valid[metric] {
		return "", nil, fmt.Errorf("%w: %s", ErrUnknownMetric, metric)
	}

	samples := q.Samples
	if samples == nil {
		samples = r.samples
	} else {
		for _, sample := range samples {
			if !r.known[sample] {
				return "", nil, fmt.Errorf("%w: %s", ErrUnknownSample, sample)
			}
		}
	}

	return metric, samples, nil
}

// readSeries pulls one sample's column from an abundance table. Rows whose
// metric is NULL (a sample whose CLR was skipped) are left out, so they
// surface as NaN cells after reindexing.
func (r *Reader) readSeries(table, idCol, metric, sample string) (*Series, error) {

	r.fetches++

	q := fmt.Sprintf(`SELECT %s, "%s" FROM %s WHERE sample = ?`, idCol, metric, table)
	rows, err := r.db.Query(q, sample)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var index []string
	var values []float64
	for rows.Next() {
		var name string
		var v sql.NullFloat64
		if err := rows.Scan(&name, &v); err != nil {
			return nil, err
		}
		if !v.Valid {
			continue
		}
		index = append(index, name)
		values = append(values, v.Float64)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return NewSeries(index, values), nil
}

// Metadata returns the metadata table keyed by canonical sample identifier.
// The sample id lives in the table's first column.
func (r *Reader) Metadata() (map[string]map[string]string, error) {

	if r.meta != nil {
		return r.meta, nil
	}
	r.fetches++

	rows, err := r.db.Query(`SELECT * FROM metadata`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("metadata table has no columns")
	}

	meta := make(map[string]map[string]string)
	for rows.Next() {
		cells := make([]string, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(map[string]string, len(cols))
		for i, col := range cols {
			row[col] = cells[i]
		}
		meta[cells[0]] = row
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	r.meta = meta
	return meta, nil
}

// EggnogAnnotation returns the functional annotation pairs: kind "ko" has
// one row per (gene, KO) pair, kind "cluster" at most one row per gene.
func (r *Reader) EggnogAnnotation(kind string) ([]Annotation, error) {

	switch kind {
	case "ko":
		if r.koPairs == nil {
			pairs, err := r.readPairs(`SELECT gene, ko FROM eggnog_ko`)
			if err != nil {
				return nil, err
			}
			r.koPairs = pairs
		}
		return r.koPairs, nil
	case "cluster":
		if r.clustPairs == nil {
			pairs, err := r.readPairs(`SELECT gene, eggnog_cluster FROM eggnog_cluster`)
			if err != nil {
				return nil, err
			}
			r.clustPairs = pairs
		}
		return r.clustPairs, nil
	}
	return nil, fmt.Errorf("annotation kind must be ko or cluster, got %q", kind)
}

func (r *Reader) readPairs(q string) ([]Annotation, error) {

	r.fetches++

	rows, err := r.db.Query(q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []Annotation
	for rows.Next() {
		var a Annotation
		if err := rows.Scan(&a.Gene, &a.Label); err != nil {
			return nil, err
		}
		pairs = append(pairs, a)
	}
	return pairs, rows.Err()
}

// TaxonomicAnnotation returns the gene -> taxid assignments.
func (r *Reader) TaxonomicAnnotation() (map[string]int64, error) {

	if r.taxa != nil {
		return r.taxa, nil
	}
	r.fetches++

	rows, err := r.db.Query(`SELECT gene, taxid FROM taxonomic_classification`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	taxa := make(map[string]int64)
	for rows.Next() {
		var gene string
		var taxid int64
		if err := rows.Scan(&gene, &taxid); err != nil {
			return nil, err
		}
		taxa[gene] = taxid
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	r.taxa = taxa
	return taxa, nil
}

// CAGMembership returns each CAG's ordered member gene list.
func (r *Reader) CAGMembership() (map[string][]string, error) {

	if r.membership != nil {
		return r.membership, nil
	}
	r.fetches++

	rows, err := r.db.Query(`SELECT cag, gene FROM cags ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	membership := make(map[string][]string)
	for rows.Next() {
		var cag, gene string
		if err := rows.Scan(&cag, &gene); err != nil {
			return nil, err
		}
		membership[cag] = append(membership[cag], gene)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	r.membership = membership
	return membership, nil
}

// ContigsWithGene returns the contigs carrying a gene cluster, linking
// near-identical contigs across samples.
func (r *Reader) ContigsWithGene(gene string) ([]string, error) {

	return r.geneContigs.get(gene, func() ([]string, error) {
		r.fetches++

		rows, err := r.db.Query(
			`SELECT DISTINCT seqname FROM gene_positions WHERE cluster = ? ORDER BY seqname`, gene)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		contigs := []string{}
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return nil, err
			}
			contigs = append(contigs, name)
		}
		return contigs, rows.Err()
	})
}

// ContigStructure returns a contig's genes ordered by start position.
func (r *Reader) ContigStructure(contig string) ([]GenePosition, error) {

	return r.contigGenes.get(contig, func() ([]GenePosition, error) {
		r.fetches++

		rows, err := r.db.Query(
			`SELECT cluster, "start", "end", strand, product
			 FROM gene_positions WHERE seqname = ? ORDER BY "start"`, contig)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		genes := []GenePosition{}
		for rows.Next() {
			var g GenePosition
			if err := rows.Scan(&g.Gene, &g.Start, &g.End, &g.Strand, &g.Product); err != nil {
				return nil, err
			}
			genes = append(genes, g)
		}
		return genes, rows.Err()
	})
}
