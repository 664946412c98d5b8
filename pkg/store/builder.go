// The collection builder. One build validates, transforms and appends every
// supplied input into a working copy of the sqlite container, repacks it,
// and publishes it; any failure discards the working copy.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mbiome/expcollect/internal/util"
	"github.com/mbiome/expcollect/logger"
	"github.com/mbiome/expcollect/pkg/blob"
	"github.com/mbiome/expcollect/pkg/transform"

	_ "modernc.org/sqlite"
)

// State is the builder's position in its lifecycle. Any failure in any state
// moves the builder to StateAborted.
type State int

const (
	StateCreated State = iota
	StateLoaded
	StatePopulating
	StateRepacking
	StatePublished
	StateCleanedUp
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateLoaded:
		return "loaded"
	case StatePopulating:
		return "populating"
	case StateRepacking:
		return "repacking"
	case StatePublished:
		return "published"
	case StateCleanedUp:
		return "cleaned-up"
	case StateAborted:
		return "aborted"
	}
	return "unknown"
}

// SampleSource is one sample's abundance JSON, already fetched to a local
// path. Name is canonicalized at ingest.
type SampleSource struct {
	Name string
	Path string
}

// Inputs lists the local paths of everything one build may ingest. All are
// optional, but at least one must be present.
type Inputs struct {
	CAGs          string
	Samples       []SampleSource
	Metadata      string
	MetadataSep   rune
	Taxonomy      string
	Eggnog        string
	GenePositions string
	Abundance     transform.AbundanceOptions
}

func (in *Inputs) Empty() bool {
	return in.CAGs == "" && len(in.Samples) == 0 && in.Metadata == "" &&
		in.Taxonomy == "" && in.Eggnog == "" && in.GenePositions == ""
}

// Publisher copies a local file to a local or remote destination.
type Publisher interface {
	Publish(ctx context.Context, local, dst string) error
}

// Builder owns an exclusive working copy of the container under a scratch
// folder. The working copy is never exposed until the whole build succeeds.
type Builder struct {
	workDir string
	dbPath  string
	logPath string
	db      *sql.DB
	state   State
	cags    *transform.CAGSet
}

// NewBuilder creates the per-build scratch folder under scratchRoot.
func NewBuilder(scratchRoot string) (*Builder, error) {

	if !util.DirExists(scratchRoot) {
		return nil, fmt.Errorf("scratch folder %s does not exist", scratchRoot)
	}

	workDir := path.Join(scratchRoot, uuid.NewString()[:8])
	if err := os.Mkdir(workDir, 0755); err != nil {
		return nil, err
	}

	return &Builder{
		workDir: workDir,
		dbPath:  path.Join(workDir, "collection.sqlite"),
		logPath: path.Join(workDir, "log.txt"),
		state:   StateCreated,
	}, nil
}

func (b *Builder) WorkDir() string { return b.workDir }
func (b *Builder) Path() string    { return b.dbPath }
func (b *Builder) LogPath() string { return b.logPath }
func (b *Builder) State() State    { return b.state }

// LoadPrior copies an existing collection into the working path so this
// build extends it instead of starting fresh.
func (b *Builder) LoadPrior(localPath string) error {

	if b.state != StateCreated {
		return fmt.Errorf("cannot load a prior collection from state %s", b.state)
	}

	if !util.FileExists(localPath) {
		return b.Fail(FailureFetch, "load prior collection",
			fmt.Errorf("%s does not exist", localPath))
	}

	if err := util.CopyFile(localPath, b.dbPath); err != nil {
		return b.Fail(FailureFetch, "load prior collection", err)
	}

	logger.Info("Loaded prior collection", zap.String("from", localPath))
	b.state = StateLoaded
	return nil
}

// Fail records the failure, discards the working copy, and moves the builder
// to StateAborted. The returned error is what the build reports.
func (b *Builder) Fail(kind FailureKind, step string, err error) error {

	berr := buildErr(kind, step, err)
	logger.Error("Build failed, discarding the working copy",
		zap.String("step", step),
		zap.String("kind", kind.String()),
		zap.Error(err))

	if b.db != nil {
		b.db.Close()
		b.db = nil
	}

	if rmErr := os.RemoveAll(b.workDir); rmErr != nil {
		logger.Error("Could not remove the scratch folder", zap.Error(rmErr))
	}

	b.state = StateAborted
	return berr
}

// Populate appends every supplied input to the working copy in a fixed
// order: CAG membership first (so per-sample CAG abundance can be derived),
// then each sample's abundance, then metadata, taxonomy, functional
// annotation, and gene positions.
func (b *Builder) Populate(in Inputs) error {

	if b.state != StateCreated && b.state != StateLoaded {
		return fmt.Errorf("cannot populate from state %s", b.state)
	}
	b.state = StatePopulating

	if in.Empty() {
		return b.Fail(FailureValidation, "populate", fmt.Errorf("no input data has been specified"))
	}

	if in.Abundance.ResultsKey == "" {
		in.Abundance = transform.DefaultAbundanceOptions()
	}

	db, err := sql.Open("sqlite", b.dbPath)
	if err != nil {
		return b.Fail(FailureWrite, "open working copy", err)
	}
	b.db = db

	for _, name := range tableOrder {
		if _, err := db.Exec(tableDDL[name]); err != nil {
			return b.Fail(FailureWrite, "create tables", err)
		}
	}

	if in.CAGs != "" {
		if err := b.addCAGs(in.CAGs); err != nil {
			return err
		}
	}

	for _, sample := range in.Samples {
		if err := b.addSample(sample, in.Abundance); err != nil {
			return err
		}
	}

	if in.Metadata != "" {
		if err := b.addMetadata(in.Metadata, in.MetadataSep); err != nil {
			return err
		}
	}

	if in.Taxonomy != "" {
		if err := b.addTaxonomy(in.Taxonomy); err != nil {
			return err
		}
	}

	if in.Eggnog != "" {
		if err := b.addEggnog(in.Eggnog); err != nil {
			return err
		}
	}

	if in.GenePositions != "" {
		if err := b.addGenePositions(in.GenePositions); err != nil {
			return err
		}
	}

	for _, ddl := range indexDDL {
		if _, err := db.Exec(ddl); err != nil {
			return b.Fail(FailureWrite, "create indexes", err)
		}
	}

	return nil
}

func (b *Builder) addCAGs(fp string) error {

	const step = "CAG membership"
	logger.Info("Reading in the CAGs and adding to the collection", zap.String("from", fp))

	r, err := blob.OpenLocal(fp)
	if err != nil {
		return b.Fail(FailureFetch, step, err)
	}
	defer r.Close()

	cags, err := transform.ParseCAGs(r)
	if err != nil {
		return b.Fail(FailureValidation, step, err)
	}

	if err := b.replaceTable("cags"); err != nil {
		return b.Fail(FailureWrite, step, err)
	}

	err = b.withTx(func(tx *sql.Tx) error {
		stm, err := tx.Prepare(`INSERT INTO cags (cag, gene) VALUES (?, ?)`)
		if err != nil {
			return err
		}
		defer stm.Close()

		for _, cagID := range cags.Order {
			for _, gene := range cags.Members[cagID] {
				if _, err := stm.Exec(cagID, gene); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return b.Fail(FailureWrite, step, err)
	}

	b.cags = cags
	logger.Info("Added CAG membership", zap.Int("cags", cags.Len()))
	return nil
}

func (b *Builder) addSample(sample SampleSource, opts transform.AbundanceOptions) error {

	name := util.CanonicalSampleName(sample.Name)
	step := "abundance for " + name
	logger.Info("Adding sample abundance",
		zap.String("sample", name), zap.String("from", sample.Path))

	r, err := blob.OpenLocal(sample.Path)
	if err != nil {
		return b.Fail(FailureFetch, step, err)
	}
	defer r.Close()

	records, err := transform.ParseAbundance(r, opts)
	if err != nil {
		return b.Fail(FailureValidation, step, err)
	}

	logger.Info("Sample parsed", zap.String("sample", name), zap.Int("genes", len(records)))

	// The CLR is only derived when the input metric is not already a CLR,
	// and only when every abundance is positive.
	gmean, haveGmean := 0.0, false
	if opts.AbundanceKey != "clr" {
		if transform.ComputeCLR(records) {
			gmean, haveGmean = transform.GeometricMean(records)
		} else {
			logger.Info("Cannot calculate the CLR with values <= 0", zap.String("sample", name))
		}
	}

	err = b.withTx(func(tx *sql.Tx) error {
		stm, err := tx.Prepare(`INSERT INTO abundance
			(gene, sample, depth, clr, length, coverage, nreads)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stm.Close()

		for _, rec := range records {
			var clr interface{}
			if rec.HasCLR {
				clr = rec.CLR
			}
			if len(rec.Other) != 3 {
				return fmt.Errorf("gene %s has %d auxiliary fields, expected 3", rec.Gene, len(rec.Other))
			}
			if _, err := stm.Exec(rec.Gene, name, rec.Abundance, clr,
				rec.Other[0], rec.Other[1], rec.Other[2]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return b.Fail(FailureWrite, step, err)
	}

	if b.cags != nil {
		if err := b.addCAGAbundance(name, records, gmean, haveGmean); err != nil {
			return err
		}
	}

	logger.Info("Done reading in abundance", zap.String("sample", name))
	return nil
}

// addCAGAbundance derives per-CAG rows for one sample: the mean abundance
// over member genes (absent genes count as zero), with the CLR taken against
// the sample's gene-level geometric mean. CAGs not detected at all are
// omitted.
func (b *Builder) addCAGAbundance(sample string, records []transform.GeneAbundance, gmean float64, haveGmean bool) error {

	step := "CAG abundance for " + sample

	abund := make(map[string]float64, len(records))
	for _, rec := range records {
		abund[rec.Gene] = rec.Abundance
	}

	written := 0
	err := b.withTx(func(tx *sql.Tx) error {
		stm, err := tx.Prepare(`INSERT INTO cag_abundance
			(cag_id, sample, depth, clr) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stm.Close()

		for _, cagID := range b.cags.Order {
			members := b.cags.Members[cagID]

			total := 0.0
			for _, gene := range members {
				total += abund[gene]
			}
			mean := total / float64(len(members))
			if mean <= 0 {
				continue
			}

			var clr interface{}
			if haveGmean {
				clr = math.Log10(mean / gmean)
			}

			if _, err := stm.Exec(cagID, sample, mean, clr); err != nil {
				return err
			}
			written++
		}
		return nil
	})
	if err != nil {
		return b.Fail(FailureWrite, step, err)
	}

	logger.Info("Wrote CAG abundance", zap.String("sample", sample), zap.Int("cags", written))
	return nil
}

func (b *Builder) addMetadata(fp string, sep rune) error {

	const step = "metadata"
	logger.Info("Reading in the metadata table and adding to the collection", zap.String("from", fp))

	if sep == 0 {
		sep = ','
	}

	r, err := blob.OpenLocal(fp)
	if err != nil {
		return b.Fail(FailureFetch, step, err)
	}
	defer r.Close()

	table, err := transform.ReadTable(r, transform.TableOptions{Sep: sep})
	if err != nil {
		return b.Fail(FailureValidation, step, err)
	}
	if len(table.Columns) == 0 || len(table.Rows) == 0 {
		return b.Fail(FailureValidation, step, fmt.Errorf("metadata table is empty"))
	}

	// The first column holds the sample identifier; canonicalize it so
	// metadata joins against the abundance tables.
	for _, row := range table.Rows {
		row[0] = util.CanonicalSampleName(row[0])
	}

	quoted := make([]string, len(table.Columns))
	marks := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		quoted[i] = quoteIdent(col) + " TEXT NOT NULL"
		marks[i] = "?"
	}

	if _, err := b.db.Exec(`DROP TABLE IF EXISTS metadata`); err != nil {
		return b.Fail(FailureWrite, step, err)
	}
	ddl := fmt.Sprintf("CREATE TABLE metadata (%s)", strings.Join(quoted, ", "))
	if _, err := b.db.Exec(ddl); err != nil {
		return b.Fail(FailureWrite, step, err)
	}

	insert := fmt.Sprintf("INSERT INTO metadata VALUES (%s)", strings.Join(marks, ", "))
	err = b.withTx(func(tx *sql.Tx) error {
		stm, err := tx.Prepare(insert)
		if err != nil {
			return err
		}
		defer stm.Close()

		for _, row := range table.Rows {
			args := make([]interface{}, len(row))
			for i, v := range row {
				args[i] = v
			}
			if _, err := stm.Exec(args...); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return b.Fail(FailureWrite, step, err)
	}

	logger.Info("Added metadata", zap.Int("rows", len(table.Rows)))
	return nil
}

func (b *Builder) addTaxonomy(fp string) error {

	const step = "taxonomic classification"
	logger.Info("Reading in the taxonomic classification table", zap.String("from", fp))

	r, err := blob.OpenLocal(fp)
	if err != nil {
		return b.Fail(FailureFetch, step, err)
	}
	defer r.Close()

	table, err := transform.ReadTable(r, transform.TableOptions{
		Sep:   '\t',
		Names: []string{"gene", "taxid", "evalue"},
	})
	if err != nil {
		return b.Fail(FailureValidation, step, err)
	}

	rows, err := transform.TaxonomyRows(table)
	if err != nil {
		return b.Fail(FailureValidation, step, err)
	}

	if err := b.replaceTable("taxonomic_classification"); err != nil {
		return b.Fail(FailureWrite, step, err)
	}

	err = b.withTx(func(tx *sql.Tx) error {
		stm, err := tx.Prepare(`INSERT INTO taxonomic_classification (gene, taxid) VALUES (?, ?)`)
		if err != nil {
			return err
		}
		defer stm.Close()

		for _, row := range rows {
			if _, err := stm.Exec(row.Gene, row.Taxid); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return b.Fail(FailureWrite, step, err)
	}

	logger.Info("Added taxonomic classification", zap.Int("rows", len(rows)))
	return nil
}

func (b *Builder) addEggnog(fp string) error {

	const step = "eggNOG annotation"
	logger.Info("Reading in the eggNOG mapper results", zap.String("from", fp))

	r, err := blob.OpenLocal(fp)
	if err != nil {
		return b.Fail(FailureFetch, step, err)
	}
	defer r.Close()

	// eggNOG-mapper output carries three comment rows above the header.
	table, err := transform.ReadTable(r, transform.TableOptions{Sep: '\t', SkipRows: 3})
	if err != nil {
		return b.Fail(FailureValidation, step, err)
	}

	kos, err := transform.EggnogKO(table)
	if err != nil {
		return b.Fail(FailureValidation, step, err)
	}
	clusters, err := transform.EggnogCluster(table)
	if err != nil {
		return b.Fail(FailureValidation, step, err)
	}

	for _, name := range []string{"eggnog_ko", "eggnog_cluster"} {
		if err := b.replaceTable(name); err != nil {
			return b.Fail(FailureWrite, step, err)
		}
	}

	err = b.withTx(func(tx *sql.Tx) error {
		koStm, err := tx.Prepare(`INSERT INTO eggnog_ko (gene, ko) VALUES (?, ?)`)
		if err != nil {
			return err
		}
		defer koStm.Close()
		for _, pair := range kos {
			if _, err := koStm.Exec(pair.Gene, pair.Label); err != nil {
				return err
			}
		}

		clStm, err := tx.Prepare(`INSERT INTO eggnog_cluster (gene, eggnog_cluster) VALUES (?, ?)`)
		if err != nil {
			return err
		}
		defer clStm.Close()
		for _, pair := range clusters {
			if _, err := clStm.Exec(pair.Gene, pair.Label); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return b.Fail(FailureWrite, step, err)
	}

	logger.Info("Added eggNOG annotation",
		zap.Int("ko_rows", len(kos)), zap.Int("cluster_rows", len(clusters)))
	return nil
}

func (b *Builder) addGenePositions(fp string) error {

	const step = "gene positions"
	logger.Info("Reading in the assembly gene positions", zap.String("from", fp))

	r, err := blob.OpenLocal(fp)
	if err != nil {
		return b.Fail(FailureFetch, step, err)
	}
	defer r.Close()

	table, err := transform.ReadTable(r, transform.TableOptions{Sep: '\t'})
	if err != nil {
		return b.Fail(FailureValidation, step, err)
	}

	rows, err := transform.GenePositions(table)
	if err != nil {
		return b.Fail(FailureValidation, step, err)
	}

	if err := b.replaceTable("gene_positions"); err != nil {
		return b.Fail(FailureWrite, step, err)
	}

	err = b.withTx(func(tx *sql.Tx) error {
		stm, err := tx.Prepare(`INSERT INTO gene_positions
			(seqname, cluster, "start", "end", strand, product, record_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stm.Close()

		for _, row := range rows {
			if _, err := stm.Exec(row.Seqname, row.Cluster, row.Start, row.End,
				row.Strand, row.Product, row.RecordID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return b.Fail(FailureWrite, step, err)
	}

	logger.Info("Added gene positions", zap.Int("rows", len(rows)))
	return nil
}

// Publish copies the finished container and the build log to their
// destinations after a successful repack.
func (b *Builder) Publish(ctx context.Context, pub Publisher, containerDst, logDst string) error {

	if b.state != StateRepacking {
		return fmt.Errorf("cannot publish from state %s", b.state)
	}

	logger.Info("Publishing the collection", zap.String("to", containerDst))
	if err := pub.Publish(ctx, b.dbPath, containerDst); err != nil {
		return b.Fail(FailureFetch, "publish collection", err)
	}

	if logDst != "" {
		logger.Info("Publishing the build log", zap.String("to", logDst))
		logger.Sync()
		if err := pub.Publish(ctx, b.logPath, logDst); err != nil {
			return b.Fail(FailureFetch, "publish log", err)
		}
	}

	b.state = StatePublished
	return nil
}

// Cleanup removes the scratch folder once everything has been published.
func (b *Builder) Cleanup() error {

	if b.state != StatePublished {
		return fmt.Errorf("cannot clean up from state %s", b.state)
	}

	if b.db != nil {
		b.db.Close()
		b.db = nil
	}

	if err := os.RemoveAll(b.workDir); err != nil {
		return err
	}

	b.state = StateCleanedUp
	return nil
}

// replaceTable drops and recreates one of the fixed tables, so re-supplied
// inputs replace the prior collection's copy instead of appending to it.
func (b *Builder) replaceTable(name string) error {
	if _, err := b.db.Exec(`DROP TABLE IF EXISTS ` + name); err != nil {
		return err
	}
	_, err := b.db.Exec(tableDDL[name])
	return err
}

func (b *Builder) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := b.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
