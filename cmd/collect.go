package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"sort"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mbiome/expcollect/logger"
	"github.com/mbiome/expcollect/pkg/blob"
	"github.com/mbiome/expcollect/pkg/store"
)

var collectArgs struct {
	outputDB        string
	outputLogs      string
	sampleSheet     string
	cagsJSON        string
	metadataTable   string
	metadataSep     string
	taxonomyTSV     string
	eggnogTSV       string
	genePositions   string
	priorCollection string
	tempFolder      string
}

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect all available information about one WGS experiment",
	Long: `Collect validates, transforms and appends every supplied input into
a fresh (or prior) collection, repacks it, and publishes the finished
container and build log to their destinations. Inputs and destinations may
be local paths or s3:// locations; .gz inputs are decompressed on read.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runCollect(cmd.Context())
	},
}

func init() {
	f := collectCmd.Flags()

	f.StringVar(&collectArgs.outputDB, "output-db", "", "destination for the collection container")
	f.StringVar(&collectArgs.outputLogs, "output-logs", "", "destination for the build log")
	f.StringVar(&collectArgs.sampleSheet, "abundance-sample-sheet", "", "JSON mapping each sample name to its abundance file [.json[.gz]]")
	f.StringVar(&collectArgs.cagsJSON, "cags-json", "", "JSON describing CAG membership for each gene")
	f.StringVar(&collectArgs.metadataTable, "metadata-table", "", "specimen metadata table")
	f.StringVar(&collectArgs.metadataSep, "metadata-field-sep", ",", "field separator for the metadata table")
	f.StringVar(&collectArgs.taxonomyTSV, "taxonomic-classification-tsv", "", "TSV with the taxonomic assignment for each gene")
	f.StringVar(&collectArgs.eggnogTSV, "eggnog-mapper-tsv", "", "TSV with the eggNOG mapper output for each gene")
	f.StringVar(&collectArgs.genePositions, "gene-positions-tsv", "", "TSV with gene positions on the integrated assembly")
	f.StringVar(&collectArgs.priorCollection, "prior-collection", "", "existing collection to extend instead of starting fresh")
	f.StringVar(&collectArgs.tempFolder, "temp-folder", "/scratch", "folder for temporary files")

	collectCmd.MarkFlagRequired("output-db")
	collectCmd.MarkFlagRequired("output-logs")

	rootCmd.AddCommand(collectCmd)
}

func runCollect(ctx context.Context) error {

	dotenvErr := godotenv.Load()

	level := zapcore.InfoLevel
	if v := os.Getenv("EXPCOLLECT_LOG_LEVEL"); v != "" {
		if err := level.Set(v); err != nil {
			return fmt.Errorf("EXPCOLLECT_LOG_LEVEL: %w", err)
		}
	}

	b, err := store.NewBuilder(collectArgs.tempFolder)
	if err != nil {
		return err
	}

	// The build log lives in the scratch folder until it is published.
	if err := logger.InitLogger(level, b.LogPath()); err != nil {
		return err
	}
	defer logger.Sync()

	if dotenvErr != nil {
		logger.Warn("No .env found, using local environment")
	}

	st := blob.New()

	prior, err := localize(ctx, st, b, collectArgs.priorCollection)
	if err != nil {
		return err
	}
	if prior != "" {
		if err := b.LoadPrior(prior); err != nil {
			return err
		}
	}

	in, err := gatherInputs(ctx, st, b)
	if err != nil {
		return err
	}

	if err := b.Populate(in); err != nil {
		return err
	}
	if err := b.Repack(); err != nil {
		return err
	}
	if err := b.Publish(ctx, st, collectArgs.outputDB, collectArgs.outputLogs); err != nil {
		return err
	}

	logger.Info("Removing temporary folder")
	return b.Cleanup()
}

// gatherInputs fetches every remote input into the scratch folder and
// resolves the sample sheet into per-sample sources.
func gatherInputs(ctx context.Context, st *blob.Store, b *store.Builder) (store.Inputs, error) {

	var in store.Inputs
	var err error

	if in.CAGs, err = localize(ctx, st, b, collectArgs.cagsJSON); err != nil {
		return in, err
	}
	if in.Metadata, err = localize(ctx, st, b, collectArgs.metadataTable); err != nil {
		return in, err
	}
	if in.Taxonomy, err = localize(ctx, st, b, collectArgs.taxonomyTSV); err != nil {
		return in, err
	}
	if in.Eggnog, err = localize(ctx, st, b, collectArgs.eggnogTSV); err != nil {
		return in, err
	}
	if in.GenePositions, err = localize(ctx, st, b, collectArgs.genePositions); err != nil {
		return in, err
	}

	for _, r := range collectArgs.metadataSep {
		in.MetadataSep = r
		break
	}

	if collectArgs.sampleSheet == "" {
		return in, nil
	}

	sheetFp, err := localize(ctx, st, b, collectArgs.sampleSheet)
	if err != nil {
		return in, err
	}

	logger.Info("Reading in the sample sheet", zap.String("from", sheetFp))
	sheet, err := readSampleSheet(sheetFp)
	if err != nil {
		return in, b.Fail(store.FailureValidation, "sample sheet", err)
	}

	names := make([]string, 0, len(sheet))
	for name := range sheet {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fp, err := localize(ctx, st, b, sheet[name])
		if err != nil {
			return in, err
		}
		in.Samples = append(in.Samples, store.SampleSource{Name: name, Path: fp})
	}

	return in, nil
}

// localize fetches one remote source into the scratch folder; local paths
// pass through untouched. A fetch failure aborts the build.
func localize(ctx context.Context, st *blob.Store, b *store.Builder, src string) (string, error) {

	if src == "" || !blob.IsRemote(src) {
		return src, nil
	}

	dst := path.Join(b.WorkDir(), path.Base(src))
	logger.Info("Fetching input", zap.String("from", src), zap.String("to", dst))

	if err := st.Fetch(ctx, src, dst); err != nil {
		return "", b.Fail(store.FailureFetch, "fetch "+src, err)
	}
	return dst, nil
}

// readSampleSheet parses the sample sheet, a JSON object mapping each sample
// name to the path of its abundance file.
func readSampleSheet(fp string) (map[string]string, error) {

	r, err := blob.OpenLocal(fp)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var sheet map[string]string
	if err := json.NewDecoder(r).Decode(&sheet); err != nil {
		return nil, fmt.Errorf("sample sheet must be a JSON object of sample to path: %w", err)
	}
	return sheet, nil
}
