package store

// Fixed container schema. The metadata table is the one exception: its
// columns come from the supplied table header, so it is created at append
// time. "start" and "end" are quoted because END is a SQL keyword. The clr
// column is the only nullable one; it stays empty for samples where the
// transform was skipped.
var tableOrder = []string{
	"abundance",
	"cag_abundance",
	"cags",
	"taxonomic_classification",
	"eggnog_ko",
	"eggnog_cluster",
	"gene_positions",
}

var tableDDL = map[string]string{
	"abundance": `CREATE TABLE IF NOT EXISTS abundance (
		gene TEXT NOT NULL,
		sample TEXT NOT NULL,
		depth REAL NOT NULL,
		clr REAL,
		length REAL NOT NULL,
		coverage REAL NOT NULL,
		nreads REAL NOT NULL
	)`,
	"cag_abundance": `CREATE TABLE IF NOT EXISTS cag_abundance (
		cag_id TEXT NOT NULL,
		sample TEXT NOT NULL,
		depth REAL NOT NULL,
		clr REAL
	)`,
	"cags": `CREATE TABLE IF NOT EXISTS cags (
		cag TEXT NOT NULL,
		gene TEXT NOT NULL
	)`,
	"taxonomic_classification": `CREATE TABLE IF NOT EXISTS taxonomic_classification (
		gene TEXT NOT NULL,
		taxid INTEGER NOT NULL
	)`,
	"eggnog_ko": `CREATE TABLE IF NOT EXISTS eggnog_ko (
		gene TEXT NOT NULL,
		ko TEXT NOT NULL
	)`,
	"eggnog_cluster": `CREATE TABLE IF NOT EXISTS eggnog_cluster (
		gene TEXT NOT NULL,
		eggnog_cluster TEXT NOT NULL
	)`,
	"gene_positions": `CREATE TABLE IF NOT EXISTS gene_positions (
		seqname TEXT NOT NULL,
		cluster TEXT NOT NULL,
		"start" INTEGER NOT NULL,
		"end" INTEGER NOT NULL,
		strand TEXT NOT NULL,
		product TEXT NOT NULL,
		record_id TEXT NOT NULL
	)`,
}

// Indexes mirror the query columns of the read layer. Built once, after all
// tables are populated.
var indexDDL = []string{
	`CREATE INDEX IF NOT EXISTS ix_abundance_gene ON abundance (gene)`,
	`CREATE INDEX IF NOT EXISTS ix_abundance_sample ON abundance (sample)`,
	`CREATE INDEX IF NOT EXISTS ix_cag_abundance_sample ON cag_abundance (sample)`,
	`CREATE INDEX IF NOT EXISTS ix_cags_cag ON cags (cag)`,
	`CREATE INDEX IF NOT EXISTS ix_cags_gene ON cags (gene)`,
	`CREATE INDEX IF NOT EXISTS ix_taxonomic_gene ON taxonomic_classification (gene)`,
	`CREATE INDEX IF NOT EXISTS ix_eggnog_ko_gene ON eggnog_ko (gene)`,
	`CREATE INDEX IF NOT EXISTS ix_eggnog_cluster_gene ON eggnog_cluster (gene)`,
	`CREATE INDEX IF NOT EXISTS ix_positions_seqname ON gene_positions (seqname)`,
	`CREATE INDEX IF NOT EXISTS ix_positions_cluster ON gene_positions (cluster)`,
}
