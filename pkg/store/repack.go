package store

import (
	"database/sql"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/mbiome/expcollect/logger"
)

// Repack rewrites the finished container in place (VACUUM into a sibling
// file, then swap), producing an equivalent but compacted database. A repack
// failure aborts the build exactly as an ingestion failure would.
func (b *Builder) Repack() error {

	if b.state != StatePopulating {
		return fmt.Errorf("cannot repack from state %s", b.state)
	}
	b.state = StateRepacking

	const step = "repack"
	logger.Info("Repacking the collection", zap.String("path", b.dbPath))

	if b.db != nil {
		if err := b.db.Close(); err != nil {
			return b.Fail(FailureCompaction, step, err)
		}
		b.db = nil
	}

	repacked := b.dbPath + ".repacked"
	if err := os.RemoveAll(repacked); err != nil {
		return b.Fail(FailureCompaction, step, err)
	}

	db, err := sql.Open("sqlite", b.dbPath)
	if err != nil {
		return b.Fail(FailureCompaction, step, err)
	}

	vacuum := fmt.Sprintf(`VACUUM INTO '%s'`, strings.ReplaceAll(repacked, `'`, `''`))
	if _, err := db.Exec(vacuum); err != nil {
		db.Close()
		return b.Fail(FailureCompaction, step, err)
	}
	if err := db.Close(); err != nil {
		return b.Fail(FailureCompaction, step, err)
	}

	if err := os.Rename(repacked, b.dbPath); err != nil {
		return b.Fail(FailureCompaction, step, err)
	}

	logger.Info("Repack complete")
	return nil
}
