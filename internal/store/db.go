package store

import (
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/decentralis-net/decentralis-core/internal/errs"
)

// DB wraps a GORM handle opened against the chunk metadata database,
// exposing the single-writer/multi-reader query surface spec.md's §4.5
// names.
type DB struct {
	gorm *gorm.DB
}

// Open opens (creating if necessary) the SQLite database at path,
// enables foreign keys, and applies any pending forward migrations.
func Open(path string) (*DB, error) {
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		PrepareStmt: true,
		Logger:      logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errs.Wrap(errs.ChunkDatabase, "store.Open", "failed to open database", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, errs.Wrap(errs.ChunkDatabase, "store.Open", "failed to access underlying sql.DB", err)
	}
	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, errs.Wrap(errs.ChunkDatabase, "store.Open", "failed to enable foreign keys", err)
	}
	// A single connection keeps SQLite's writer-serialization implicit
	// rather than fighting the driver for it; reads share that one
	// connection too, so they are serialized with writes rather than
	// served concurrently.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{gorm: gdb}
	if err := db.migrate(); err != nil {
		return nil, err
	}
	return db, nil
}

// Close releases the underlying database connection.
func (db *DB) Close() error {
	sqlDB, err := db.gorm.DB()
	if err != nil {
		return errs.Wrap(errs.ChunkDatabase, "store.Close", "failed to access underlying sql.DB", err)
	}
	return sqlDB.Close()
}

func (db *DB) migrate() error {
	if err := db.gorm.AutoMigrate(
		&FileMetadata{},
		&StoredChunk{},
		&ChunkLocation{},
		&ChunkAssignment{},
		&ReplicationHistory{},
		&ReplicationTask{},
		&Peer{},
		&schemaVersion{},
	); err != nil {
		return errs.Wrap(errs.ChunkDatabase, "store.migrate", "auto-migration failed", err)
	}

	var version schemaVersion
	err := db.gorm.First(&version).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		version = schemaVersion{Version: currentSchemaVersion}
		if err := db.gorm.Create(&version).Error; err != nil {
			return errs.Wrap(errs.ChunkDatabase, "store.migrate", "failed to seed schema_version row", err)
		}
		return nil
	case err != nil:
		return errs.Wrap(errs.ChunkDatabase, "store.migrate", "failed to read schema_version row", err)
	}

	for version.Version < currentSchemaVersion {
		if err := applyMigration(db.gorm, version.Version+1); err != nil {
			return err
		}
		version.Version++
		if err := db.gorm.Save(&version).Error; err != nil {
			return errs.Wrap(errs.ChunkDatabase, "store.migrate", "failed to persist schema_version bump", err)
		}
	}
	return nil
}

// applyMigration runs the forward migration that produces schema
// version n. There is only one version today; future migrations get a
// case here rather than a rewrite of AutoMigrate's column set.
func applyMigration(gdb *gorm.DB, n int) error {
	switch n {
	case 1:
		return nil
	default:
		return errs.New(errs.ChunkDatabase, "store.applyMigration", "no migration defined for target schema version")
	}
}
