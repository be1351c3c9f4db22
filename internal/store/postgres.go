// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/twistedtree83/classfeedback/internal/metrics"
	"github.com/twistedtree83/classfeedback/internal/models"
)

const versionSequence = "classfeed_record_version_seq"

type recordRow struct {
	Kind       string         `gorm:"column:kind;primaryKey;size:32"`
	ID         string         `gorm:"column:id;primaryKey;size:128"`
	Version    int64          `gorm:"column:version;not null;index"`
	Partitions datatypes.JSON `gorm:"column:partitions;type:jsonb;not null"`
	Data       datatypes.JSON `gorm:"column:data;type:jsonb;not null"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;not null"`
}

func (recordRow) TableName() string { return "classfeed_records" }

type partitionRow struct {
	Kind         string `gorm:"column:kind;primaryKey;size:32"`
	PartitionKey string `gorm:"column:partition_key;primaryKey;size:256"`
	RecordID     string `gorm:"column:record_id;primaryKey;size:128"`
}

func (partitionRow) TableName() string { return "classfeed_record_partitions" }

func (r *recordRow) envelope() (models.Envelope, error) {
	env := models.Envelope{
		Kind:      models.Kind(r.Kind),
		ID:        r.ID,
		Version:   uint64(r.Version),
		UpdatedAt: r.UpdatedAt,
		Data:      json.RawMessage(r.Data),
	}
	if err := json.Unmarshal(r.Partitions, &env.Partitions); err != nil {
		return env, fmt.Errorf("decode partitions of %s %s: %w", r.Kind, r.ID, err)
	}
	return env, nil
}

// PostgresStore keeps records in two tables: one row per record and one row
// per (record, partition) for the partition query.
//
// Versions come from a database sequence. As with BadgerStore, writes from
// this process are serialized so that commit order matches version order;
// only one classfeed process may write to a database.
type PostgresStore struct {
	db      *gorm.DB
	writeMu sync.Mutex
}

// OpenPostgres connects with dsn and migrates the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxIdleTime(time.Minute)
	sqlDB.SetConnMaxLifetime(10 * time.Minute)

	s := &PostgresStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.Exec("CREATE SEQUENCE IF NOT EXISTS " + versionSequence).Error; err != nil {
		return fmt.Errorf("create version sequence: %w", err)
	}
	if err := db.AutoMigrate(&recordRow{}, &partitionRow{}); err != nil {
		return fmt.Errorf("migrate record tables: %w", err)
	}
	return nil
}

func nextVersion(tx *gorm.DB) (int64, error) {
	var v int64
	if err := tx.Raw("SELECT nextval('" + versionSequence + "')").Scan(&v).Error; err != nil {
		return 0, fmt.Errorf("next version: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) Put(ctx context.Context, env models.Envelope) (out models.Envelope, err error) {
	start := time.Now()
	defer func() { metrics.RecordStoreOperation("postgres", "put", start, err) }()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prev recordRow
		err := tx.Where("kind = ? AND id = ?", string(env.Kind), env.ID).Take(&prev).Error
		switch {
		case err == nil:
			old, err := prev.envelope()
			if err != nil {
				return err
			}
			env.Partitions = mergePartitions(old.Partitions, env.Partitions)
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("read %s %s: %w", env.Kind, env.ID, err)
		}

		v, err := nextVersion(tx)
		if err != nil {
			return err
		}
		parts, err := json.Marshal(env.Partitions)
		if err != nil {
			return fmt.Errorf("encode partitions: %w", err)
		}
		env.Version = uint64(v)
		env.UpdatedAt = now()

		row := recordRow{
			Kind:       string(env.Kind),
			ID:         env.ID,
			Version:    v,
			Partitions: datatypes.JSON(parts),
			Data:       datatypes.JSON(env.Data),
			UpdatedAt:  env.UpdatedAt,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "kind"}, {Name: "id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"version":    row.Version,
				"partitions": row.Partitions,
				"data":       row.Data,
				"updated_at": row.UpdatedAt,
			}),
		}).Create(&row).Error; err != nil {
			return fmt.Errorf("upsert %s %s: %w", env.Kind, env.ID, err)
		}

		if len(env.Partitions) == 0 {
			return nil
		}
		idx := make([]partitionRow, 0, len(env.Partitions))
		for _, p := range env.Partitions {
			idx = append(idx, partitionRow{Kind: string(env.Kind), PartitionKey: p, RecordID: env.ID})
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&idx).Error; err != nil {
			return fmt.Errorf("index %s %s: %w", env.Kind, env.ID, err)
		}
		return nil
	})
	if err != nil {
		return models.Envelope{}, err
	}
	return env, nil
}

func (s *PostgresStore) Get(ctx context.Context, kind models.Kind, id string) (env models.Envelope, err error) {
	start := time.Now()
	defer func() { metrics.RecordStoreOperation("postgres", "get", start, ignoreNotFound(err)) }()

	var row recordRow
	err = s.db.WithContext(ctx).Where("kind = ? AND id = ?", string(kind), id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Envelope{}, fmt.Errorf("%s %s: %w", kind, id, models.ErrNotFound)
	}
	if err != nil {
		return models.Envelope{}, fmt.Errorf("get %s %s: %w", kind, id, err)
	}
	return row.envelope()
}

func (s *PostgresStore) Update(ctx context.Context, kind models.Kind, id string, fn MutateFunc) (env models.Envelope, changed bool, err error) {
	start := time.Now()
	defer func() { metrics.RecordStoreOperation("postgres", "update", start, ignoreNotFound(err)) }()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row recordRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("kind = ? AND id = ?", string(kind), id).
			Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%s %s: %w", kind, id, models.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock %s %s: %w", kind, id, err)
		}

		cur, err := row.envelope()
		if err != nil {
			return err
		}
		data, err := fn(cur.Data)
		if errors.Is(err, ErrUnchanged) {
			env = cur
			return nil
		}
		if err != nil {
			return err
		}

		v, err := nextVersion(tx)
		if err != nil {
			return err
		}
		cur.Version = uint64(v)
		cur.UpdatedAt = now()
		cur.Data = data
		if err := tx.Model(&recordRow{}).
			Where("kind = ? AND id = ?", string(kind), id).
			Updates(map[string]interface{}{
				"version":    v,
				"data":       datatypes.JSON(data),
				"updated_at": cur.UpdatedAt,
			}).Error; err != nil {
			return fmt.Errorf("update %s %s: %w", kind, id, err)
		}
		env, changed = cur, true
		return nil
	})
	if err != nil {
		return models.Envelope{}, false, err
	}
	return env, changed, nil
}

func (s *PostgresStore) Query(ctx context.Context, kind models.Kind, partition string, since uint64) (out []models.Envelope, err error) {
	start := time.Now()
	defer func() { metrics.RecordStoreOperation("postgres", "query", start, err) }()

	db := s.db.WithContext(ctx)
	ids := db.Model(&partitionRow{}).
		Select("record_id").
		Where("kind = ? AND partition_key = ?", string(kind), partition)

	var rows []recordRow
	err = db.Where("kind = ? AND version > ? AND id IN (?)", string(kind), int64(since), ids).
		Order("version ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query %s/%s: %w", kind, partition, err)
	}

	out = make([]models.Envelope, 0, len(rows))
	for i := range rows {
		env, err := rows[i].envelope()
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
