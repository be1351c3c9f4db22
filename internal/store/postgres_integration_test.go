// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

//go:build integration

package store

import (
	"context"
	"testing"

	"github.com/twistedtree83/classfeedback/internal/testinfra"
)

func TestPostgresStoreConformance(t *testing.T) {
	testinfra.SkipIfNoDocker(t)

	ctx := context.Background()
	pg, err := testinfra.NewPostgresContainer(ctx)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	defer testinfra.CleanupContainer(t, ctx, pg)

	// Each subtest gets fresh tables.
	open := func(t *testing.T) Store {
		s, err := OpenPostgres(ctx, pg.DSN)
		if err != nil {
			t.Fatalf("OpenPostgres() error = %v", err)
		}
		if err := s.db.Exec("TRUNCATE classfeed_records, classfeed_record_partitions").Error; err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return s
	}
	runConformance(t, open)
}
