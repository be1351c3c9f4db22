// Classfeedback - Live Classroom Presentation Sync
// Copyright 2026 twistedtree83
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/twistedtree83/classfeedback

package services

import (
	"context"
	"time"

	"github.com/twistedtree83/classfeedback/internal/logging"
	"github.com/twistedtree83/classfeedback/internal/metrics"
)

// GarbageCollector matches store.GarbageCollector.
type GarbageCollector interface {
	RunGC() error
}

// StoreGCService runs value-log garbage collection on a timer. A failed
// pass is logged and retried at the next tick; it never stops the service.
type StoreGCService struct {
	gc       GarbageCollector
	interval time.Duration
	name     string
}

// NewStoreGCService returns a service running gc every interval. A
// non-positive interval means 10 minutes.
func NewStoreGCService(gc GarbageCollector, interval time.Duration) *StoreGCService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &StoreGCService{gc: gc, interval: interval, name: "store-gc"}
}

// Serve implements suture.Service.
func (s *StoreGCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			if err := s.gc.RunGC(); err != nil {
				metrics.StoreGCRuns.WithLabelValues("error").Inc()
				logging.Warn().Err(err).Msg("store garbage collection failed")
				continue
			}
			metrics.StoreGCRuns.WithLabelValues("ok").Inc()
			logging.Debug().Dur("took", time.Since(start)).Msg("store garbage collection finished")
		}
	}
}

func (s *StoreGCService) String() string {
	return s.name
}
