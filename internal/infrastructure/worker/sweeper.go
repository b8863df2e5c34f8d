package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/p2p-procurement/internal/application/port"
	"github.com/garyjia/p2p-procurement/internal/domain/entity"
)

// SweeperConfig tunes the orphan sweeper
type SweeperConfig struct {
	Interval time.Duration

	// Grace is the minimum age of a blob before it may be removed. It must
	// exceed the longest workflow transaction, or in-flight uploads are lost.
	Grace time.Duration
}

// OrphanSweeper deletes stored documents no request references. Such blobs
// are left behind when the process dies between writing a document and
// committing the transaction that records it.
type OrphanSweeper struct {
	config  SweeperConfig
	index   port.DocumentIndex
	lister  port.BlobLister
	storage port.FileStorage
	slots   []entity.DocumentSlot
	now     func() time.Time
	logger  *zap.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

var _ Worker = (*OrphanSweeper)(nil)

// NewOrphanSweeper creates a sweeper over the given slots
func NewOrphanSweeper(config SweeperConfig, index port.DocumentIndex, lister port.BlobLister, storage port.FileStorage, slots []entity.DocumentSlot, logger *zap.Logger) *OrphanSweeper {
	return &OrphanSweeper{
		config:  config,
		index:   index,
		lister:  lister,
		storage: storage,
		slots:   slots,
		now:     time.Now,
		logger:  logger,
	}
}

// Name implements Worker
func (s *OrphanSweeper) Name() string {
	return "orphan-sweeper"
}

// Start implements Worker. The first sweep runs after one interval.
func (s *OrphanSweeper) Start(ctx context.Context) error {
	if s.config.Interval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}

	s.stop = make(chan struct{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				if _, err := s.Sweep(ctx); err != nil {
					s.logger.Warn("Orphan sweep failed", zap.Error(err))
				}
			}
		}
	}()
	return nil
}

// Stop implements Worker and waits for a running sweep to finish
func (s *OrphanSweeper) Stop() error {
	if s.stop != nil {
		close(s.stop)
		s.wg.Wait()
		s.stop = nil
	}
	return nil
}

// Sweep removes unreferenced blobs older than the grace period and returns
// how many were removed
func (s *OrphanSweeper) Sweep(ctx context.Context) (int, error) {
	// Snapshot the listing before the index: a blob committed in between is
	// then seen as referenced.
	var candidates []port.StoredObject
	cutoff := s.now().Add(-s.config.Grace)
	for _, slot := range s.slots {
		objects, err := s.lister.List(ctx, slot.Dir())
		if err != nil {
			return 0, err
		}
		for _, obj := range objects {
			if obj.ModTime.Before(cutoff) {
				candidates = append(candidates, obj)
			}
		}
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	referenced, err := s.index.ReferencedDocuments(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, obj := range candidates {
		if _, ok := referenced[obj.Path]; ok {
			continue
		}
		if err := s.storage.Delete(ctx, obj.Path); err != nil {
			s.logger.Warn("Failed to remove orphaned document", zap.String("path", obj.Path), zap.Error(err))
			continue
		}
		removed++
		s.logger.Info("Removed orphaned document",
			zap.String("path", obj.Path),
			zap.Int64("size", obj.Size),
			zap.Time("modified_at", obj.ModTime))
	}
	return removed, nil
}
