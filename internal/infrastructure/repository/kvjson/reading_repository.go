// Package kvjson stores the reading collection and the job table as JSON
// blobs in a key-value backend, one blob per collection.
package kvjson

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mkotova/lifeline/internal/core/domain"
	"github.com/mkotova/lifeline/internal/core/ports"
)

const readingsKey = "palm_readings"

// ReadingRepository keeps all readings in a single JSON array, newest first.
// Every mutation is a read-modify-write of the whole blob, serialized by mu.
type ReadingRepository struct {
	mu    sync.Mutex
	store ports.KeyValueStore
}

func NewReadingRepository(store ports.KeyValueStore) *ReadingRepository {
	return &ReadingRepository{store: store}
}

func (r *ReadingRepository) List(ctx context.Context) ([]domain.Reading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked(ctx), nil
}

func (r *ReadingRepository) Get(ctx context.Context, id string) (domain.Reading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, reading := range r.loadLocked(ctx) {
		if reading.ID == id {
			return reading, nil
		}
	}
	return domain.Reading{}, domain.WrapError(domain.ErrReadingNotFound, "readings.get", fmt.Errorf("no reading with id %s", id))
}

func (r *ReadingRepository) Append(ctx context.Context, reading domain.Reading) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	readings, err := r.loadForWriteLocked(ctx)
	if err != nil {
		return err
	}
	for _, existing := range readings {
		if existing.ID == reading.ID {
			return nil
		}
	}

	updated := make([]domain.Reading, 0, len(readings)+1)
	updated = append(updated, reading)
	updated = append(updated, readings...)
	return r.saveLocked(ctx, updated)
}

func (r *ReadingRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	readings, err := r.loadForWriteLocked(ctx)
	if err != nil {
		return err
	}
	kept := readings[:0]
	removed := false
	for _, reading := range readings {
		if reading.ID == id {
			removed = true
			continue
		}
		kept = append(kept, reading)
	}
	if !removed {
		return nil
	}
	return r.saveLocked(ctx, kept)
}

// loadLocked fails open: a missing, unreadable, or corrupt blob is treated as
// an empty collection so a bad write can never brick the whole history view.
func (r *ReadingRepository) loadLocked(ctx context.Context) []domain.Reading {
	readings, err := r.loadForWriteLocked(ctx)
	if err != nil {
		slog.Warn("readings_blob_unreadable", "key", readingsKey, "error", err)
		return nil
	}
	return readings
}

// loadForWriteLocked surfaces backend read errors so a mutation never rewrites
// the blob from a state it could not actually see. A corrupt blob stays
// tolerated: its history is already lost and the write replaces it.
func (r *ReadingRepository) loadForWriteLocked(ctx context.Context) ([]domain.Reading, error) {
	raw, ok, err := r.store.GetItem(ctx, readingsKey)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStorage, "readings.load", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}

	var readings []domain.Reading
	if err := json.Unmarshal([]byte(raw), &readings); err != nil {
		slog.Warn("readings_blob_corrupt", "key", readingsKey, "error", err)
		return nil, nil
	}
	return readings, nil
}

func (r *ReadingRepository) saveLocked(ctx context.Context, readings []domain.Reading) error {
	if readings == nil {
		readings = []domain.Reading{}
	}
	raw, err := json.Marshal(readings)
	if err != nil {
		return domain.WrapError(domain.ErrStorage, "readings.save", err)
	}
	if err := r.store.SetItem(ctx, readingsKey, string(raw)); err != nil {
		return domain.WrapError(domain.ErrStorage, "readings.save", err)
	}
	return nil
}
