package history

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Denis-Chistyakov/aigen/pkg/types"
)

// Recorder defaults
const (
	DefaultConfirmTimeout = 2 * time.Second
	DefaultWriteTimeout   = 10 * time.Second
)

// RecorderConfig tunes the recorder
type RecorderConfig struct {
	ConfirmTimeout time.Duration
	WriteTimeout   time.Duration
}

// Recorder writes history without ever failing the request that produced it
type Recorder struct {
	store    Store
	index    Indexer
	failures FailureCounter
	cfg      RecorderConfig
}

// NewRecorder creates a recorder. index and failures may be nil.
func NewRecorder(store Store, index Indexer, failures FailureCounter, cfg RecorderConfig) *Recorder {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	return &Recorder{store: store, index: index, failures: failures, cfg: cfg}
}

type appendResult struct {
	id  int64
	err error
}

// Record starts persisting rec and returns its id if the write is confirmed
// within the confirm timeout. The write itself outlives ctx.
func (r *Recorder) Record(ctx context.Context, rec *types.HistoryRecord) *int64 {
	if r.store == nil {
		return nil
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	done := make(chan appendResult, 1)
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.WriteTimeout)

	go func() {
		defer cancel()
		id, err := r.store.Append(writeCtx, rec)
		done <- appendResult{id: id, err: err}
		if err != nil {
			r.fail(rec, err)
			return
		}
		stored := *rec
		stored.ID = id
		r.mirror(writeCtx, &stored)
	}()

	timer := time.NewTimer(r.cfg.ConfirmTimeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			return nil
		}
		id := res.id
		return &id
	case <-timer.C:
		log.Warn().
			Int64("user_id", rec.UserID).
			Str("item_type", string(rec.ItemType)).
			Dur("confirm_timeout", r.cfg.ConfirmTimeout).
			Msg("History write not confirmed in time")
		return nil
	}
}

func (r *Recorder) fail(rec *types.HistoryRecord, err error) {
	log.Error().
		Err(err).
		Int64("user_id", rec.UserID).
		Str("item_type", string(rec.ItemType)).
		Msg("Failed to save history")
	if r.failures != nil {
		r.failures.RecordHistoryFailure()
	}
}

func (r *Recorder) mirror(ctx context.Context, rec *types.HistoryRecord) {
	if r.index == nil {
		return
	}
	if err := r.index.IndexRecord(ctx, rec); err != nil {
		log.Warn().Err(err).Int64("id", rec.ID).Msg("Failed to index history record")
	}
}

// Forget removes a deleted record from the search index, if any
func (r *Recorder) Forget(ctx context.Context, id int64) {
	if r.index == nil {
		return
	}
	if err := r.index.DeleteRecord(ctx, id); err != nil {
		log.Warn().Err(err).Int64("id", id).Msg("Failed to remove history record from index")
	}
}
