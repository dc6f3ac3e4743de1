package serving

import (
	"context"
	"time"

	"github.com/google/uuid"

	"pricingd/internal/store"
)

// worker drains the async queue. Selecting on stopCh alongside the queue
// gives the same shutdown guarantee as a poll loop without busy-waiting.
func (e *Engine) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case req := <-e.queue:
			queueDepth.Set(float64(len(e.queue)))
			if age := time.Since(req.enqueuedAt); age > e.maxDelay {
				droppedTotal.WithLabelValues("stale").Inc()
				e.log.Warn().Dur("age", age).Msg("dropping stale prediction request")
				continue
			}
			e.handle(req)
		}
	}
}

func (e *Engine) handle(req queued) {
	cur := e.current()
	if cur == nil {
		droppedTotal.WithLabelValues("no_model").Inc()
		e.log.Warn().Msg("no model loaded, dropping queued prediction")
		return
	}

	start := time.Now()
	adjustments, err := cur.art.Infer(req.state)
	latencyMs := float64(time.Since(start)) / float64(time.Millisecond)

	if e.recorder != nil {
		e.recorder.RecordPrediction(latencyMs, err != nil, len(e.queue), cur.accuracy, err == nil && spreadCompliant(req.state, adjustments))
	}
	if err != nil {
		e.log.Error().Err(err).Msg("async inference failed")
		return
	}
	predictionsTotal.WithLabelValues("async").Inc()

	if e.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	rec := store.PredictionRecord{
		PredictionID: uuid.NewString(),
		Timestamp:    time.Now(),
		ModelVersion: cur.versionID,
		LatencyMs:    latencyMs,
		QueueSize:    len(e.queue),
		Adjustments:  adjustments,
	}
	if err := e.sink.StorePrediction(ctx, rec); err != nil {
		// Persistence is best-effort for async results; the worker
		// keeps serving.
		e.log.Error().Err(err).Msg("failed to store prediction")
	}
}
