// Package pipeline is the real-time core of mindscope: it moves sample
// batches and probability vectors from their producer goroutines to the
// render goroutine and turns the buffered state into display frames.
//
// Data flows leaves first:
//
//	Device.StreamSamples   ─► Queue[Batch]         ─┐
//	Device.StreamInference ─► Queue[Probabilities] ─┼─► Session.Render ─► Frame ─► Presenter
//	                                                 │    (Buffers, Classifier, Estimator)
//	Scheduler tick (50 ms) ──────────────────────────┘
//
// Producers only ever push into a [Queue]. The render goroutine is the only
// writer of [Buffers] and [Classifier] during a session, so ingestion order
// is preserved end to end.
package pipeline
