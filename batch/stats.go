package batch

import "time"

// Stats are cumulative counters since the scheduler was created.
type Stats struct {
	TasksSubmitted uint64
	TasksCompleted uint64
	TasksFailed    uint64
	TasksCancelled uint64

	// BatchesProcessed counts successful batches only.
	BatchesProcessed uint64

	// AvgBatchSize and AvgProcessingTime are running means over
	// successful batches.
	AvgBatchSize      float64
	AvgProcessingTime time.Duration

	MaxQueueLength int
	TotalRetries   uint64
}

// Status is a point-in-time view of a Scheduler.
type Status struct {
	QueueLength     int
	InFlight        int // tasks
	InFlightBatches int
	Paused          bool
	Stats           Stats
}

func (s *Stats) recordBatch(size int, elapsed time.Duration) {
	s.BatchesProcessed++
	n := float64(s.BatchesProcessed)
	s.AvgBatchSize += (float64(size) - s.AvgBatchSize) / n
	s.AvgProcessingTime += time.Duration((float64(elapsed) - float64(s.AvgProcessingTime)) / n)
}
