package native

import "time"

// NativeStats tracks compilation and execution of one native function.
type NativeStats struct {
	CompileTime          time.Duration
	ExecutionCount       uint64
	TotalExecutionTimeUs uint64
	AvgExecutionTimeUs   uint64
	Stubbed              bool
}

// record adds one successful execution.
func (s *NativeStats) record(elapsed time.Duration) {
	s.ExecutionCount++
	s.TotalExecutionTimeUs += uint64(elapsed.Microseconds())
	s.AvgExecutionTimeUs = s.TotalExecutionTimeUs / s.ExecutionCount
}
