package pipelib

import "sync"

var timerPool = &TimerPool{sp: sync.Pool{}, m: newPoolMetrics()}

// StartPoolMetrics begins folding the package-level pools' window counters
// into their accumulative totals once per DefaultTickerDuration. Per-Pipeline
// pools are started via Pipeline.StartPoolMetrics.
func StartPoolMetrics() {
	timerPool.m.start()
}

func ReleasePoolMetrics() {
	timerPool.m.release()
}
