package guide

import "time"

// Metrics receives sync engine observations.
type Metrics interface {
	ObservePhase(hospitalID int64, phase Phase)
	ObserveVersionCheck(outcome string)
	ObserveReplication(outcome string, elapsed time.Duration, nodesWritten, nodesFailed int)
	ObserveImages(downloaded, failed int)
}

// NopMetrics discards all observations.
type NopMetrics struct{}

func (NopMetrics) ObservePhase(int64, Phase)                          {}
func (NopMetrics) ObserveVersionCheck(string)                         {}
func (NopMetrics) ObserveReplication(string, time.Duration, int, int) {}
func (NopMetrics) ObserveImages(int, int)                             {}
