package orchestrator

import (
	"math"
	"time"
)

// Stats is a point-in-time snapshot of scan progress and HTTP counters,
// the orchestrator's answer to stats().
type Stats struct {
	State      State
	Paused     bool
	Running    bool
	CurrentURL string

	SitemapSize  int
	AuditmapSize int

	RequestCount  int64
	ResponseCount int64
	TimeoutCount  int64

	AverageResTime   float64
	CurrResPerSecond float64
	MaxConcurrency   int

	RunningTimingAttacks bool
	TimingTotalOps       int
	TimingRemainingOps   int

	Progress float64
	Elapsed  time.Duration
	ETA      time.Duration
}

// progressInput is the subset of live orchestrator state the progress
// formula reads, isolated so it can be unit tested without a full
// orchestrator.
type progressInput struct {
	sitemapSize          int
	auditedCount         int
	redirectCount        int
	timingModulesLoaded  bool
	runningTimingAttacks bool
	timingTotalOps       int
	timingRemainingOps   int
}

// computeProgress implements the progress model: effective sitemap size
// subtracts redirect noise; the regular phase contributes up to 100% of
// progress if no timing modules are loaded, else up to 50%, with the
// timing phase contributing the remaining 50% as its operations drain.
// Division failures and an empty effective sitemap report 0.0. The result
// is rounded to 2 decimals and clamped to at most 100.0.
func computeProgress(in progressInput, onOvershoot func(raw float64)) float64 {
	effective := in.sitemapSize - in.redirectCount
	if effective <= 0 {
		return 0.0
	}

	multiplier := 100.0
	if in.timingModulesLoaded {
		multiplier = 50.0
	}

	progress := (float64(in.auditedCount) / float64(effective)) * multiplier

	// Gated on timingTotalOps having been snapshotted (the phase was
	// started), not on runningTimingAttacks: the phase's own "running" flag
	// drops to false the instant its last op completes, and progress must
	// read 100.0 at that point, not fall back to the regular-phase-only
	// 50.0.
	if in.timingTotalOps > 0 {
		done := in.timingTotalOps - in.timingRemainingOps
		progress += (float64(done) / float64(in.timingTotalOps)) * 50.0
	}

	rounded := math.Round(progress*100) / 100

	if rounded > 100.0 {
		if onOvershoot != nil {
			onOvershoot(rounded)
		}
		return 100.0
	}
	return rounded
}
