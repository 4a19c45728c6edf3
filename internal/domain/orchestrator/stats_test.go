package orchestrator

import "testing"

// TestComputeProgress_TimingPhaseMilestones pins the progress values at
// each milestone of a scan with one timing module carrying 4 ops and 2/2
// pages audited in the regular phase.
func TestComputeProgress_TimingPhaseMilestones(t *testing.T) {
	base := progressInput{
		sitemapSize:         2,
		auditedCount:        2,
		timingModulesLoaded: true,
	}

	beforeTimingPhase := base
	if got := computeProgress(beforeTimingPhase, nil); got != 50.0 {
		t.Fatalf("before timing phase: progress = %v, want 50.0", got)
	}

	halfway := base
	halfway.runningTimingAttacks = true
	halfway.timingTotalOps = 4
	halfway.timingRemainingOps = 2
	if got := computeProgress(halfway, nil); got != 75.0 {
		t.Fatalf("2/4 timing ops done: progress = %v, want 75.0", got)
	}

	done := base
	done.runningTimingAttacks = false // Coordinator.Run's defer has already flipped this
	done.timingTotalOps = 4
	done.timingRemainingOps = 0
	if got := computeProgress(done, nil); got != 100.0 {
		t.Fatalf("4/4 timing ops done: progress = %v, want 100.0", got)
	}
}

func TestComputeProgress_NoTimingModulesReachesExactly100(t *testing.T) {
	in := progressInput{sitemapSize: 2, auditedCount: 2}
	if got := computeProgress(in, nil); got != 100.0 {
		t.Fatalf("progress = %v, want 100.0", got)
	}
}

func TestComputeProgress_ZeroEffectiveSitemapReportsZero(t *testing.T) {
	in := progressInput{sitemapSize: 0, auditedCount: 0}
	if got := computeProgress(in, nil); got != 0.0 {
		t.Fatalf("progress = %v, want 0.0", got)
	}

	allRedirects := progressInput{sitemapSize: 3, redirectCount: 3}
	if got := computeProgress(allRedirects, nil); got != 0.0 {
		t.Fatalf("progress = %v, want 0.0", got)
	}
}

func TestComputeProgress_OvershootClampsAndReportsRaw(t *testing.T) {
	in := progressInput{
		sitemapSize:          2,
		auditedCount:         3, // violates the auditmap <= sitemap invariant on purpose
		timingModulesLoaded:  true,
		runningTimingAttacks: true,
		timingTotalOps:       4,
		timingRemainingOps:   0,
	}

	var reported float64
	got := computeProgress(in, func(raw float64) { reported = raw })
	if got != 100.0 {
		t.Fatalf("progress = %v, want clamped 100.0", got)
	}
	if reported <= 100.0 {
		t.Fatalf("onOvershoot called with %v, want a value above 100.0", reported)
	}
}
