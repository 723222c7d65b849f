package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorsRegistered(t *testing.T) {
	for _, c := range []prometheus.Collector{PipelineRuns, PipelineStageDuration, SafetyBlocks, LLMRequests, PlatformDeliveries, DispatchQueueDepth, DispatchDropped} {
		if err := prometheus.Register(c); err == nil {
			t.Fatalf("collector %T was not registered at init", c)
		}
	}
}

func TestObserveStage(t *testing.T) {
	before := testutil.CollectAndCount(PipelineStageDuration)
	ObserveStage("TestStage", time.Now().Add(-10*time.Millisecond))
	if after := testutil.CollectAndCount(PipelineStageDuration); after != before+1 {
		t.Fatalf("expected a new stage series, got %d -> %d", before, after)
	}
}
