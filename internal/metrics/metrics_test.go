package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveOperation(t *testing.T) {
	before := testutil.ToFloat64(DeviceOperations.WithLabelValues("restart", "failed"))
	ObserveOperation("restart", false, 20*time.Millisecond)
	ObserveOperation("restart", true, 20*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(DeviceOperations.WithLabelValues("restart", "failed")))
}

func TestObserveReachability(t *testing.T) {
	before := testutil.ToFloat64(ReachabilityChecks.WithLabelValues("unreachable"))
	ObserveReachability(false)
	ObserveReachability(true)
	assert.Equal(t, before+1, testutil.ToFloat64(ReachabilityChecks.WithLabelValues("unreachable")))
}
