package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sweepTopology = `{
  "gate": [
    {"name": "G1", "devices": [
      {"name": "up-slow", "ip": "10.1.0.1", "username": "u", "password": "p"},
      {"name": "down-fast", "ip": "10.1.0.2", "username": "u", "password": "p"}
    ]},
    {"name": "G2", "devices": [
      {"name": "up", "ip": "10.2.0.1", "username": "u", "password": "p"}
    ]}
  ]
}`

func TestSweepReportsUnreachable(t *testing.T) {
	prober := &fakeProber{
		down:   map[string]bool{"10.1.0.2": true},
		delays: map[string]time.Duration{"10.1.0.1": 30 * time.Millisecond},
	}
	obs := &recordingObserver{}
	sweeper := NewSweeper(prober, time.Second, obs)

	results := sweeper.Sweep(context.Background(), mustFleet(t, sweepTopology))
	require.Len(t, results, 3)

	var down []Reachability
	byDevice := map[string]bool{}
	for _, r := range results {
		byDevice[r.Device] = r.Reachable
		if !r.Reachable {
			down = append(down, r)
		}
	}
	require.Len(t, down, 1)
	assert.Equal(t, Reachability{Gate: "G1", Device: "down-fast", Address: "10.1.0.2", Reachable: false}, down[0])
	assert.True(t, byDevice["up-slow"])
	assert.True(t, byDevice["up"])

	// 闸口按拓扑顺序处理
	assert.Equal(t, "G2", results[2].Gate)
	assert.Len(t, obs.Pings(), 3)
}

func TestSweepDevicesWithinGateRunInParallel(t *testing.T) {
	doc := `{"gate":[{"name":"G","devices":[
	  {"name":"a","ip":"10.0.0.1","username":"u","password":"p"},
	  {"name":"b","ip":"10.0.0.2","username":"u","password":"p"},
	  {"name":"c","ip":"10.0.0.3","username":"u","password":"p"},
	  {"name":"d","ip":"10.0.0.4","username":"u","password":"p"}]}]}`
	delays := map[string]time.Duration{}
	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4"} {
		delays[ip] = 100 * time.Millisecond
	}
	sweeper := NewSweeper(&fakeProber{delays: delays}, time.Second, nil)

	start := time.Now()
	results := sweeper.Sweep(context.Background(), mustFleet(t, doc))
	assert.Len(t, results, 4)
	assert.Less(t, time.Since(start), 350*time.Millisecond)
}

func TestSweepNilFleet(t *testing.T) {
	sweeper := NewSweeper(&fakeProber{}, 0, nil)
	assert.Empty(t, sweeper.Sweep(context.Background(), nil))
}

func TestSweepStopsOnCancel(t *testing.T) {
	prober := &fakeProber{}
	sweeper := NewSweeper(prober, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Empty(t, sweeper.Sweep(ctx, mustFleet(t, sweepTopology)))
}
