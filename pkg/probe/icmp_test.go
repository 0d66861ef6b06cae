package probe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHost(t *testing.T) {
	assert.Equal(t, "10.0.1.11", Host("10.0.1.11"))
	assert.Equal(t, "10.0.1.11", Host(" 10.0.1.11:2222 "))
	assert.Equal(t, "fe80::1", Host("[fe80::1]:22"))
	assert.Equal(t, "fe80::1", Host("fe80::1"))
}

func TestReachableInvalidHost(t *testing.T) {
	p := NewICMPProber(0, false)
	assert.Equal(t, 1, p.count)
	assert.False(t, p.Reachable(context.Background(), "invalid host name .", 100*time.Millisecond))
}

func TestResolveIPLiteralSkipsLookup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ip, err := resolve(ctx, "10.0.1.11")
	require.NoError(t, err)
	assert.Equal(t, "10.0.1.11", ip)

	ip, err = resolve(ctx, "fe80::1")
	require.NoError(t, err)
	assert.Equal(t, "fe80::1", ip)
}

func TestResolveHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := resolve(ctx, "gate-01.ocr.invalid")
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestReachableUnresolvableHostWithinTimeout(t *testing.T) {
	p := NewICMPProber(1, false)
	start := time.Now()
	assert.False(t, p.Reachable(context.Background(), "gate-01.ocr.invalid:22", 200*time.Millisecond))
	assert.Less(t, time.Since(start), 2*time.Second)
}
