package ssh

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocrtool/ocrtool/simulate"
)

func startDevice(t *testing.T, cfg simulate.DeviceConfig) *simulate.Server {
	t.Helper()
	if cfg.Username == "" {
		cfg.Username = "jetson"
	}
	if cfg.Password == "" {
		cfg.Password = "s3cret"
	}
	srv, err := simulate.NewServer(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv
}

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	exec, err := NewExecutor(Config{HostKeyPolicy: HostKeyTOFU})
	require.NoError(t, err)
	return exec
}

func target(srv *simulate.Server, name string) Target {
	return Target{Name: name, Address: srv.Addr(), Username: "jetson", Secret: "s3cret"}
}

func TestExecuteStatusKeepsFirstField(t *testing.T) {
	srv := startDevice(t, simulate.DeviceConfig{})
	exec := newTestExecutor(t)

	out := exec.Execute(context.Background(), target(srv, "front"), "uptime", time.Second)

	require.True(t, out.OK(), out.Error)
	assert.Equal(t, "FRONT", out.Name)
	assert.True(t, strings.HasSuffix(out.Payload, "up 3 days"), out.Payload)
	assert.NotContains(t, out.Payload, ",")
	assert.Equal(t, []string{"uptime"}, srv.Commands())
}

func TestExecuteOutputWithoutComma(t *testing.T) {
	srv := startDevice(t, simulate.DeviceConfig{
		Responses: map[string]string{"cat /etc/timestamp": "1700000000\n"},
	})
	exec := newTestExecutor(t)

	out := exec.Execute(context.Background(), target(srv, "rear"), "cat /etc/timestamp", time.Second)

	require.True(t, out.OK(), out.Error)
	assert.Equal(t, "1700000000\n", out.Payload)
}

func TestExecuteEmptyOutputIsSuccess(t *testing.T) {
	srv := startDevice(t, simulate.DeviceConfig{})
	exec := newTestExecutor(t)

	out := exec.Execute(context.Background(), target(srv, "trigger"),
		"echo 's3cret' | sudo -S systemctl restart trigger.service", time.Second)

	assert.True(t, out.OK(), out.Error)
	assert.Empty(t, out.Payload)
}

func TestExecuteNonZeroExitIsNotAnError(t *testing.T) {
	srv := startDevice(t, simulate.DeviceConfig{})
	exec := newTestExecutor(t)

	out := exec.Execute(context.Background(), target(srv, "front"), "no-such-binary", time.Second)

	assert.True(t, out.OK(), out.Error)
	assert.Empty(t, out.Payload)
}

func TestExecuteRebootDisconnectIsSuccess(t *testing.T) {
	srv := startDevice(t, simulate.DeviceConfig{})
	exec := newTestExecutor(t)

	out := exec.Execute(context.Background(), target(srv, "front"), "echo 's3cret' | sudo -S reboot now", time.Second)

	assert.True(t, out.OK(), out.Error)
}

func TestExecuteAuthFailure(t *testing.T) {
	srv := startDevice(t, simulate.DeviceConfig{})
	exec := newTestExecutor(t)

	tg := target(srv, "front")
	tg.Secret = "wrong"
	out := exec.Execute(context.Background(), tg, "uptime", time.Second)

	assert.False(t, out.OK())
	assert.Equal(t, "FRONT", out.Name)
	assert.Empty(t, out.Payload)
	assert.Contains(t, out.Error, "unable to authenticate")
}

func TestExecuteConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	exec := newTestExecutor(t)
	out := exec.Execute(context.Background(), Target{Name: "gone", Address: addr, Username: "u", Secret: "p"}, "uptime", time.Second)

	assert.False(t, out.OK())
	assert.Equal(t, "GONE", out.Name)
	assert.Contains(t, out.Error, "failed to dial")
}

func TestExecuteTimeout(t *testing.T) {
	srv := startDevice(t, simulate.DeviceConfig{Delay: 500 * time.Millisecond})
	exec := newTestExecutor(t)

	start := time.Now()
	out := exec.Execute(context.Background(), target(srv, "slow"), "uptime", 150*time.Millisecond)

	assert.False(t, out.OK())
	assert.Contains(t, out.Error, "timeout")
	assert.Less(t, time.Since(start), 450*time.Millisecond)
}

func TestExecutorAddress(t *testing.T) {
	exec := newTestExecutor(t)
	assert.Equal(t, "10.0.1.11:22", exec.address("10.0.1.11"))
	assert.Equal(t, "10.0.1.11:2200", exec.address("10.0.1.11:2200"))
	assert.Equal(t, "[fe80::1]:22", exec.address("fe80::1"))
}

func TestFirstField(t *testing.T) {
	assert.Equal(t, " 10:00:01 up 3 days", FirstField(" 10:00:01 up 3 days,  4:05,  1 user"))
	assert.Equal(t, "no comma here", FirstField("no comma here"))
	assert.Equal(t, "", FirstField(""))
}
