package service

import (
	"context"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocrtool/ocrtool/pkg/ssh"
	"github.com/ocrtool/ocrtool/simulate"
)

func startSimDevice(t *testing.T) *simulate.Server {
	t.Helper()
	srv, err := simulate.NewServer(simulate.DeviceConfig{Username: "jetson", Password: "pw"})
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv
}

func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestFleetServiceAgainstSimulatedDevices(t *testing.T) {
	trigger := startSimDevice(t)
	ocr1 := startSimDevice(t)
	ocr2 := startSimDevice(t)
	wrongPassword := startSimDevice(t)

	device := func(name, addr, password string) string {
		return fmt.Sprintf(`{"name":%q,"ip":%q,"username":"jetson","password":%q}`, name, addr, password)
	}
	doc := `{"gate":[{"name":"LANE-1","devices":[` + strings.Join([]string{
		device("ocr-2", ocr2.Addr(), "pw"),
		device("trigger", trigger.Addr(), "pw"),
		device("ocr-1", ocr1.Addr(), "pw"),
		device("ocr-bad", wrongPassword.Addr(), "nope"),
		device("ocr-off", closedAddr(t), "pw"),
	}, ",") + `]}]}`

	exec, err := ssh.NewExecutor(ssh.Config{HostKeyPolicy: ssh.HostKeyTOFU})
	require.NoError(t, err)
	obs := &recordingObserver{}
	svc := NewFleetService(exec, staticFleet{mustFleet(t, doc)}, obs, nil, FleetOptions{})
	ctx := context.Background()

	outcomes, err := svc.Status(ctx, "LANE-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"OCR-1", "OCR-2", "OCR-BAD", "OCR-OFF", "TRIGGER"}, outcomeNames(outcomes))
	for _, o := range outcomes {
		switch o.Name {
		case "OCR-BAD", "OCR-OFF":
			assert.NotEmpty(t, o.Error, o.Name)
			assert.Empty(t, o.Payload, o.Name)
		default:
			require.True(t, o.OK(), "%s: %s", o.Name, o.Error)
			assert.Contains(t, o.Payload, " up 3 days")
			assert.NotContains(t, o.Payload, ",")
		}
	}

	job, err := svc.Restart(ctx, "LANE-1", []string{"TRIGGER", "OCR-1"})
	require.NoError(t, err)
	for _, o := range waitJob(t, job) {
		assert.True(t, o.OK(), "%s: %s", o.Name, o.Error)
	}
	assert.Contains(t, trigger.Commands(), "echo 'pw' | sudo -S systemctl restart trigger.service")
	assert.Contains(t, ocr1.Commands(), "pm2 restart ocr")
	assert.NotContains(t, ocr2.Commands(), "pm2 restart ocr")

	job, err = svc.Reboot(ctx, "LANE-1", []string{"ocr-2"})
	require.NoError(t, err)
	rebooted := waitJob(t, job)
	require.Len(t, rebooted, 1)
	assert.True(t, rebooted[0].OK(), rebooted[0].Error)
	assert.Contains(t, ocr2.Commands(), "echo 'pw' | sudo -S reboot now")
}
