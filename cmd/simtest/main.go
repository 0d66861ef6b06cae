package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ocrtool/ocrtool/pkg/logger"
	"github.com/ocrtool/ocrtool/pkg/ssh"
	"github.com/ocrtool/ocrtool/simulate"
)

type topologyDevice struct {
	Name     string `json:"name"`
	IP       string `json:"ip"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type topologyGate struct {
	Name    string           `json:"name"`
	Devices []topologyDevice `json:"devices"`
}

// 启动 simulate.yaml 中的模拟设备，可选写出对应的拓扑文件，并对每台设备执行一次 uptime
func main() {
	configPath := flag.String("config", "simulate/simulate.yaml", "simulate config")
	gateName := flag.String("gate", "SIM", "gate name in the generated topology")
	topologyOut := flag.String("topology-out", "", "write a topology JSON for the simulated devices")
	probeOnly := flag.Bool("probe-only", false, "exit after probing every device")
	flag.Parse()

	cfg, err := simulate.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	mgr, err := simulate.Start(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer mgr.Stop()

	gate := topologyGate{Name: *gateName}
	for _, name := range mgr.Names() {
		dc := cfg.Devices[name]
		gate.Devices = append(gate.Devices, topologyDevice{Name: name, IP: mgr.Addr(name), Username: dc.Username, Password: dc.Password})
	}

	if *topologyOut != "" {
		data, err := json.MarshalIndent(map[string][]topologyGate{"gate": {gate}}, "", "  ")
		if err == nil {
			err = os.WriteFile(*topologyOut, data, 0o644)
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		logger.WithField("path", *topologyOut).Info("Simulate: topology written")
	}

	exec, err := ssh.NewExecutor(ssh.Config{HostKeyPolicy: ssh.HostKeyInsecure})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	for _, d := range gate.Devices {
		o := exec.Execute(context.Background(), ssh.Target{Name: d.Name, Address: d.IP, Username: d.Username, Secret: d.Password}, "uptime", 5*time.Second)
		if o.OK() {
			fmt.Printf("%-12s %-22s %s\n", o.Name, d.IP, o.Payload)
		} else {
			fmt.Printf("%-12s %-22s ERROR: %s\n", o.Name, d.IP, o.Error)
		}
	}
	if *probeOnly {
		return
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}
