package service

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ocrtool/ocrtool/internal/topology"
	"github.com/ocrtool/ocrtool/pkg/ssh"
)

const testTopology = `{
  "gate": [
    {"name": "GATE-A", "devices": [
      {"name": "ocr-3", "ip": "10.0.0.3", "username": "pi", "password": "s3"},
      {"name": "trigger", "ip": "10.0.0.9", "username": "pi", "password": "t0p"},
      {"name": "ocr-1", "ip": "10.0.0.1", "username": "pi", "password": "s1"},
      {"name": "ocr-2", "ip": "10.0.0.2", "username": "pi", "password": "s2", "command": "date +%s,x"}
    ]},
    {"name": "GATE-B", "devices": [
      {"name": "cam-1", "ip": "10.0.1.1", "username": "pi", "password": "b1"}
    ]},
    {"name": "GATE-EMPTY", "devices": []}
  ]
}`

func mustFleet(t *testing.T, doc string) *topology.Fleet {
	t.Helper()
	f, err := topology.Parse([]byte(doc))
	require.NoError(t, err)
	return f
}

type staticFleet struct{ fleet *topology.Fleet }

func (s staticFleet) Current() *topology.Fleet { return s.fleet }

type runnerCall struct {
	Target  ssh.Target
	Command string
	Timeout time.Duration
}

// fakeRunner 记录调用，可注入失败与随机延迟
type fakeRunner struct {
	mu        sync.Mutex
	calls     []runnerCall
	fail      map[string]string
	jitter    time.Duration
	active    int32
	maxActive int32
}

func (f *fakeRunner) Execute(_ context.Context, target ssh.Target, command string, timeout time.Duration) ssh.Outcome {
	n := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		m := atomic.LoadInt32(&f.maxActive)
		if n <= m || atomic.CompareAndSwapInt32(&f.maxActive, m, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, runnerCall{Target: target, Command: command, Timeout: timeout})
	f.mu.Unlock()

	if f.jitter > 0 {
		time.Sleep(time.Duration(rand.Int63n(int64(f.jitter))))
	}
	name := strings.ToUpper(target.Name)
	if msg, ok := f.fail[name]; ok {
		return ssh.Outcome{Name: name, Error: msg}
	}
	return ssh.Outcome{Name: name, Payload: " 10:00:00 up 1 day"}
}

func (f *fakeRunner) Calls() []runnerCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]runnerCall(nil), f.calls...)
}

func (f *fakeRunner) commandFor(name string) string {
	for _, c := range f.Calls() {
		if strings.EqualFold(c.Target.Name, name) {
			return c.Command
		}
	}
	return ""
}

// recordingObserver 收集全部回调
type recordingObserver struct {
	mu     sync.Mutex
	events []Event
	pings  []Reachability
}

func (r *recordingObserver) OnOutcome(_ context.Context, ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingObserver) OnReachability(_ context.Context, p Reachability) {
	r.mu.Lock()
	r.pings = append(r.pings, p)
	r.mu.Unlock()
}

func (r *recordingObserver) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recordingObserver) Pings() []Reachability {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Reachability(nil), r.pings...)
}

// fakeProber 按地址返回预设结果
type fakeProber struct {
	down   map[string]bool
	delays map[string]time.Duration
	calls  int32
}

func (p *fakeProber) Reachable(_ context.Context, address string, _ time.Duration) bool {
	atomic.AddInt32(&p.calls, 1)
	if d := p.delays[address]; d > 0 {
		time.Sleep(d)
	}
	return !p.down[address]
}

func waitJob(t *testing.T, job *Job) []ssh.Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	outcomes, err := job.Wait(ctx)
	require.NoError(t, err)
	return outcomes
}
