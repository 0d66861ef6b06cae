package service

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ocrtool/ocrtool/internal/topology"
	"github.com/ocrtool/ocrtool/pkg/probe"
)

// Sweeper 对全部设备做网络层可达性巡检：闸口依次处理，闸口内设备并发探测
type Sweeper struct {
	prober   probe.Prober
	timeout  time.Duration
	observer Observer
}

// NewSweeper 创建巡检器；timeout<=0 时使用 1 秒
func NewSweeper(prober probe.Prober, timeout time.Duration, observer Observer) *Sweeper {
	if timeout <= 0 {
		timeout = probe.DefaultTimeout
	}
	if observer == nil {
		observer = Observers{}
	}
	return &Sweeper{prober: prober, timeout: timeout, observer: observer}
}

// Stream 按完成顺序逐条输出探测结果，全部闸口结束或 ctx 取消后关闭 channel
func (s *Sweeper) Stream(ctx context.Context, fleet *topology.Fleet) <-chan Reachability {
	out := make(chan Reachability)
	go func() {
		defer close(out)
		if fleet == nil {
			return
		}
		for _, gate := range fleet.Gates() {
			if ctx.Err() != nil {
				return
			}
			for r := range s.sweepGate(ctx, gate) {
				s.observer.OnReachability(ctx, r)
				select {
				case out <- r:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Sweep 执行一轮巡检并收集全部结果
func (s *Sweeper) Sweep(ctx context.Context, fleet *topology.Fleet) []Reachability {
	var results []Reachability
	for r := range s.Stream(ctx, fleet) {
		results = append(results, r)
	}
	return results
}

// sweepGate 闸口内每台设备一个协程
func (s *Sweeper) sweepGate(ctx context.Context, gate topology.Gate) <-chan Reachability {
	results := make(chan Reachability, len(gate.Devices))
	go func() {
		defer close(results)
		var g errgroup.Group
		for _, d := range gate.Devices {
			d := d
			g.Go(func() error {
				results <- Reachability{
					Gate:      gate.Name,
					Device:    d.Name,
					Address:   d.Address,
					Reachable: s.prober.Reachable(ctx, d.Address, s.timeout),
				}
				return nil
			})
		}
		_ = g.Wait()
	}()
	return results
}
