package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	A "github.com/t4nic/t4api"
	"github.com/t4nic/t4api/driver"
	"github.com/t4nic/t4api/sim"
)

// SimulateCmd attaches a simulated adapter, installs filters, feeds frames
// through them and prints the hit counters.
type SimulateCmd struct {
	Rules   []string      `name:"rule" help:"Filter rule IDX=PROTO/DPORT[:drop|:pass] (e.g. 0=tcp/80:drop). Repeatable."`
	Pcap    string        `name:"pcap" help:"Inject the frames of a pcap file." type:"existingfile"`
	Frames  int           `name:"frames" help:"Synthetic frames to inject per rule when no pcap is given." default:"1"`
	Latency time.Duration `name:"latency" help:"Simulated firmware reply latency."`
	Timeout time.Duration `name:"timeout" help:"Per-filter install timeout." default:"5s"`
	Serve   bool          `name:"serve" help:"Keep serving metrics after the run until interrupted."`
}

type rule struct {
	idx    uint32
	proto  layers.IPProtocol
	dport  uint16
	action driver.FilterAction
}

func parseRule(s string) (rule, error) {
	var r rule
	idxStr, rest, ok := strings.Cut(s, "=")
	if !ok {
		return r, fmt.Errorf("rule %q: missing '='", s)
	}
	idx, err := strconv.ParseUint(idxStr, 10, 32)
	if err != nil {
		return r, fmt.Errorf("rule %q: bad index: %w", s, err)
	}
	r.idx = uint32(idx)

	match, action, _ := strings.Cut(rest, ":")
	switch action {
	case "", "pass":
		r.action = driver.ActionPass
	case "drop":
		r.action = driver.ActionDrop
	default:
		return r, fmt.Errorf("rule %q: unknown action %q", s, action)
	}

	protoStr, portStr, ok := strings.Cut(match, "/")
	if !ok {
		return r, fmt.Errorf("rule %q: want PROTO/DPORT", s)
	}
	switch strings.ToLower(protoStr) {
	case "tcp":
		r.proto = layers.IPProtocolTCP
	case "udp":
		r.proto = layers.IPProtocolUDP
	default:
		return r, fmt.Errorf("rule %q: unknown protocol %q", s, protoStr)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return r, fmt.Errorf("rule %q: bad port: %w", s, err)
	}
	r.dport = uint16(port)
	return r, nil
}

func (r rule) spec() driver.FilterSpec {
	return driver.FilterSpec{
		Type:      driver.FilterIPv4,
		Action:    r.action,
		HitCounts: true,
		Val:       driver.FilterTuple{Proto: r.proto, DstPort: r.dport},
		Mask:      driver.FilterTuple{Proto: 0xff, DstPort: 0xffff},
	}
}

// Run executes the simulate command.
func (c *SimulateCmd) Run(cli *CLI, ctx context.Context) (err error) {
	cfg, err := cli.LoadConfig()
	if err != nil {
		return err
	}
	log, err := cli.Logger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	rules := make([]rule, 0, len(c.Rules))
	for _, s := range c.Rules {
		r, err := parseRule(s)
		if err != nil {
			return err
		}
		rules = append(rules, r)
	}

	var metrics *driver.Metrics
	var srv *http.Server
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		if metrics, err = driver.NewMetrics(reg, cfg.Metrics.Namespace); err != nil {
			return err
		}
		srv = &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() { err = multierr.Append(err, srv.Close()) }()
	}

	attachCfg, err := cfg.AttachConfig()
	if err != nil {
		return err
	}
	fw := sim.New(sim.Options{Latency: c.Latency, Logger: log.Named("sim")})
	reg := driver.NewRegistry()
	adapter, err := driver.Attach(ctx, reg, fw, attachCfg, driver.AttachOptions{Logger: log, Metrics: metrics})
	if err != nil {
		return multierr.Append(err, fw.Close())
	}
	defer func() { err = multierr.Append(err, adapter.Detach(context.Background())) }()

	cli.Printf("attached %s (%s): %s\n", adapter.Name(), adapter.ID(), adapter.Plan())
	for _, si := range adapter.SubInterfaces() {
		if err := adapter.BringUp(ctx, si.Handle.Unit); err != nil {
			return err
		}
	}

	fm := adapter.Filters()
	for _, r := range rules {
		if err := fm.InstallTimeout(ctx, r.idx, r.spec(), c.Timeout); err != nil {
			return fmt.Errorf("install filter %d: %w (errno %d)", r.idx, err, A.Errno(err))
		}
	}

	injected, err := c.inject(fw, rules)
	if err != nil {
		return err
	}
	cli.Printf("injected %d frames\n", injected)

	for from := uint32(0); ; {
		info, ok, err := fm.QueryNext(ctx, from)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		cli.Printf("filter %d %s proto=%d dport=%d hits=%d\n",
			info.Idx, info.Spec.Action, info.Spec.Val.Proto, info.Spec.Val.DstPort, info.Hits)
		from = info.Idx + 1
	}

	if c.Serve && srv != nil {
		cli.Printf("serving metrics on %s\n", cfg.Metrics.Listen)
		<-ctx.Done()
	}
	return nil
}

func (c *SimulateCmd) inject(fw *sim.Firmware, rules []rule) (int, error) {
	n := 0
	if c.Pcap != "" {
		f, err := os.Open(c.Pcap)
		if err != nil {
			return 0, err
		}
		defer f.Close()
		r, err := pcapgo.NewReader(f)
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", c.Pcap, err)
		}
		for {
			data, _, err := r.ReadPacketData()
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			if err != nil {
				return n, fmt.Errorf("read %s: %w", c.Pcap, err)
			}
			if _, _, err := fw.Inject(data); err != nil && !errors.Is(err, A.ErrInvalidSpec) {
				return n, err
			}
			n++
		}
	}

	for _, r := range rules {
		frame, err := sim.BuildFrame(sim.Frame{
			SrcIP:   net.IPv4(192, 0, 2, 1),
			DstIP:   net.IPv4(192, 0, 2, 2),
			Proto:   r.proto,
			SrcPort: 40000,
			DstPort: r.dport,
		})
		if err != nil {
			return n, err
		}
		for i := 0; i < c.Frames; i++ {
			if _, _, err := fw.Inject(frame); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}
