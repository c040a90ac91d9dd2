package main

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v2"

	A "github.com/t4nic/t4api"
	"github.com/t4nic/t4api/driver"
)

// PlanCmd runs the planner against a synthetic vector budget.
type PlanCmd struct {
	Exclusive int `name:"exclusive" help:"Exclusive (MSI-X) vectors available." default:"64"`
	Shared    int `name:"shared" help:"Shared (MSI) vectors available." default:"32"`
	Legacy    int `name:"legacy" help:"Legacy (INTx) vectors available." default:"1"`
}

type planSummary struct {
	Kind           string             `yaml:"kind"`
	Vectors        int                `yaml:"vectors"`
	Step           string             `yaml:"step"`
	HighSpeedPorts int                `yaml:"high_speed_ports"`
	LowSpeedPorts  int                `yaml:"low_speed_ports"`
	SubInterfaces  int                `yaml:"sub_interfaces"`
	HighSpeed      driver.QueueCounts `yaml:"high_speed"`
	LowSpeed       driver.QueueCounts `yaml:"low_speed"`
	SubInterface   driver.QueueCounts `yaml:"sub_interface"`
	Forwarding     map[string]string  `yaml:"forwarding"`
	EgressQueues   int                `yaml:"egress_queues"`
	IngressQueues  int                `yaml:"ingress_queues"`
}

func summarize(p *driver.ResourcePlan) planSummary {
	return planSummary{
		Kind:           p.Kind.String(),
		Vectors:        p.Vectors,
		Step:           p.Step.String(),
		HighSpeedPorts: p.HighSpeedPorts,
		LowSpeedPorts:  p.LowSpeedPorts,
		SubInterfaces:  p.SubInterfaces,
		HighSpeed:      p.HighSpeed,
		LowSpeed:       p.LowSpeed,
		SubInterface:   p.SubInterface,
		Forwarding: map[string]string{
			"high_speed": p.HighSpeedForwarding.String(),
			"low_speed":  p.LowSpeedForwarding.String(),
		},
		EgressQueues:  p.EgressQueues(),
		IngressQueues: p.IngressQueues(),
	}
}

// Run executes the plan command.
func (c *PlanCmd) Run(cli *CLI, ctx context.Context) error {
	cfg, err := cli.LoadConfig()
	if err != nil {
		return err
	}
	kinds, err := cfg.AllowedKinds()
	if err != nil {
		return err
	}

	avail := map[A.VectorKind]int{
		A.VectorExclusive: c.Exclusive,
		A.VectorShared:    c.Shared,
		A.VectorLegacy:    c.Legacy,
	}
	budget := make([]driver.VectorBudget, 0, len(kinds))
	for _, k := range kinds {
		budget = append(budget, driver.VectorBudget{Kind: k, Available: avail[k]})
	}

	plan, err := driver.Plan(cfg.Topology(), budget)
	if err != nil {
		return fmt.Errorf("plan %s: %w", cfg.Adapter.Name, err)
	}
	out, err := yaml.Marshal(summarize(plan))
	if err != nil {
		return err
	}
	cli.Printf("%s", out)
	return nil
}
