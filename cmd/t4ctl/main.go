// t4ctl plans interrupt and queue resources for an adapter and drives a
// simulated adapter through its filter lifecycle.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/t4nic/t4api/config"
)

// CLI is the root command structure for t4ctl.
type CLI struct {
	Config string `name:"config" short:"c" help:"Config file path. Built-in defaults are used when empty." type:"existingfile"`
	Debug  bool   `name:"debug" help:"Log at debug level regardless of the config."`

	Plan     PlanCmd     `cmd:"" help:"Compute a resource plan for a vector budget."`
	Simulate SimulateCmd `cmd:"" help:"Attach a simulated adapter and exercise its filter table."`

	out io.Writer
}

// LoadConfig returns the configuration named by --config or the defaults.
func (c *CLI) LoadConfig() (*config.Config, error) {
	if c.Config == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.Load(c.Config)
}

// Logger builds the logger described by cfg.
func (c *CLI) Logger(cfg *config.Config) (*zap.Logger, error) {
	if c.Debug {
		cfg.Logging.Level = "debug"
	}
	return cfg.NewLogger()
}

// Printf writes command output.
func (c *CLI) Printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

func main() {
	cli := CLI{out: os.Stdout}
	parser := kong.Must(&cli,
		kong.Name("t4ctl"),
		kong.Description("Resource planner and simulator for the t4 adapter control plane."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)
	kctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	kctx.BindTo(ctx, (*context.Context)(nil))

	kctx.FatalIfErrorf(kctx.Run(&cli))
}
