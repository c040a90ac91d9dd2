package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	A "github.com/t4nic/t4api"
	"github.com/t4nic/t4api/driver"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())

	ac, err := c.AttachConfig()
	require.NoError(t, err)
	assert.Equal(t, "t4nex0", ac.Name)
	assert.Equal(t, 2, ac.Topology.HighSpeedPorts)
	assert.Equal(t, A.PreferenceOrder, ac.Kinds)
	assert.Equal(t, 496, ac.NumFilters)
	assert.Equal(t, driver.ModeBase|driver.ModeIPProto|driver.ModePort|driver.ModeVLAN|driver.ModeFragment, ac.FilterMode)

	lvl, err := c.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, lvl)
}

func TestParse(t *testing.T) {
	c, err := Parse([]byte(`
adapter:
  name: t4nex1
  high_speed_ports: 1
  low_speed_ports: 2
  sub_interfaces: 2
  cpus: 4
queues:
  high_speed:
    nic_rx: -16
interrupts:
  allowed: [legacy, msix]
filters:
  num_filters: 128
  mode: [vnic, tos]
  vnic_ingress: true
logging:
  level: DEBUG
`))
	require.NoError(t, err)

	topo := c.Topology()
	assert.Equal(t, 3, topo.Ports())
	assert.Equal(t, 2, topo.SubInterfaces)
	assert.Equal(t, -16, topo.HighSpeed.NicRx)
	assert.Equal(t, 4, topo.Resolve().HighSpeed.NicRx)

	kinds, err := c.AllowedKinds()
	require.NoError(t, err)
	assert.Equal(t, []A.VectorKind{A.VectorExclusive, A.VectorLegacy}, kinds)

	mode, err := c.FilterMode()
	require.NoError(t, err)
	assert.Equal(t, driver.ModeBase|driver.ModeVNIC|driver.ModeTOS|driver.ModeVNICIngress, mode)

	// untouched sections keep their defaults
	assert.Equal(t, 8, c.Interrupts.MaxAttempts)
	assert.Equal(t, driver.DefaultL2TSize, c.Filters.L2TSize)
	assert.Equal(t, ":9464", c.Metrics.Listen)

	lvl, err := c.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, lvl)
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"unknown field":  "adapter:\n  speed: 100\n",
		"no ports":       "adapter:\n  high_speed_ports: 0\n",
		"too many ports": "adapter:\n  high_speed_ports: 4\n  low_speed_ports: 1\n",
		"no name":        "adapter:\n  name: \"\"\n",
		"bad kind":       "interrupts:\n  allowed: [polling]\n",
		"bad mode":       "filters:\n  mode: [ttl]\n",
		"wide mode":      "filters:\n  mode: [vnic, vlan, tos]\n",
		"big l2t":        "filters:\n  l2t_size: 70000\n",
		"bad level":      "logging:\n  level: loud\n",
		"negative cpus":  "adapter:\n  cpus: -1\n",
		"not yaml":       "adapter: [",
	}
	for name, doc := range cases {
		_, err := Parse([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t4.yaml")
	data, err := Default().Marshal()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), c)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	c := Default()
	c.Logging.Level = "warn"
	log, err := c.NewLogger()
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.WarnLevel))

	c.Logging.Development = true
	_, err = c.NewLogger()
	assert.NoError(t, err)
}
