package config

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
dchat:
  me:
    onion_id: aaaaaaaaaaaaaaaa.onion
    listen_port: 9000
    nickname: alice
  listen_addr: "0.0.0.0:9000"
  bootstrap_addr: "bbbbbbbbbbbbbbbb.onion:6001"
  transport:
    type: tor
    socks_addr: "127.0.0.1:9050"
  logging:
    level: debug
  metrics_addr: ":9100"
`

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	f, err := ioutil.TempFile("", "dchat-config-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString(contents)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	t.Cleanup(func() { os.Remove(f.Name()) })
	return f.Name()
}

func TestOpenParsesNamespacedBlock(t *testing.T) {
	path := writeTemp(t, sampleYAML)
	cfg, err := Open(path)
	require.NoError(t, err)

	assert.Equal(t, "aaaaaaaaaaaaaaaa.onion", cfg.Node.Me.OnionID)
	assert.Equal(t, 9000, cfg.Node.Me.LPort)
	assert.Equal(t, "alice", cfg.Node.Me.Name)
	assert.Equal(t, "tor", cfg.Node.Transport.Type)
	assert.Equal(t, "127.0.0.1:9050", cfg.Node.Transport.SocksAddr)
	assert.Equal(t, dlogDebugLevelName, cfg.Node.Logging.Level)
	assert.Equal(t, ":9100", cfg.Node.MetricsAddr)
}

const dlogDebugLevelName = "debug"

func TestOpenAppliesDefaults(t *testing.T) {
	path := writeTemp(t, "dchat:\n  me:\n    onion_id: aaaaaaaaaaaaaaaa.onion\n")
	cfg, err := Open(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultInitContacts, cfg.Node.InitContacts)
	assert.Equal(t, "tcp", cfg.Node.Transport.Type)
	assert.Equal(t, "info", cfg.Node.Logging.Level)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("")
	assert.ErrorIs(t, err, ErrNoConfigPath)
}

func TestOpenRejectsMissingFile(t *testing.T) {
	_, err := Open("/nonexistent/path/to/config.yaml")
	assert.Error(t, err)
}

func TestOnionAddressLenDefaultsToV2(t *testing.T) {
	cfg := &File{}
	assert.Equal(t, 22, cfg.OnionAddressLen())

	cfg.Node.OnionAddressVersion = 3
	assert.Equal(t, 62, cfg.OnionAddressLen())
}

func TestLogLevelMapping(t *testing.T) {
	cfg := &File{}
	cfg.Node.Logging.Level = "warning"
	assert.Equal(t, 4, int(cfg.LogLevel())) // dlog.Warning

	cfg.Node.Logging.Level = "bogus"
	assert.Equal(t, 6, int(cfg.LogLevel())) // dlog.Info default
}
