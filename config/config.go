// Package config loads a node's YAML configuration file, namespaced
// under a top-level dchat: key so the same file can carry unrelated
// tool sections without clashing.
package config

import (
	"errors"
	"io/ioutil"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/dchatmesh/dchat-core/internal/validate"
	"github.com/dchatmesh/dchat-core/pkg/dlog"
)

// Identity is the node's own onion address, listening port, and display
// name — the self-descriptor advertised in every discover PDU.
type Identity struct {
	OnionID string `yaml:"onion_id"`
	LPort   int    `yaml:"listen_port"`
	Name    string `yaml:"nickname"`
}

// Transport selects and configures the dial/write/close seam: plain TCP
// or a SOCKS5-fronted Tor dialer.
type Transport struct {
	Type      string `yaml:"type"` // "tcp" or "tor"
	SocksAddr string `yaml:"socks_addr"`
}

// Logging configures pkg/dlog's sink.
type Logging struct {
	Level string `yaml:"level"` // one of dlog's syslog-style names
	File  string `yaml:"file"`  // a path, "syslog", or empty for stderr
}

// File is the parsed contents of a node's YAML configuration file.
type File struct {
	Node struct {
		Me                  Identity  `yaml:"me"`
		ListenAddr          string    `yaml:"listen_addr"`
		BootstrapAddr       string    `yaml:"bootstrap_addr"`
		InitContacts        int       `yaml:"init_contacts"`
		OnionAddressVersion int       `yaml:"onion_address_version"`
		Transport           Transport `yaml:"transport"`
		Logging             Logging   `yaml:"logging"`
		MetricsAddr         string    `yaml:"metrics_addr"`
	} `yaml:"dchat"`
}

// DefaultInitContacts is used when a config file omits init_contacts.
const DefaultInitContacts = 4

// DefaultOnionAddressVersion is used when a config file omits
// onion_address_version.
const DefaultOnionAddressVersion = 2

// ErrNoConfigPath is returned by Open when path is empty.
var ErrNoConfigPath = errors.New("config: no config path specified")

// Open reads and parses the YAML configuration file at path, which may
// use environment variables ($HOME-style) and relative paths.
func Open(path string) (*File, error) {
	if path == "" {
		return nil, ErrNoConfigPath
	}

	f, err := os.Open(os.ExpandEnv(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	contents, err := ioutil.ReadAll(f)
	if err != nil {
		return nil, err
	}

	var cfg File
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (f *File) applyDefaults() {
	if f.Node.InitContacts <= 0 {
		f.Node.InitContacts = DefaultInitContacts
	}
	if f.Node.OnionAddressVersion != 3 {
		f.Node.OnionAddressVersion = DefaultOnionAddressVersion
	}
	if f.Node.Transport.Type == "" {
		f.Node.Transport.Type = "tcp"
	}
	if f.Node.Logging.Level == "" {
		f.Node.Logging.Level = "info"
	}
}

// OnionAddressLen returns the configured onion address length (including
// the .onion suffix), per the onion_address_version setting.
func (f *File) OnionAddressLen() int {
	if f.Node.OnionAddressVersion == 3 {
		return validate.V3AddressLen
	}
	return validate.V2AddressLen
}

// LogLevel maps the configured logging level name to a dlog.Level,
// defaulting to dlog.Info on an unrecognized name.
func (f *File) LogLevel() dlog.Level {
	switch f.Node.Logging.Level {
	case "emerg":
		return dlog.Emerg
	case "alert":
		return dlog.Alert
	case "crit":
		return dlog.Crit
	case "err":
		return dlog.Error
	case "warning":
		return dlog.Warning
	case "notice":
		return dlog.Notice
	case "info":
		return dlog.Info
	case "debug":
		return dlog.Debug
	default:
		return dlog.Info
	}
}
