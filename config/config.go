// Package config holds the shared session configuration. A zero-value
// program normally starts from Default() and overrides fields, or loads a
// TOML file with Load.
package config

import (
	"nudock/errors"
	"nudock/transport"

	"github.com/BurntSushi/toml"
	pkgerrors "github.com/pkg/errors"
)

// Version is the protocol version exchanged in the handshake. Client and
// server must agree exactly; there is no compatibility ordering.
const Version = "0.2.0"

const DefaultPort = 1234

// Config configures one session, server or client role alike.
type Config struct {
	// Comm selects the transport: "unix", "localhost" or "tcp" (unsupported).
	Comm string `toml:"comm"`
	// Port is the TCP port, and also seeds the unix socket path.
	Port int `toml:"port"`
	// SchemasDir is where <name>.schema.json files live.
	SchemasDir string `toml:"schemas_dir"`
	// Debug gates schema validation: when false, messages pass straight through.
	Debug bool `toml:"debug"`
	// Version overrides the built-in protocol version. Leave empty normally.
	Version string `toml:"version"`
}

func Default() Config {
	return Config{
		Comm:    transport.Localhost.String(),
		Port:    DefaultPort,
		Debug:   true,
		Version: Version,
	}
}

// Load reads a TOML config file on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, errors.NewConfigError(pkgerrors.Wrapf(err, "loading config %s", path).Error())
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the fields and fills the version default.
func (c *Config) Validate() error {
	if _, err := transport.ParseCommType(c.Comm); err != nil {
		return err
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.NewConfigErrorf("port %d out of range", c.Port)
	}
	if c.Version == "" {
		c.Version = Version
	}
	return nil
}

// CommType returns the parsed transport selection. Validate must have passed.
func (c *Config) CommType() transport.CommType {
	comm, err := transport.ParseCommType(c.Comm)
	if err != nil {
		return transport.Localhost
	}
	return comm
}
