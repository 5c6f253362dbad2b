// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package config reads the configuration of an agent.
//
// The configuration is a TOML file with two sections: global, describing the
// machine the agent runs on, and xmpp, describing its account.
// Every key can be overridden by an environment variable named after the
// section and key with the AGENT prefix, for instance AGENT_XMPP_PASSWORD.
package config // import "mellium.im/agent/config"

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// Sections of the configuration file.
const (
	SectionGlobal = "global"
	SectionXMPP   = "xmpp"
)

// Keys of the configuration file.
const (
	KeyMachineIP     = "machine_ip"
	KeyUseAvatar     = "use_avatar"
	KeyAvatarDir     = "machine_avatar_directory"
	KeyJID           = "jid"
	KeyPassword      = "password"
	KeyResource      = "resource"
	KeyAutoRegister  = "auto_register"
	KeyAutoReconnect = "auto_reconnect"
)

const (
	configType = "toml"
	envPrefix  = "AGENT"
	fileMode   = 0o600
	dirMode    = 0o700
)

// Global is the global section of the configuration file.
type Global struct {
	MachineIP string `toml:"machine_ip"`
	UseAvatar bool   `toml:"use_avatar"`
	AvatarDir string `toml:"machine_avatar_directory"`
}

// XMPP is the xmpp section of the configuration file.
type XMPP struct {
	JID           string `toml:"jid"`
	Password      string `toml:"password"`
	Resource      string `toml:"resource,omitempty"`
	AutoRegister  bool   `toml:"auto_register"`
	AutoReconnect bool   `toml:"auto_reconnect"`
}

// File is the content of a configuration file.
type File struct {
	Global Global `toml:"global"`
	XMPP   XMPP   `toml:"xmpp"`
}

// Default returns the configuration used for missing keys.
func Default() File {
	return File{
		Global: Global{
			MachineIP: "auto",
			AvatarDir: "avatars",
		},
		XMPP: XMPP{
			AutoRegister:  true,
			AutoReconnect: true,
		},
	}
}

// Config is a read only view of the configuration.
type Config struct {
	v *viper.Viper
}

func key(section, k string) string {
	return strings.ToLower(section) + "." + k
}

// New returns a configuration backed by v.
// Defaults and environment variables are registered on v.
// If v is nil a new empty viper instance is used.
func New(v *viper.Viper) *Config {
	if v == nil {
		v = viper.New()
	}
	d := Default()
	v.SetDefault(key(SectionGlobal, KeyMachineIP), d.Global.MachineIP)
	v.SetDefault(key(SectionGlobal, KeyUseAvatar), d.Global.UseAvatar)
	v.SetDefault(key(SectionGlobal, KeyAvatarDir), d.Global.AvatarDir)
	v.SetDefault(key(SectionXMPP, KeyAutoRegister), d.XMPP.AutoRegister)
	v.SetDefault(key(SectionXMPP, KeyAutoReconnect), d.XMPP.AutoReconnect)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Config{v: v}
}

// Load reads the configuration file at path from fs.
// A missing file is not an error: the defaults and environment are used.
func Load(fs afero.Fs, path string) (*Config, error) {
	v := viper.New()
	v.SetFs(fs)
	v.SetConfigFile(path)
	v.SetConfigType(configType)
	c := New(v)

	err := v.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}
	return c, nil
}

// Viper returns the viper instance backing c.
func (c *Config) Viper() *viper.Viper {
	return c.v
}

// String returns the value of key in section.
func (c *Config) String(section, k string) string {
	return c.v.GetString(key(section, k))
}

// Bool returns the value of key in section.
func (c *Config) Bool(section, k string) bool {
	return c.v.GetBool(key(section, k))
}

// MachineIP returns the configured address of the machine.
// The value "auto" means the address must be looked up.
func (c *Config) MachineIP() string {
	return c.String(SectionGlobal, KeyMachineIP)
}

// UseAvatar reports whether the agent publishes an avatar.
func (c *Config) UseAvatar() bool {
	return c.Bool(SectionGlobal, KeyUseAvatar)
}

// AvatarDir returns the directory avatars are read from.
func (c *Config) AvatarDir() string {
	return c.String(SectionGlobal, KeyAvatarDir)
}

// XMPP returns the xmpp section.
func (c *Config) XMPP() XMPP {
	return XMPP{
		JID:           c.String(SectionXMPP, KeyJID),
		Password:      c.String(SectionXMPP, KeyPassword),
		Resource:      c.String(SectionXMPP, KeyResource),
		AutoRegister:  c.Bool(SectionXMPP, KeyAutoRegister),
		AutoReconnect: c.Bool(SectionXMPP, KeyAutoReconnect),
	}
}

// Write stores f at path in fs, creating the parent directories.
// The file is only readable by its owner since it contains a password.
func Write(fs afero.Fs, path string, f File) error {
	data, err := toml.Marshal(f)
	if err != nil {
		return fmt.Errorf("config: encoding: %w", err)
	}
	if err := fs.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return fmt.Errorf("config: creating directory: %w", err)
	}
	if err := afero.WriteFile(fs, path, data, fileMode); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}
	return nil
}
