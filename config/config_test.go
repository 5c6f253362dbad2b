// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package config_test

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mellium.im/agent/config"
)

const sample = `
[global]
machine_ip = "10.0.0.4"
use_avatar = true
machine_avatar_directory = "/var/lib/agent/avatars"

[xmpp]
jid = "hypervisor@example.net"
password = "secret"
auto_register = false
`

func TestLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/agent.toml", []byte(sample), 0o600))

	c, err := config.Load(fs, "/etc/agent.toml")
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.4", c.MachineIP())
	assert.True(t, c.UseAvatar())
	assert.Equal(t, "/var/lib/agent/avatars", c.AvatarDir())
	assert.Equal(t, "10.0.0.4", c.String("GLOBAL", config.KeyMachineIP))

	x := c.XMPP()
	assert.Equal(t, "hypervisor@example.net", x.JID)
	assert.Equal(t, "secret", x.Password)
	assert.False(t, x.AutoRegister)
	assert.True(t, x.AutoReconnect, "missing keys should use the defaults")
}

func TestLoadMissingFile(t *testing.T) {
	c, err := config.Load(afero.NewMemMapFs(), "/nope.toml")
	require.NoError(t, err)

	d := config.Default()
	assert.Equal(t, d.Global.MachineIP, c.MachineIP())
	assert.Equal(t, d.Global.AvatarDir, c.AvatarDir())
	assert.Equal(t, d.XMPP.AutoRegister, c.XMPP().AutoRegister)
}

func TestLoadInvalid(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/bad.toml", []byte("[global\nmachine_ip ="), 0o600))

	_, err := config.Load(fs, "/bad.toml")
	require.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("AGENT_XMPP_PASSWORD", "from-env")
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/agent.toml", []byte(sample), 0o600))

	c, err := config.Load(fs, "/etc/agent.toml")
	require.NoError(t, err)
	assert.Equal(t, "from-env", c.XMPP().Password)
}

func TestWriteThenLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	f := config.Default()
	f.XMPP.JID = "agent@example.net"
	f.XMPP.Password = "pass"
	f.Global.UseAvatar = true

	require.NoError(t, config.Write(fs, "/home/agent/.config/agent/agent.toml", f))

	info, err := fs.Stat("/home/agent/.config/agent/agent.toml")
	require.NoError(t, err)
	assert.Equal(t, "-rw-------", info.Mode().Perm().String())

	c, err := config.Load(fs, "/home/agent/.config/agent/agent.toml")
	require.NoError(t, err)
	assert.Equal(t, "agent@example.net", c.XMPP().JID)
	assert.True(t, c.UseAvatar())
	assert.Equal(t, "auto", c.MachineIP())
}
