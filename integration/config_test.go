package integration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveEnvironmentDefaultsToLocalhost(t *testing.T) {
	t.Setenv(EnvServer, "")
	t.Setenv(EnvEnvironments, "")
	req := require.New(t)

	env, err := ResolveEnvironment()
	req.NoError(err)
	req.Equal("localhost", env.Server)
	req.Equal("pubsub.localhost", env.PubSub)
	req.Equal("testenv.pem", env.CAFile)
	req.Equal("xmpptest1@localhost", env.JID(0))
	req.Equal("xmpptest2@localhost", env.JID(1))
}

func TestResolveEnvironmentSelectsRemote(t *testing.T) {
	t.Setenv(EnvServer, "xmpp.ferrynet.io")
	t.Setenv(EnvEnvironments, "")
	req := require.New(t)

	env, err := ResolveEnvironment()
	req.NoError(err)
	req.Equal("pubsub.xmpp.ferrynet.io", env.PubSub)
	req.Equal("letsencrypt.pem", env.CAFile)
	req.Equal("ferrytest1@xmpp.ferrynet.io", env.JID(0))
}

func TestResolveEnvironmentRejectsUnknownServer(t *testing.T) {
	t.Setenv(EnvServer, "no.such.server")
	t.Setenv(EnvEnvironments, "")

	_, err := ResolveEnvironment()
	require.ErrorContains(t, err, "invalid test server")
}

func TestResolveEnvironmentAppliesOverrides(t *testing.T) {
	req := require.New(t)

	overrides := `
staging:
  server: staging.ferrynet.io
  pubsub: pubsub.staging.ferrynet.io
  cafile: staging.pem
  accounts:
    - name: alice
      password: first
    - name: bob
      password: second
`
	path := filepath.Join(t.TempDir(), "environments.yml")
	req.NoError(os.WriteFile(path, []byte(overrides), 0o600))

	t.Setenv(EnvEnvironments, path)
	t.Setenv(EnvServer, "staging")

	env, err := ResolveEnvironment()
	req.NoError(err)
	req.Equal("staging.ferrynet.io", env.Server)
	req.Equal("staging.pem", env.CAFile)
	req.Equal("alice@staging.ferrynet.io", env.JID(0))
	req.Equal("second", env.Accounts[1].Password)
}

func TestResolveEnvironmentRequiresTwoAccounts(t *testing.T) {
	req := require.New(t)

	overrides := `
lonely:
  server: lonely.example.org
  pubsub: pubsub.lonely.example.org
  cafile: lonely.pem
  accounts:
    - name: alone
      password: pw
`
	path := filepath.Join(t.TempDir(), "environments.yml")
	req.NoError(os.WriteFile(path, []byte(overrides), 0o600))

	t.Setenv(EnvEnvironments, path)
	t.Setenv(EnvServer, "lonely")

	_, err := ResolveEnvironment()
	req.ErrorContains(err, "at least two accounts")
}

func TestBinaryAndDataPathOverrides(t *testing.T) {
	t.Setenv(EnvBinDir, "/opt/ferry/bin")
	t.Setenv(EnvDataDir, "/opt/ferry/data")
	req := require.New(t)

	req.Equal("/opt/ferry/bin/ferry-client", BinaryPath("ferry-client"))

	env := Environment{CAFile: "testenv.pem"}
	req.Equal("/opt/ferry/data/testenv.pem", env.RootCAPath())
}

func TestBinaryAndDataPathDefaults(t *testing.T) {
	t.Setenv(EnvBinDir, "")
	t.Setenv(EnvDataDir, "")
	req := require.New(t)

	req.Equal(filepath.Join("..", "bin", "ferry-server"), BinaryPath("ferry-server"))

	env := Environment{CAFile: "letsencrypt.pem"}
	req.Equal(filepath.Join("..", "data", "letsencrypt.pem"), env.RootCAPath())
}
