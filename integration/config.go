package integration

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Environment variables understood by the harness.
const (
	// EnvServer selects the test environment. It must name one of the
	// built-in environments or one defined in the override file.
	EnvServer = "FERRYTEST_SERVER"

	// EnvEnvironments points at a YAML file whose environments are
	// merged over the built-in ones.
	EnvEnvironments = "FERRYTEST_ENVIRONMENTS"

	// EnvBinDir overrides the directory holding the ferry-client and
	// ferry-server binaries under test.
	EnvBinDir = "FERRYTEST_BIN_DIR"

	// EnvDataDir overrides the directory holding shared data files,
	// CA certificates in particular.
	EnvDataDir = "FERRYTEST_DATA_DIR"

	// EnvManual enables tests that need an operator at the keyboard,
	// like the XMPP restart scenario.
	EnvManual = "FERRYTEST_MANUAL"
)

const (
	defaultServer  = "localhost"
	defaultBinDir  = "../bin"
	defaultDataDir = "../data"
)

// Account is a login on the XMPP server used by the tests.
type Account struct {
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
}

// Environment describes one XMPP setup the tests can run against: the
// server domain, its pubsub service, the CA its certificate chains to
// and at least two accounts. The first account is used by the
// ferry-server role and the second by the ferry-client role.
type Environment struct {
	Server   string    `yaml:"server"`
	PubSub   string    `yaml:"pubsub"`
	CAFile   string    `yaml:"cafile"`
	Accounts []Account `yaml:"accounts"`
}

// JID returns the full Jabber ID of account i.
func (e *Environment) JID(i int) string {
	return fmt.Sprintf("%s@%s", e.Accounts[i].Name, e.Server)
}

// RootCAPath returns the path of the CA file the binaries should trust,
// resolved against the data directory.
func (e *Environment) RootCAPath() string {
	dir := os.Getenv(EnvDataDir)
	if dir == "" {
		dir = defaultDataDir
	}
	return filepath.Join(dir, e.CAFile)
}

// builtinEnvironments returns the environments known out of the box: the
// local ejabberd the dev scripts set up, and the public ferrynet server
// with dedicated throwaway accounts.
func builtinEnvironments() map[string]Environment {
	return map[string]Environment{
		"localhost": {
			Server: "localhost",
			PubSub: "pubsub.localhost",
			CAFile: "testenv.pem",
			Accounts: []Account{
				{Name: "xmpptest1", Password: "password"},
				{Name: "xmpptest2", Password: "password"},
			},
		},
		"xmpp.ferrynet.io": {
			Server: "xmpp.ferrynet.io",
			PubSub: "pubsub.xmpp.ferrynet.io",
			CAFile: "letsencrypt.pem",
			Accounts: []Account{
				{Name: "ferrytest1", Password: "edbQLtLRoY5eD2QEqnytjQngJzy+Cw/CMU8SWwANjvFK"},
				{Name: "ferrytest2", Password: "i4YuBIVqXTyzeHFUVz92kYY8qEy0P2somD0ZWA7G3LuM"},
			},
		},
	}
}

// ResolveEnvironment picks the environment named by FERRYTEST_SERVER,
// falling back to the local one. With FERRYTEST_ENVIRONMENTS set, the
// YAML file it names is loaded first and its entries shadow the built-in
// ones, which is how per-developer staging setups get wired in.
func ResolveEnvironment() (*Environment, error) {
	envs := builtinEnvironments()

	if path := os.Getenv(EnvEnvironments); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading environment overrides: %w", err)
		}
		var overrides map[string]Environment
		if err := yaml.Unmarshal(raw, &overrides); err != nil {
			return nil, fmt.Errorf("parsing environment overrides %s: %w", path, err)
		}
		for name, env := range overrides {
			envs[name] = env
		}
	}

	name := os.Getenv(EnvServer)
	if name == "" {
		name = defaultServer
	}
	env, ok := envs[name]
	if !ok {
		return nil, fmt.Errorf("invalid test server: %s", name)
	}
	if len(env.Accounts) < 2 {
		return nil, fmt.Errorf("environment %s needs at least two accounts, has %d", name, len(env.Accounts))
	}
	return &env, nil
}

// BinaryPath returns the path of one of the binaries under test,
// resolved against the build output directory.
func BinaryPath(name string) string {
	dir := os.Getenv(EnvBinDir)
	if dir == "" {
		dir = defaultBinDir
	}
	return filepath.Join(dir, name)
}
