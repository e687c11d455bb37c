package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/torfstack/ftpsync/internal/failure"
	"github.com/torfstack/ftpsync/internal/glob"
	"github.com/torfstack/ftpsync/internal/logging"
	"github.com/torfstack/ftpsync/internal/util"
)

var (
	configFilePath = filepath.Join(util.ConfigDir, "config.toml")

	defaultOutputDir    = filepath.Join("out", "files")
	defaultStateOutput  = filepath.Join("out", "state.json")
	defaultTimeout      = 30 * time.Second
	defaultSyncInterval = 60 * time.Second
)

const (
	defaultFTPPort = 21
	defaultSSHPort = 22

	defaultMaxAttempts = 3
	defaultBackoffBase = 300 * time.Millisecond
)

type ConnectionType string

const (
	FTP  ConnectionType = "FTP"
	FTPS ConnectionType = "FTPS"
	SFTP ConnectionType = "SFTP"
)

func ParseConnectionType(s string) (ConnectionType, error) {
	switch ct := ConnectionType(strings.ToUpper(strings.TrimSpace(s))); ct {
	case FTP, FTPS, SFTP:
		return ct, nil
	case "FTP SSL EXPLICIT", "EXPLICIT":
		return FTPS, nil
	default:
		return "", fmt.Errorf("unknown connection type %q, expected one of FTP, FTPS, SFTP", s)
	}
}

type Action string

const (
	ActionRun            Action = "run"
	ActionTestConnection Action = "testConnection"
)

type Config struct {
	Host             string         `toml:"host"`
	Port             int            `toml:"port"`
	Username         string         `toml:"username"`
	Password         string         `toml:"password"`
	PrivateKey       string         `toml:"private_key"`
	KnownHosts       string         `toml:"known_hosts"`
	ConnectionType   ConnectionType `toml:"connection_type"`
	Path             string         `toml:"path"`
	OutputDir        string         `toml:"output_dir"`
	OnlyNewFiles     bool           `toml:"only_new_files"`
	SkipFileNotFound bool           `toml:"skip_file_not_found"`
	Timeout          time.Duration  `toml:"timeout"`
	DisableEPSV      bool           `toml:"disable_epsv"`
	TLSSkipVerify    bool           `toml:"tls_skip_verify"`
	Action           Action         `toml:"action"`
	SyncInterval     time.Duration  `toml:"sync_interval"`

	Retry   Retry   `toml:"retry"`
	State   State   `toml:"state"`
	Journal Journal `toml:"journal"`
	SSH     SSH     `toml:"ssh"`
}

type Retry struct {
	MaxAttempts int           `toml:"max_attempts"`
	BackoffBase time.Duration `toml:"backoff_base"`
}

type State struct {
	InputPath  string `toml:"input_path"`
	OutputPath string `toml:"output_path"`
}

type Journal struct {
	Path string `toml:"path"`
}

// SSH configures an optional tunnel through a bastion host.
type SSH struct {
	Enabled    bool   `toml:"enabled"`
	Host       string `toml:"host"`
	Port       int    `toml:"port"`
	User       string `toml:"user"`
	PrivateKey string `toml:"private_key"`
}

// Path returns the location of the config file.
func Path() string {
	return configFilePath
}

// SetPath overrides the location of the config file.
func SetPath(path string) {
	if path != "" {
		configFilePath = util.ExpandHome(path)
	}
}

// Get loads the config file. A missing file is a configuration error.
func Get() (Config, error) {
	return get(false)
}

// GetInteractive loads the config file, asking for the values and creating
// it when it does not exist yet.
func GetInteractive() (Config, error) {
	return get(true)
}

func get(interactive bool) (Config, error) {
	c := Config{}
	f, err := os.Open(configFilePath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if !interactive {
			return c, failure.Newf(
				failure.CodeInvalidConfig,
				"config file '%s' does not exist, create it with 'ftpsync init'", configFilePath,
			)
		}
		return initConfig()
	case err != nil:
		return c, fmt.Errorf("could not open config file for reading '%s': %w", configFilePath, err)
	}
	defer f.Close()

	_, err = toml.NewDecoder(f).Decode(&c)
	if err != nil {
		return c, failure.New(failure.CodeInvalidConfig, "decode config", configFilePath, err)
	}
	c.applyDefaults()
	return c, nil
}

func initConfig() (Config, error) {
	c := initialConfig()
	err := guidedInitialization(&c)
	if err != nil {
		return c, fmt.Errorf("could not initialize config interactively: %w", err)
	}
	c.applyDefaults()
	return c, c.persist()
}

func (c *Config) persist() error {
	f, err := util.OpenWithParents(configFilePath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("could not open config file for writing '%s': %w", configFilePath, err)
	}
	defer f.Close()

	logging.Debugf("Persisting config file to '%s'", configFilePath)
	err = toml.NewEncoder(f).Encode(c)
	if err != nil {
		return fmt.Errorf("could not persist config to file '%s': %w", configFilePath, err)
	}

	return nil
}

func initialConfig() Config {
	return Config{
		ConnectionType: FTP,
		Path:           "/",
		OutputDir:      defaultOutputDir,
		OnlyNewFiles:   true,
		Timeout:        defaultTimeout,
		Action:         ActionRun,
		SyncInterval:   defaultSyncInterval,
		Retry:          Retry{MaxAttempts: defaultMaxAttempts, BackoffBase: defaultBackoffBase},
		State:          State{OutputPath: defaultStateOutput},
	}
}

func (c *Config) applyDefaults() {
	if c.ConnectionType == "" {
		c.ConnectionType = FTP
	} else if ct, err := ParseConnectionType(string(c.ConnectionType)); err == nil {
		c.ConnectionType = ct
	}
	if c.Port == 0 {
		c.Port = defaultFTPPort
		if c.ConnectionType == SFTP {
			c.Port = defaultSSHPort
		}
	}
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
	if c.Action == "" {
		c.Action = ActionRun
	}
	if c.SyncInterval == 0 {
		c.SyncInterval = defaultSyncInterval
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = defaultMaxAttempts
	}
	if c.Retry.BackoffBase == 0 {
		c.Retry.BackoffBase = defaultBackoffBase
	}
	if c.SSH.Enabled && c.SSH.Port == 0 {
		c.SSH.Port = defaultSSHPort
	}
	c.OutputDir = util.ExpandHome(c.OutputDir)
	c.State.InputPath = util.ExpandHome(c.State.InputPath)
	c.State.OutputPath = util.ExpandHome(c.State.OutputPath)
	c.Journal.Path = util.ExpandHome(c.Journal.Path)
	c.KnownHosts = util.ExpandHome(c.KnownHosts)
}

// Addr is the host:port of the remote server.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SSHAddr is the host:port of the tunnel bastion.
func (c Config) SSHAddr() string {
	return net.JoinHostPort(c.SSH.Host, strconv.Itoa(c.SSH.Port))
}

// Validate reports every problem of the config as one user facing error.
func (c Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, failure.Newf(failure.CodeInvalidConfig, format, args...))
	}

	if c.Host == "" {
		invalid("host must not be empty")
	}
	if c.Username == "" {
		invalid("username must not be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		invalid("port must be positive integer between 1-65535, got %d", c.Port)
	}
	switch c.ConnectionType {
	case FTP, FTPS:
		if c.Password == "" {
			invalid("password must not be empty")
		}
	case SFTP:
		if c.Password == "" && c.PrivateKey == "" {
			invalid("password or private_key must be set")
		}
	default:
		invalid("unknown connection type %q, expected one of FTP, FTPS, SFTP", c.ConnectionType)
	}
	if c.Path == "" {
		invalid("path must not be empty")
	} else if err := glob.Validate(c.Path); err != nil {
		invalid("path %q is not a valid glob: %s", c.Path, err)
	}
	if c.OutputDir == "" {
		invalid("output_dir must not be empty")
	}
	if c.Timeout < 0 {
		invalid("timeout must not be negative")
	}
	if c.SyncInterval < 0 {
		invalid("sync_interval must not be negative")
	}
	switch c.Action {
	case ActionRun, ActionTestConnection:
	default:
		invalid("unknown action %q, expected one of %s, %s", c.Action, ActionRun, ActionTestConnection)
	}
	if c.Retry.MaxAttempts < 1 {
		invalid("retry.max_attempts must be at least 1")
	}
	if c.Retry.BackoffBase < 0 {
		invalid("retry.backoff_base must not be negative")
	}
	if c.SSH.Enabled {
		if c.SSH.Host == "" || c.SSH.User == "" || c.SSH.PrivateKey == "" {
			invalid("ssh tunnel requires ssh.host, ssh.user and ssh.private_key")
		}
		if c.SSH.Port < 1 || c.SSH.Port > 65535 {
			invalid("ssh.port must be positive integer between 1-65535, got %d", c.SSH.Port)
		}
	}

	return errors.Join(errs...)
}
