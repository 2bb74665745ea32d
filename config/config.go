package config

import (
	"flag"
	"os"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultConfigFile is the config file looked up in the current directory
	DefaultConfigFile = "yeelightble.toml"

	// EnvMac is the environment variable holding the default lamp address
	EnvMac = "YEELIGHTBLE_MAC"
)

// Config holds the whole application configuration
type Config struct {
	Debug bool `toml:"debug"`
	Log   struct {
		Filename string `toml:"filename"`
	} `toml:"log"`
	Lamp struct {
		Mac            string `toml:"mac"`
		Timeout        string `toml:"timeout"`         // per-command reply deadline, e.g. "5s"
		IdleDisconnect string `toml:"idle_disconnect"` // grace before dropping an unused connection, e.g. "30s"
	} `toml:"lamp"`
	Daemon struct {
		Listen string `toml:"listen"`
	} `toml:"daemon"`
	TLS struct {
		CertFile string `toml:"cert_file"`
		KeyFile  string `toml:"key_file"`
	} `toml:"tls"`
	Server struct {
		// Daemon address the lamp commands connect to. When empty the
		// commands talk Bluetooth directly.
		Addr string `toml:"addr"`
	} `toml:"server"`
}

// NewConfig returns a Config with the built-in defaults
func NewConfig() *Config {
	cfg := &Config{}
	cfg.Log.Filename = "" // stderr
	cfg.Lamp.Mac = os.Getenv(EnvMac)
	cfg.Lamp.Timeout = "5s"
	cfg.Lamp.IdleDisconnect = "30s"
	cfg.Daemon.Listen = "0.0.0.0:8765"
	return cfg
}

// LoadConfig loads the configuration, in order of precedence:
// 1. the config file at the given path, when one is given
// 2. the default config file in the current directory, when it exists
// 3. the built-in defaults
func LoadConfig(configPath string) (*Config, error) {
	config := NewConfig()

	filePath := configPath
	if filePath == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			filePath = DefaultConfigFile
		} else {
			return config, nil
		}
	}

	if _, err := toml.DecodeFile(filePath, config); err != nil {
		return nil, err
	}

	return config, nil
}

// ApplyCommandLineArgs overrides config values with flags the user gave
func (c *Config) ApplyCommandLineArgs(args CommandLineArgs) {
	if args.DebugSpecified {
		c.Debug = args.Debug
	}
	if args.LogFilenameSpecified {
		c.Log.Filename = args.LogFilename
	}
	if args.MacSpecified {
		c.Lamp.Mac = args.Mac
	}
	if args.TimeoutSpecified {
		c.Lamp.Timeout = args.Timeout
	}
	if args.IdleDisconnectSpecified {
		c.Lamp.IdleDisconnect = args.IdleDisconnect
	}
	if args.ListenSpecified {
		c.Daemon.Listen = args.Listen
	}
	if args.CertFileSpecified {
		c.TLS.CertFile = args.CertFile
	}
	if args.KeyFileSpecified {
		c.TLS.KeyFile = args.KeyFile
	}
	if args.ServerAddrSpecified {
		c.Server.Addr = args.ServerAddr
	}
}

// CommandLineArgs holds the values parsed from the command line. The
// Specified booleans record whether each flag was actually given, so a
// flag's default never overrides a value from the config file.
type CommandLineArgs struct {
	ConfigFile      string
	ConfigSpecified bool

	Debug          bool
	DebugSpecified bool

	LogFilename          string
	LogFilenameSpecified bool

	Mac          string
	MacSpecified bool

	Timeout          string
	TimeoutSpecified bool

	IdleDisconnect          string
	IdleDisconnectSpecified bool

	Listen          string
	ListenSpecified bool

	CertFile          string
	CertFileSpecified bool
	KeyFile           string
	KeyFileSpecified  bool

	ServerAddr          string
	ServerAddrSpecified bool
}

// ParseCommandLineArgs parses the flags preceding the subcommand.
// The remaining arguments (the subcommand and its own arguments) stay
// in flag.Args().
func ParseCommandLineArgs() CommandLineArgs {
	var args CommandLineArgs

	configFileFlag := flag.String("config", "", "path of the TOML config file")
	debugFlag := flag.Bool("debug", false, "enable debug logging")
	logFilenameFlag := flag.String("log", "", "log file, stderr when empty")
	macFlag := flag.String("mac", "", "lamp Bluetooth address (also "+EnvMac+")")
	timeoutFlag := flag.String("timeout", "5s", "per-command reply deadline")
	idleFlag := flag.String("idle", "30s", "idle grace before disconnecting an unused lamp")
	listenFlag := flag.String("listen", "0.0.0.0:8765", "daemon listen address")
	certFileFlag := flag.String("tls-cert", "", "TLS certificate file for the daemon")
	keyFileFlag := flag.String("tls-key", "", "TLS key file for the daemon")
	serverFlag := flag.String("server", "", "daemon address to connect to, e.g. ws://localhost:8765/ws; direct Bluetooth when empty")

	flag.Parse()

	// flag cannot tell a default from an explicitly given default, so
	// record which flags were actually present.
	specified := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		specified[f.Name] = true
	})

	args.ConfigFile = *configFileFlag
	args.ConfigSpecified = specified["config"]

	args.Debug = *debugFlag
	args.DebugSpecified = specified["debug"]

	args.LogFilename = *logFilenameFlag
	args.LogFilenameSpecified = specified["log"]

	args.Mac = *macFlag
	args.MacSpecified = specified["mac"]

	args.Timeout = *timeoutFlag
	args.TimeoutSpecified = specified["timeout"]

	args.IdleDisconnect = *idleFlag
	args.IdleDisconnectSpecified = specified["idle"]

	args.Listen = *listenFlag
	args.ListenSpecified = specified["listen"]

	args.CertFile = *certFileFlag
	args.CertFileSpecified = specified["tls-cert"]

	args.KeyFile = *keyFileFlag
	args.KeyFileSpecified = specified["tls-key"]

	args.ServerAddr = *serverFlag
	args.ServerAddrSpecified = specified["server"]

	return args
}
