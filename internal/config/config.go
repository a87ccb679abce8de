package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ALEYI17/InfraSight_gpudebug/internal/codeobject"
	"github.com/ALEYI17/InfraSight_gpudebug/pkg/logutil"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	EnvAgentLog       = "ROCM_DEBUG_ENABLE_AGENTLOG"
	EnvSessionID      = "ROCM_DEBUG_SESSION_ID"
	EnvSaveCodeObject = "ROCM_DEBUG_SAVE_CODE_OBJECT"
	EnvWaveStateDump  = "ROCM_DEBUG_WAVE_STATE_DUMP"
	EnvAgentOptions   = "ROCM_DEBUG_AGENT_OPTIONS"
	EnvGdbAttached    = "ROCM_DEBUG_GDB_ATTACHED"
	EnvHsaDebug       = "HSA_ENABLE_DEBUG"
	EnvConfigFile     = "GPUDEBUG_CONFIG"

	maxSessionIDLen = 64
)

var ErrInvalidOptions = errors.New("invalid agent options")

type Config struct {
	LogDest  string
	LogLevel string

	SessionID         string
	CodeObjectDir     string
	RetainCodeObjects bool
	WaveStateDump     string
	OutputFile        string

	PrintAll         bool
	DisableSignals   bool
	Help             bool
	DebuggerAttached bool
	Disassembler     string

	ServerAdress   string
	Serverport     string
	Nodename       string
	EnableProbes   []string
	MetricsAddress string
	TracerObject   string
	FlushInterval  time.Duration
}

// File is the optional YAML layer named by GPUDEBUG_CONFIG.
type File struct {
	Agent struct {
		Log            string `yaml:"log"`
		LogLevel       string `yaml:"log_level"`
		SessionID      string `yaml:"session_id"`
		SaveCodeObject string `yaml:"save_code_object"`
		WaveStateDump  string `yaml:"wave_state_dump"`
		Options        string `yaml:"options"`
		Disassembler   string `yaml:"disassembler"`
	} `yaml:"agent"`
	Collector struct {
		Address string `yaml:"address"`
		Port    string `yaml:"port"`
		Node    string `yaml:"node"`
	} `yaml:"collector"`
	Metrics struct {
		Listen string `yaml:"listen"`
	} `yaml:"metrics"`
	Tracer struct {
		Object        string   `yaml:"object"`
		Probes        []string `yaml:"probes"`
		FlushInterval string   `yaml:"flush_interval"`
	} `yaml:"tracer"`
}

func LoadFile(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &f, nil
}

func LoadConfig() *Config {
	return Load(os.Getenv, os.Getpid(), logutil.GetLogger())
}

// Load builds the configuration from getenv. The YAML file supplies
// defaults for every environment key; environment values win.
func Load(getenv func(string) string, pid int, logger *zap.Logger) *Config {
	if logger == nil {
		logger = zap.NewNop()
	}

	var file File
	if path := getenv(EnvConfigFile); path != "" {
		f, err := LoadFile(path)
		if err != nil {
			logger.Warn("ignoring config file", zap.String("path", path), zap.Error(err))
		} else {
			file = *f
		}
	}

	env := func(key, fallback string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return fallback
	}

	cfg := &Config{
		LogDest:        env(EnvAgentLog, file.Agent.Log),
		LogLevel:       file.Agent.LogLevel,
		WaveStateDump:  env(EnvWaveStateDump, file.Agent.WaveStateDump),
		CodeObjectDir:  env(EnvSaveCodeObject, file.Agent.SaveCodeObject),
		Disassembler:   file.Agent.Disassembler,
		ServerAdress:   file.Collector.Address,
		Serverport:     file.Collector.Port,
		Nodename:       file.Collector.Node,
		EnableProbes:   file.Tracer.Probes,
		MetricsAddress: file.Metrics.Listen,
		TracerObject:   file.Tracer.Object,
	}
	cfg.RetainCodeObjects = cfg.CodeObjectDir != ""
	cfg.DebuggerAttached = getenv(EnvGdbAttached) == "1" || getenv(EnvHsaDebug) == "1"
	cfg.SessionID = codeobject.SessionID(env(EnvSessionID, file.Agent.SessionID), pid)
	if len(cfg.SessionID) > maxSessionIDLen {
		logger.Warn("session id is longer than 64 characters", zap.String("session", cfg.SessionID))
	}

	if cfg.Serverport == "" {
		cfg.Serverport = "8080"
	}
	if cfg.Nodename == "" {
		cfg.Nodename, _ = os.Hostname()
	}
	if cfg.MetricsAddress == "" {
		cfg.MetricsAddress = ":9464"
	}
	if d, err := time.ParseDuration(file.Tracer.FlushInterval); err == nil {
		cfg.FlushInterval = d
	}

	opts := env(EnvAgentOptions, file.Agent.Options)
	if err := cfg.ApplyOptions(opts); err != nil {
		logger.Warn("ignoring agent options", zap.String("options", opts), zap.Error(err))
	}
	return cfg
}

func newFlagSet(c *Config) *pflag.FlagSet {
	fs := pflag.NewFlagSet("rocm-debug-agent", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.BoolVarP(&c.PrintAll, "all", "a", c.PrintAll, "Print all wavefronts.")
	fs.StringVarP(&c.CodeObjectDir, "save-code-objects", "s", c.CodeObjectDir, "Save all loaded code objects in DIR (default the current directory).")
	fs.Lookup("save-code-objects").NoOptDefVal = "."
	fs.StringVarP(&c.OutputFile, "output", "o", c.OutputFile, "Save the output in FILE.")
	fs.BoolVarP(&c.DisableSignals, "disable-linux-signals", "d", c.DisableSignals, "Do not install a SIGQUIT handler.")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Log level: none, error, warning, info or verbose.")
	fs.BoolVarP(&c.Help, "help", "h", c.Help, "Display a usage message.")
	return fs
}

// ApplyOptions parses an option string such as "-a -l info". On error the
// configuration is left untouched.
func (c *Config) ApplyOptions(opts string) error {
	if strings.TrimSpace(opts) == "" {
		return nil
	}
	next := *c
	fs := newFlagSet(&next)
	if err := fs.Parse(strings.Fields(opts)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%w: unexpected argument %q", ErrInvalidOptions, fs.Arg(0))
	}
	if _, _, err := logutil.ParseLevel(next.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if fs.Changed("save-code-objects") {
		if st, err := os.Stat(next.CodeObjectDir); err != nil || !st.IsDir() {
			return fmt.Errorf("%w: cannot access code object save directory %q", ErrInvalidOptions, next.CodeObjectDir)
		}
		next.RetainCodeObjects = true
	}
	*c = next
	return nil
}

// Usage returns the option help text.
func Usage() string {
	var c Config
	fs := newFlagSet(&c)
	return "ROCdebug-agent usage:\n" + fs.FlagUsages()
}
