package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ModuleConfig is the resolved configuration for a single role.
type ModuleConfig struct {
	Enabled bool
	Addr    string
	Port    int
	Policy  map[PolicyKind][]int
	NotifyMe map[ModuleID]bool
}

// Config is the fully resolved configuration for all six roles, indexed by
// ModuleID. Disabled roles have Enabled false and empty Policy and NotifyMe
// maps.
type Config struct {
	Modules [ModuleAll]ModuleConfig
}

// NewConfig returns a Config with every role's maps initialized.
func NewConfig() *Config {
	c := &Config{}
	for i := range c.Modules {
		c.Modules[i].Policy = make(map[PolicyKind][]int)
		c.Modules[i].NotifyMe = make(map[ModuleID]bool)
	}
	return c
}

// rawFile mirrors the on-disk YAML shape described by the nlagent-modules
// top-level key.
type rawFile struct {
	Modules []rawModule `yaml:"nlagent-modules"`
}

type rawModule struct {
	Module       string            `yaml:"module"`
	ServerAddr   string            `yaml:"server-address"`
	ServerPort   int               `yaml:"server-port"`
	Policy       []map[string]int `yaml:"policy"`
	NotifyMe     []rawNotify       `yaml:"notify-me"`
}

type rawNotify struct {
	NotifyEventsFrom string `yaml:"notify-events-from"`
}

// ConfigFault reports a recoverable configuration-file problem: an unknown
// module name, an unknown policy key, an unknown notify-events-from role, or
// a policy list that exceeded MaxPolicyEntries. The offending directive is
// logged and ignored rather than aborting the whole load. A policy value or
// server-port that is not an integer is not reported as a ConfigFault: it
// fails the YAML decode, and Load returns an error.
type ConfigFault struct {
	Module string
	Detail string
}

func (f *ConfigFault) Error() string {
	return fmt.Sprintf("config: %s: %s", f.Module, f.Detail)
}

// Load reads and resolves the YAML configuration at path. If the file does
// not exist, it is created with WriteDefault's contents and then loaded.
// Load does not fail outright on an unknown name or an over-long policy
// list — those are returned as faults alongside whatever valid configuration
// could still be built. A document that does not decode into the expected
// shape (for example a non-integer policy value) makes Load return an error
// and no configuration. The
// caller decides whether an empty-enough result is fatal (spec: "if no
// module could be enabled the process exits with code 1").
func Load(path string) (*Config, []*ConfigFault, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if werr := WriteDefault(path); werr != nil {
			return nil, nil, fmt.Errorf("config: writing default to %s: %w", path, werr)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var raw rawFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg := NewConfig()
	var faults []*ConfigFault

	for _, rm := range raw.Modules {
		id, ok := ParseModuleID(rm.Module)
		if !ok {
			faults = append(faults, &ConfigFault{Module: rm.Module, Detail: "unknown module name"})
			continue
		}

		mc := &cfg.Modules[id]
		mc.Enabled = true
		mc.Addr = rm.ServerAddr
		mc.Port = rm.ServerPort

		for _, pm := range rm.Policy {
			for key, val := range pm {
				kind, ok := ParsePolicyKind(key)
				if !ok {
					faults = append(faults, &ConfigFault{Module: rm.Module, Detail: fmt.Sprintf("unknown policy key %q", key)})
					continue
				}
				if len(mc.Policy[kind]) >= MaxPolicyEntries {
					faults = append(faults, &ConfigFault{Module: rm.Module, Detail: fmt.Sprintf("policy %q exceeds %d entries, ignoring value %d", key, MaxPolicyEntries, val)})
					continue
				}
				mc.Policy[kind] = append(mc.Policy[kind], val)
			}
		}

		for _, n := range rm.NotifyMe {
			src, ok := ParseModuleID(n.NotifyEventsFrom)
			if !ok {
				faults = append(faults, &ConfigFault{Module: rm.Module, Detail: fmt.Sprintf("unknown notify-events-from %q", n.NotifyEventsFrom)})
				continue
			}
			mc.NotifyMe[src] = true
		}
	}

	return cfg, faults, nil
}

// defaultConfigYAML reproduces nla_yaml_default_config verbatim: KNLM
// enabled; PRPD_CLIENT at 127.0.0.1:40051 subscribed to FPM_CLIENT;
// FPM_CLIENT at 127.0.0.1:2620 with filter-protocol 22, set-protocol 0,
// strip-rtattr {7,12,15,20}, subscribed to KNLM.
const defaultConfigYAML = `nlagent-modules:
  - module: KNLM

  - module: PRPD_CLIENT
    server-address: 127.0.0.1
    server-port: 40051
    notify-me:
      - notify-events-from: FPM_CLIENT

  - module: FPM_CLIENT
    server-address: 127.0.0.1
    server-port: 2620
    policy:
      - filter-protocol: 22
      - set-protocol: 0
      - strip-rtattr: 7
      - strip-rtattr: 12
      - strip-rtattr: 15
      - strip-rtattr: 20
    notify-me:
      - notify-events-from: KNLM
`

// WriteDefault writes the built-in default configuration to path, used when
// the configured file does not yet exist.
func WriteDefault(path string) error {
	return os.WriteFile(path, []byte(defaultConfigYAML), 0o644)
}
