package main

import "github.com/spf13/pflag"

// daemonOptions holds the flag-backed settings resolved before the agent is
// built, following the same newXOptions(cfg).installFlags(flags) shape the
// teacher's own daemon entry point uses.
type daemonOptions struct {
	configFile  string
	traceFile   string
	traceLevel  int
	noDaemonize bool
	version     bool
}

func newDaemonOptions() *daemonOptions {
	return &daemonOptions{
		configFile: "nlagent.yaml",
		traceFile:  "-",
		traceLevel: 0,
	}
}

func (o *daemonOptions) installFlags(flags *pflag.FlagSet) {
	flags.StringVarP(&o.configFile, "config-file", "c", o.configFile, "path to the YAML configuration file")
	flags.StringVarP(&o.traceFile, "trace-file", "f", o.traceFile, "trace output file ('-' for stdout)")
	flags.IntVarP(&o.traceLevel, "trace-level", "t", o.traceLevel, "trace level: 0=ERR .. 4=DEBUG")
	flags.BoolVarP(&o.noDaemonize, "no-daemonize", "N", o.noDaemonize, "do not daemonize")
	flags.BoolVarP(&o.version, "version", "v", o.version, "print version and exit")
}
