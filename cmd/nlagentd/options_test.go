package main

import (
	"testing"

	"github.com/spf13/pflag"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func TestDaemonOptionsInstallFlagsDefaults(t *testing.T) {
	flags := pflag.NewFlagSet("testing", pflag.ContinueOnError)
	opts := newDaemonOptions()
	opts.installFlags(flags)

	assert.NilError(t, flags.Parse(nil))
	assert.Check(t, is.Equal(opts.configFile, "nlagent.yaml"))
	assert.Check(t, is.Equal(opts.traceLevel, 0))
	assert.Check(t, is.Equal(opts.noDaemonize, false))
}

func TestDaemonOptionsInstallFlagsOverride(t *testing.T) {
	flags := pflag.NewFlagSet("testing", pflag.ContinueOnError)
	opts := newDaemonOptions()
	opts.installFlags(flags)

	err := flags.Parse([]string{"-c", "/etc/nlagent.yaml", "-t", "4", "-N"})
	assert.NilError(t, err)
	assert.Check(t, is.Equal(opts.configFile, "/etc/nlagent.yaml"))
	assert.Check(t, is.Equal(opts.traceLevel, 4))
	assert.Check(t, opts.noDaemonize)
}
