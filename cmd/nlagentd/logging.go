package main

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// nlaVersion is the NLA_VERSION constant the original's nal_show_version
// printed.
const nlaVersion = 1

// traceLevelToLogrus maps the CLI's 0=ERR..4=DEBUG numeric trace level onto
// logrus.Level, since logrus has no built-in numeric trace scale.
var traceLevelToLogrus = [...]logrus.Level{
	0: logrus.ErrorLevel,
	1: logrus.WarnLevel,
	2: logrus.WarnLevel,
	3: logrus.InfoLevel,
	4: logrus.DebugLevel,
}

func newLogger(opts *daemonOptions) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	level := logrus.DebugLevel
	if opts.traceLevel >= 0 && opts.traceLevel < len(traceLevelToLogrus) {
		level = traceLevelToLogrus[opts.traceLevel]
	}
	log.SetLevel(level)

	var out io.Writer = os.Stdout
	if opts.traceFile != "-" && opts.traceFile != "" {
		f, err := os.OpenFile(opts.traceFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		out = f
	}
	log.SetOutput(out)

	return log, nil
}
