//go:build linux

package main

import (
	"io"
	"os"

	"gokernel/kernel/kfmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// kernelLevel maps a logrus level to the matching kfmt level.
func kernelLevel(lvl logrus.Level) kfmt.Level {
	switch {
	case lvl >= logrus.DebugLevel:
		return kfmt.LevelDebug
	case lvl == logrus.InfoLevel:
		return kfmt.LevelInfo
	case lvl == logrus.WarnLevel:
		return kfmt.LevelWarn
	default:
		return kfmt.LevelError
	}
}

// setupLogging configures logrus and routes the kernel log output either
// through logrus or, if raw is set, straight to w with every line prefixed.
// The returned function restores the previous kernel sink.
func setupLogging(levelName string, raw bool, w io.Writer) (func(), error) {
	lvl, err := logrus.ParseLevel(levelName)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", levelName)
	}
	logrus.SetLevel(lvl)
	logrus.SetOutput(w)
	kfmt.SetLogLevel(kernelLevel(lvl))

	prevSink := kfmt.GetOutputSink()
	if raw {
		kfmt.SetOutputSink(&kfmt.PrefixWriter{Sink: w, Prefix: []byte("kernel | ")})
		return func() { kfmt.SetOutputSink(prevSink) }, nil
	}

	// The kernel already filters by level so every line that reaches the
	// sink is forwarded.
	pw := logrus.WithField("source", "kernel").WriterLevel(logrus.InfoLevel)
	kfmt.SetOutputSink(pw)
	return func() {
		kfmt.SetOutputSink(prevSink)
		_ = pw.Close()
	}, nil
}

func defaultLogOutput() io.Writer { return os.Stderr }
