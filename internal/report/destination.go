package report

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
)

const (
	DestStdout = "stdout"
	DestFile   = "file"
)

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// OpenDestination picks where wave dumps go. An explicit output file wins;
// otherwise mode "file" appends to dumpPath and anything but "stdout" or ""
// warns and falls back to stdout.
func OpenDestination(mode, outputFile, dumpPath string, logger *zap.Logger) (io.WriteCloser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	path := outputFile
	switch {
	case path != "":
	case mode == DestFile:
		path = dumpPath
	case mode == "" || mode == DestStdout:
		return nopCloser{os.Stdout}, nil
	default:
		logger.Warn("invalid wave state dump destination, using stdout", zap.String("value", mode))
		return nopCloser{os.Stdout}, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening wave state dump: %w", err)
	}
	logger.Info("wave state dump", zap.String("path", path))
	return f, nil
}
