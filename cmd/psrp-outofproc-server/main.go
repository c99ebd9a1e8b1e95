// psrp-outofproc-server hosts the PSRP out-of-process transport: a
// single client drives one runspace pool and its pipelines over stdio or
// a local named pipe/socket.
//
// Usage:
//
//	psrp-outofproc-server [-pipe] [-pipe-name path] [-log-file path] [-log-level level]
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/smnsjas/psrp-outofproc-server/internal/log"
	"github.com/smnsjas/psrp-outofproc-server/internal/pipename"
	"github.com/smnsjas/psrp-outofproc-server/internal/server"
	"github.com/smnsjas/psrp-outofproc-server/internal/wireframe"
)

func main() {
	usePipe := flag.Bool("pipe", false, "listen on a named pipe/socket instead of stdio")
	pipeName := flag.String("pipe-name", "", "override the derived default pipe path (implies -pipe)")
	logFile := flag.String("log-file", "", "write structured logs to this file instead of stderr")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warning, error")
	flag.Parse()

	logger, closeLog, err := buildLogger(*logFile, *logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "psrp-outofproc-server: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	conn, err := buildConnection(*usePipe, *pipeName)
	if err != nil {
		logger.Error("building connection", "error", err)
		os.Exit(1)
	}

	transport := server.NewTransport(conn, logger)
	if err := transport.Serve(); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func buildConnection(usePipe bool, pipeName string) (wireframe.Connection, error) {
	if !usePipe && pipeName == "" {
		return wireframe.NewStdioConnection(), nil
	}

	path := pipeName
	if path == "" {
		derived, err := pipename.Default()
		if err != nil {
			return nil, fmt.Errorf("derive default pipe name: %w", err)
		}
		path = derived
	}
	return wireframe.NewPipeConnection(path), nil
}

func buildLogger(logFile, level string) (*slog.Logger, func(), error) {
	var sink io.Writer = os.Stderr
	closeFn := func() {}

	if logFile != "" {
		rf, err := log.NewRotatingFile(logFile, 10*1024*1024, 3)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		sink = rf
		closeFn = func() { _ = rf.Close() }
	}

	handler := log.NewRedactingHandler(slog.NewJSONHandler(sink, &slog.HandlerOptions{
		Level: parseLevel(level),
	}))
	return slog.New(handler), closeFn, nil
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
