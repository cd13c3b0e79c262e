// Package logging provides structured logging for the nebula hub.
//
// This package wraps Go's log/slog to emit JSON lines. Components receive a
// *Logger in their constructors and derive child loggers that carry session
// context, so every line about one session can be filtered by user and
// server name.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/var/log/nebula", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.Info("hub started", "bind_url", cfg.Hub.BindURL)
//
// # Context Propagation
//
//	log := logger.WithComponent("registry").WithSession("alice", "")
//	log.Info("spawn requested", "profile", "uv-lab-small")
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"spawn requested","component":"registry","user":"alice","server_name":"","profile":"uv-lab-small"}
//
// # Nil Loggers
//
// A nil *Logger discards all output. Components treat the logger as
// optional, and tests commonly pass nil or [NopLogger].
//
// # Log Rotation
//
//	logger, err := logging.NewLoggerWithRotation(dir, "INFO", logging.RotationConfig{
//	    MaxSizeMB:  10,
//	    MaxBackups: 3,
//	    Compress:   true,
//	})
//
// Rotated files are named hub.log.1 (newest) through hub.log.N, with a .gz
// suffix when compression is enabled.
package logging
