// Package pivlog is the logging facility consumed by apdu (for APDU
// hex dumps) and configured by cmd/pivctl. It is intentionally thin: a single package-level logger
// plus the "full APDU debug" knob.
package pivlog

import (
	"encoding/hex"
	"log/slog"
	"sync/atomic"
)

var logger atomic.Pointer[slog.Logger]

var apduDebug atomic.Bool

func init() {
	logger.Store(slog.Default())
}

// SetLogger overrides the package-level logger. Passing nil restores
// slog.Default().
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	logger.Store(l)
}

// Logger returns the current package-level logger.
func Logger() *slog.Logger { return logger.Load() }

// SetAPDUDebug toggles the full-APDU debug flag: when enabled, every
// outgoing command APDU and incoming response is hex-dumped at
// slog.LevelDebug.
func SetAPDUDebug(enabled bool) { apduDebug.Store(enabled) }

// APDUDebug reports whether APDU debug logging is enabled.
func APDUDebug() bool { return apduDebug.Load() }

// DebugAPDU logs a sent or received APDU when APDUDebug() is on. dir
// is "send" or "recv".
func DebugAPDU(dir string, data []byte) {
	if !apduDebug.Load() {
		return
	}
	logger.Load().Debug("apdu", "dir", dir, "hex", hex.EncodeToString(data))
}
