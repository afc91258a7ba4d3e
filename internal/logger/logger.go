package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Debug flag to control debug logging
	debugEnabled = false
	// The sugared logger instance. Nop until Init is called so packages can log in tests.
	base = zap.NewNop().Sugar()
)

// Init initializes the logger. Debug mode switches to a console encoder at debug level,
// otherwise JSON at the level named by levelName (info when empty or unparsable).
func Init(debug bool, levelName ...string) {
	debugEnabled = debug

	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if len(levelName) > 0 && levelName[0] != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(levelName[0]))); err != nil {
			level.SetLevel(zap.InfoLevel)
		}
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if debug {
		level.SetLevel(zap.DebugLevel)
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level)
	base = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2), zap.AddStacktrace(zapcore.ErrorLevel)).Sugar()

	if debugEnabled {
		Debug("Debug logging enabled")
	}
}

// Sync flushes buffered log entries.
func Sync() {
	_ = base.Sync()
}

// IsDebugEnabled returns whether debug logging is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

func logf(level zapcore.Level, component, format string, v ...interface{}) {
	l := base
	if component != "" {
		l = l.Named(component)
	}
	switch level {
	case zapcore.DebugLevel:
		l.Debugf(format, v...)
	case zapcore.WarnLevel:
		l.Warnf(format, v...)
	case zapcore.ErrorLevel:
		l.Errorf(format, v...)
	default:
		l.Infof(format, v...)
	}
}

// Debug logs a debug message if debug mode is enabled
func Debug(format string, v ...interface{}) { logf(zapcore.DebugLevel, "", format, v...) }

// Info logs an info message
func Info(format string, v ...interface{}) { logf(zapcore.InfoLevel, "", format, v...) }

// Warn logs a warning message
func Warn(format string, v ...interface{}) { logf(zapcore.WarnLevel, "", format, v...) }

// Error logs an error message
func Error(format string, v ...interface{}) { logf(zapcore.ErrorLevel, "", format, v...) }

// RPC gateway and metadata readers.
func RPCDebug(format string, v ...interface{}) { logf(zapcore.DebugLevel, "rpc", format, v...) }
func RPCInfo(format string, v ...interface{})  { logf(zapcore.InfoLevel, "rpc", format, v...) }
func RPCWarn(format string, v ...interface{})  { logf(zapcore.WarnLevel, "rpc", format, v...) }
func RPCError(format string, v ...interface{}) { logf(zapcore.ErrorLevel, "rpc", format, v...) }

// Token discovery, image resolution and transfers.
func TokenDebug(format string, v ...interface{}) { logf(zapcore.DebugLevel, "token", format, v...) }
func TokenInfo(format string, v ...interface{})  { logf(zapcore.InfoLevel, "token", format, v...) }
func TokenWarn(format string, v ...interface{})  { logf(zapcore.WarnLevel, "token", format, v...) }
func TokenError(format string, v ...interface{}) { logf(zapcore.ErrorLevel, "token", format, v...) }

// Telegram and HTTP presentation.
func TelegramDebug(format string, v ...interface{}) {
	logf(zapcore.DebugLevel, "telegram", format, v...)
}
func TelegramInfo(format string, v ...interface{}) { logf(zapcore.InfoLevel, "telegram", format, v...) }
func TelegramWarn(format string, v ...interface{}) { logf(zapcore.WarnLevel, "telegram", format, v...) }
func TelegramError(format string, v ...interface{}) {
	logf(zapcore.ErrorLevel, "telegram", format, v...)
}
