package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tunnel-keeper/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 组件使用的结构化日志接口
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)

	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})

	With(fields ...zap.Field) Logger
	Sync() error
}

type loggerImpl struct {
	base    *zap.Logger
	sugared *zap.SugaredLogger
}

var (
	defaultLogger *loggerImpl
	level         = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	mu            sync.RWMutex
)

// GetLogLevelFromString 将字符串转换为日志级别
func GetLogLevelFromString(lvl string) zapcore.Level {
	switch strings.ToLower(lvl) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.WarnLevel // 默认级别
	}
}

func newEncoder(pretty bool) zapcore.Encoder {
	if pretty {
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(ec)
	}
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewJSONEncoder(ec)
}

// openLogFile 打开日志文件，失败返回nil
func openLogFile(logPath string) zapcore.WriteSyncer {
	if logPath == "" || logPath == "console" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "创建日志目录失败: %v\n", err)
		return nil
	}
	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		// 在日志系统初始化失败时，暂时使用标准错误输出
		fmt.Fprintf(os.Stderr, "打开日志文件失败: %v\n", err)
		return nil
	}
	return zapcore.AddSync(file)
}

/**
 * Initialize the logging system according to run mode
 * @param {*config.LogConfig} cfg - Logging configuration
 * @param {bool} isServerMode - true for the HTTP server (console + file), false for CLI (file only)
 * @description
 * - Console output is always used when the file cannot be opened
 * - Log level can be changed later via SetLevel without rebuilding the logger
 */
func InitLoggerWithMode(cfg *config.LogConfig, isServerMode bool) {
	level.SetLevel(GetLogLevelFromString(cfg.Level))

	var sinks []zapcore.Core
	file := openLogFile(cfg.Path)
	if file != nil {
		sinks = append(sinks, zapcore.NewCore(newEncoder(false), file, level))
	}
	if isServerMode || file == nil {
		sinks = append(sinks, zapcore.NewCore(newEncoder(cfg.Pretty), zapcore.Lock(os.Stdout), level))
	}

	base := zap.New(zapcore.NewTee(sinks...), zap.AddCaller(), zap.AddStacktrace(zapcore.FatalLevel))
	setDefault(base)
}

// New 创建独立的日志器，主要用于测试
func New(lvl string, pretty bool) Logger {
	cfg := zap.NewProductionConfig()
	if pretty {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(GetLogLevelFromString(lvl))
	base, err := cfg.Build(zap.AddStacktrace(zapcore.FatalLevel))
	if err != nil {
		panic(err)
	}
	return &loggerImpl{base: base, sugared: base.Sugar()}
}

// Nop 不输出任何内容的日志器
func Nop() Logger {
	base := zap.NewNop()
	return &loggerImpl{base: base, sugared: base.Sugar()}
}

func setDefault(base *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if defaultLogger != nil {
		_ = defaultLogger.base.Sync()
	}
	defaultLogger = &loggerImpl{
		base:    base,
		sugared: base.WithOptions(zap.AddCallerSkip(1)).Sugar(),
	}
}

func get() *loggerImpl {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// SetLevel 运行时修改日志级别
func SetLevel(lvl string) {
	level.SetLevel(GetLogLevelFromString(lvl))
}

/**
 * Get a named structured logger for a component
 * @param {string} name - Component name, appears as "logger" field
 * @returns {Logger} Named logger, no-op when the system is not initialized
 */
func Named(name string) Logger {
	l := get()
	if l == nil {
		return Nop()
	}
	base := l.base.Named(name)
	return &loggerImpl{base: base, sugared: base.Sugar()}
}

func (l *loggerImpl) Debug(msg string, fields ...zap.Field) { l.base.Debug(msg, fields...) }
func (l *loggerImpl) Info(msg string, fields ...zap.Field)  { l.base.Info(msg, fields...) }
func (l *loggerImpl) Warn(msg string, fields ...zap.Field)  { l.base.Warn(msg, fields...) }
func (l *loggerImpl) Error(msg string, fields ...zap.Field) { l.base.Error(msg, fields...) }

func (l *loggerImpl) Debugf(t string, args ...interface{}) { l.sugared.Debugf(t, args...) }
func (l *loggerImpl) Infof(t string, args ...interface{})  { l.sugared.Infof(t, args...) }
func (l *loggerImpl) Warnf(t string, args ...interface{})  { l.sugared.Warnf(t, args...) }
func (l *loggerImpl) Errorf(t string, args ...interface{}) { l.sugared.Errorf(t, args...) }

func (l *loggerImpl) With(fields ...zap.Field) Logger {
	base := l.base.With(fields...)
	return &loggerImpl{base: base, sugared: base.Sugar()}
}

func (l *loggerImpl) Sync() error { return l.base.Sync() }

// Sync 刷新默认日志器缓冲
func Sync() {
	if l := get(); l != nil {
		_ = l.base.Sync()
	}
}

// Field 结构化日志字段
type Field = zap.Field

// Field constructors, so callers don't import zap directly
func String(key, val string) zap.Field                 { return zap.String(key, val) }
func Int(key string, val int) zap.Field                { return zap.Int(key, val) }
func Bool(key string, val bool) zap.Field              { return zap.Bool(key, val) }
func Duration(key string, val time.Duration) zap.Field { return zap.Duration(key, val) }
func Time(key string, val time.Time) zap.Field         { return zap.Time(key, val) }
func Err(err error) zap.Field                          { return zap.Error(err) }

// Debug 输出调试日志
func Debug(v ...interface{}) {
	if l := get(); l != nil {
		l.sugared.Debug(v...)
	}
}

// Debugf 输出格式化调试日志
func Debugf(format string, v ...interface{}) {
	if l := get(); l != nil {
		l.sugared.Debugf(format, v...)
	}
}

// Info 输出信息日志
func Info(v ...interface{}) {
	if l := get(); l != nil {
		l.sugared.Info(v...)
	}
}

// Infof 输出格式化信息日志
func Infof(format string, v ...interface{}) {
	if l := get(); l != nil {
		l.sugared.Infof(format, v...)
	}
}

// Warn 输出警告日志
func Warn(v ...interface{}) {
	if l := get(); l != nil {
		l.sugared.Warn(v...)
	}
}

// Warnf 输出格式化警告日志
func Warnf(format string, v ...interface{}) {
	if l := get(); l != nil {
		l.sugared.Warnf(format, v...)
	}
}

// Error 输出错误日志
func Error(v ...interface{}) {
	if l := get(); l != nil {
		l.sugared.Error(v...)
	}
}

// Errorf 输出格式化错误日志
func Errorf(format string, v ...interface{}) {
	if l := get(); l != nil {
		l.sugared.Errorf(format, v...)
	}
}

// Fatal 输出致命错误日志并退出程序
func Fatal(v ...interface{}) {
	if l := get(); l != nil {
		l.sugared.Fatal(v...)
		return
	}
	// 在日志系统未初始化时，使用标准错误输出
	fmt.Fprintln(os.Stderr, append([]interface{}{"FATAL:"}, v...)...)
	os.Exit(1)
}

// Fatalf 输出格式化致命错误日志并退出程序
func Fatalf(format string, v ...interface{}) {
	if l := get(); l != nil {
		l.sugared.Fatalf(format, v...)
		return
	}
	fmt.Fprintf(os.Stderr, "FATAL: "+format+"\n", v...)
	os.Exit(1)
}
