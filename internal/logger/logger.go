package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 结构化日志接口，参数为交替的 key/value
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	Err(err error, msg string, kv ...any)
	With(kv ...any) Logger
}

// Options 日志配置
type Options struct {
	Level      string
	Writers    []string // console / file
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

type zlog struct {
	l zerolog.Logger
}

// New 按配置创建日志器，返回的 closer 用于关闭文件输出
func New(opts Options) (Logger, func() error, error) {
	var writers []io.Writer
	closer := func() error { return nil }

	for _, w := range opts.Writers {
		switch strings.ToLower(strings.TrimSpace(w)) {
		case "console":
			// 重定向到文件或管道时关闭颜色
			noColor := !term.IsTerminal(int(os.Stderr.Fd()))
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime, NoColor: noColor})
		case "file":
			if opts.File == "" {
				return nil, nil, fmt.Errorf("log file path is empty")
			}
			if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
				return nil, nil, err
			}
			lj := &lumberjack.Logger{
				Filename:   opts.File,
				MaxSize:    opts.MaxSizeMB,
				MaxBackups: opts.MaxBackups,
				MaxAge:     opts.MaxAgeDays,
				Compress:   opts.Compress,
				LocalTime:  true,
			}
			writers = append(writers, lj)
			closer = lj.Close
		default:
			return nil, nil, fmt.Errorf("unknown log writer %q", w)
		}
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	return NewWithWriter(zerolog.MultiLevelWriter(writers...), opts.Level), closer, nil
}

// NewWithWriter 创建写入指定 writer 的 JSON 日志器
func NewWithWriter(w io.Writer, level string) Logger {
	l := zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger()
	return &zlog{l: l}
}

// NewNop 创建丢弃所有输出的日志器
func NewNop() Logger {
	return &zlog{l: zerolog.Nop()}
}

// ParseLevel 解析日志级别，未知值按 info 处理
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (z *zlog) Debug(msg string, kv ...any) { withFields(z.l.Debug(), kv).Msg(msg) }
func (z *zlog) Info(msg string, kv ...any)  { withFields(z.l.Info(), kv).Msg(msg) }
func (z *zlog) Warn(msg string, kv ...any)  { withFields(z.l.Warn(), kv).Msg(msg) }
func (z *zlog) Error(msg string, kv ...any) { withFields(z.l.Error(), kv).Msg(msg) }

func (z *zlog) Err(err error, msg string, kv ...any) {
	withFields(z.l.Error().Err(err), kv).Msg(msg)
}

func (z *zlog) With(kv ...any) Logger {
	ctx := z.l.With()
	for i := 0; i < len(kv); i += 2 {
		key, val := pair(kv, i)
		ctx = ctx.Interface(key, val)
	}
	return &zlog{l: ctx.Logger()}
}

func withFields(e *zerolog.Event, kv []any) *zerolog.Event {
	for i := 0; i < len(kv); i += 2 {
		key, val := pair(kv, i)
		switch v := val.(type) {
		case string:
			e = e.Str(key, v)
		case error:
			e = e.AnErr(key, v)
		case time.Duration:
			e = e.Dur(key, v)
		case fmt.Stringer:
			e = e.Stringer(key, v)
		default:
			e = e.Interface(key, v)
		}
	}
	return e
}

func pair(kv []any, i int) (string, any) {
	key, ok := kv[i].(string)
	if !ok {
		key = fmt.Sprint(kv[i])
	}
	if i+1 >= len(kv) {
		return "!BADKEY", kv[i]
	}
	return key, kv[i+1]
}
