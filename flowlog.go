// Package flowlog is an asynchronous, high-throughput logging pipeline:
// producers enqueue records and return immediately; a single dispatcher
// goroutine drains the queue in batches and fans them out to one or more
// appenders, most commonly a file-split appender that rotates, packs,
// and prunes its own archives.
//
// Usage:
//
//	logger, err := flowlog.New("./logs/app.log",
//		flowlog.WithRolling(&rolling.BySize{Limit: 256 << 20}),
//		flowlog.WithPacker(pack.GzipPacker{}),
//		flowlog.WithConsole(),
//	)
//	if err != nil {
//		log.Fatalf("flowlog: %v", err)
//	}
//	defer logger.Close()
//
//	logger.Info("server started")
//	logger.Errorf("request failed: %v", err)
//
//	ctx = flowlog.IntoContext(ctx, logger)
//	flowlog.Info(ctx, "handling request")
package flowlog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowlog/flowlog/appender"
	"github.com/flowlog/flowlog/dispatcher"
	"github.com/flowlog/flowlog/fileappender"
	"github.com/flowlog/flowlog/filter"
	"github.com/flowlog/flowlog/format"
	"github.com/flowlog/flowlog/pack"
	"github.com/flowlog/flowlog/queue"
	"github.com/flowlog/flowlog/record"
	"github.com/flowlog/flowlog/retention"
	"github.com/flowlog/flowlog/rolling"
)

// Err is a structured error: a category, a message, and the underlying
// cause.
type Err struct {
	Kind string
	Msg  string
	Err  error
}

func (e *Err) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("flowlog: %s: %s: %s", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("flowlog: %s: %s", e.Kind, e.Msg)
}

func (e *Err) Unwrap() error { return e.Err }

var (
	// ErrClosed is returned by Flush or Close when called on an
	// already-closed Logger.
	ErrClosed = errors.New("flowlog: logger closed")
	// ErrAlreadyInitialized is returned by Init on any call after the
	// first; the global handle never rebinds, successful or not.
	ErrAlreadyInitialized = errors.New("flowlog: already initialized")
)

// Config is built by New from a chain of Options.
type Config struct {
	level     record.Level
	chanLen   int
	rolling   rolling.Policy
	retention retention.Policy
	packer    pack.Packer
	formatter format.Formatter
	filter    filter.Filter
	console   bool
	extra     []appender.Appender
	errorSink func(error)
}

// Option configures a Logger at construction time.
type Option func(*Config)

// WithLevel sets the minimum severity that reaches an appender. The
// default is record.Info.
func WithLevel(l record.Level) Option { return func(c *Config) { c.level = l } }

// WithChanLen sets the producer queue's capacity. 0 (the default) means
// unbounded: Send never blocks a producer. A positive value makes the
// queue a bounded native channel, applying backpressure once full.
func WithChanLen(n int) Option { return func(c *Config) { c.chanLen = n } }

// WithRolling overrides the file appender's rotation policy. The default
// is a 256 MiB BySize policy.
func WithRolling(p rolling.Policy) Option { return func(c *Config) { c.rolling = p } }

// WithRetention overrides the file appender's archive-pruning policy.
// The default keeps every archive.
func WithRetention(p retention.Policy) Option { return func(c *Config) { c.retention = p } }

// WithPacker overrides how a rotated archive is transformed after
// rotation. The default keeps it as a plain ".log" copy.
func WithPacker(p pack.Packer) Option { return func(c *Config) { c.packer = p } }

// WithFormat overrides how records are rendered before reaching an
// appender. The default is format.Text at the Warn threshold.
func WithFormat(f format.Formatter) Option { return func(c *Config) { c.formatter = f } }

// WithFilter overrides module-path suppression. The default suppresses
// nothing.
func WithFilter(f filter.Filter) Option { return func(c *Config) { c.filter = f } }

// WithConsole adds a stdout appender alongside the file appender.
func WithConsole() Option { return func(c *Config) { c.console = true } }

// WithAppender registers an additional appender, delivered batches in
// the order options were applied, after the file appender and the
// optional console appender.
func WithAppender(a appender.Appender) Option {
	return func(c *Config) { c.extra = append(c.extra, a) }
}

// WithErrorSink registers a callback for internal I/O and pack errors,
// which are otherwise swallowed so a disk fault never reaches a
// producer. Called from the dispatcher goroutine (write-path errors),
// the file appender's saver goroutine (pack errors), and a producer
// goroutine whose enqueue fails, so calls may be concurrent.
func WithErrorSink(f func(error)) Option { return func(c *Config) { c.errorSink = f } }

// Logger is the handle producers log through. The zero value is not
// usable; construct one with New.
type Logger struct {
	closeMu sync.Mutex
	closed  atomic.Bool
	level   atomic.Int32

	queue         queue.Channel[record.Record]
	dispatcher    *dispatcher.Dispatcher
	formatter     format.Formatter
	filter        filter.Filter
	appenderCount int
	errorSink     func(error)
}

// New opens (or resumes) the active file at path, wires the configured
// appenders behind a single dispatcher, and returns a ready Logger.
func New(path string, opts ...Option) (*Logger, error) {
	cfg := Config{
		level:     record.Info,
		formatter: format.Text{DisplayLineLevel: record.Warn},
		filter:    filter.None{},
		errorSink: func(error) {},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	fa, err := fileappender.New(fileappender.Config{
		Path:      path,
		Rolling:   cfg.rolling,
		Retention: cfg.retention,
		Packer:    cfg.packer,
		ErrorSink: cfg.errorSink,
	})
	if err != nil {
		return nil, &Err{Kind: "config", Msg: "open active file", Err: err}
	}

	appenders := make([]appender.Appender, 0, 2+len(cfg.extra))
	appenders = append(appenders, fa)
	if cfg.console {
		appenders = append(appenders, appender.Console{Write: os.Stdout.Write})
	}
	appenders = append(appenders, cfg.extra...)

	q := queue.New[record.Record](cfg.chanLen)
	d := dispatcher.New(q, appenders, 0)

	l := &Logger{
		queue:         q,
		dispatcher:    d,
		formatter:     cfg.formatter,
		filter:        cfg.filter,
		appenderCount: len(appenders),
		errorSink:     cfg.errorSink,
	}
	l.level.Store(int32(cfg.level))
	return l, nil
}

func (l *Logger) isLevelEnabled(level record.Level) bool {
	if l.closed.Load() {
		return false
	}
	return int32(level) <= l.level.Load()
}

// logSkip is shared by every severity method and the context-taking
// package functions; both call it at the same stack depth (one frame of
// their own, then logSkip), so a single constant skip into callerInfo
// works for all of them.
func (l *Logger) logSkip(level record.Level, args string) {
	if !l.isLevelEnabled(level) {
		return
	}
	modulePath, file, line := callerInfo(3)
	if l.filter != nil && l.filter.Suppress(modulePath) {
		return
	}
	r := record.NewLog(level, modulePath, args, modulePath, file, line, time.Now())
	if l.formatter != nil {
		r = l.formatter.Format(r)
	}
	if err := l.queue.Send(r); err != nil {
		l.errorSink(&Err{Kind: "enqueue", Msg: "send log record", Err: err})
	}
}

func (l *Logger) Trace(v ...interface{}) { l.logSkip(record.Trace, fmt.Sprint(v...)) }
func (l *Logger) Debug(v ...interface{}) { l.logSkip(record.Debug, fmt.Sprint(v...)) }
func (l *Logger) Info(v ...interface{})  { l.logSkip(record.Info, fmt.Sprint(v...)) }
func (l *Logger) Warn(v ...interface{})  { l.logSkip(record.Warn, fmt.Sprint(v...)) }
func (l *Logger) Error(v ...interface{}) { l.logSkip(record.Error, fmt.Sprint(v...)) }

func (l *Logger) Tracef(format string, v ...interface{}) {
	l.logSkip(record.Trace, fmt.Sprintf(format, v...))
}
func (l *Logger) Debugf(format string, v ...interface{}) {
	l.logSkip(record.Debug, fmt.Sprintf(format, v...))
}
func (l *Logger) Infof(format string, v ...interface{}) {
	l.logSkip(record.Info, fmt.Sprintf(format, v...))
}
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.logSkip(record.Warn, fmt.Sprintf(format, v...))
}
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.logSkip(record.Error, fmt.Sprintf(format, v...))
}

// IsClosed reports whether Close has already run.
func (l *Logger) IsClosed() bool { return l.closed.Load() }

// Flush blocks until every record enqueued before this call has reached
// stable storage in every appender.
func (l *Logger) Flush() error {
	l.closeMu.Lock()
	defer l.closeMu.Unlock()
	if l.closed.Load() {
		return ErrClosed
	}
	r, wg := record.NewFlushBarrier(l.appenderCount)
	if err := l.queue.Send(r); err != nil {
		return &Err{Kind: "flush", Msg: "send flush barrier", Err: err}
	}
	wg.Wait()
	return nil
}

// Close sends Exit to every appender and blocks until the dispatcher and
// every appender's own background work (e.g. a file appender's saver)
// have fully drained. Idempotent: a second call returns ErrClosed.
func (l *Logger) Close() error {
	l.closeMu.Lock()
	defer l.closeMu.Unlock()
	if l.closed.Load() {
		return ErrClosed
	}
	l.closed.Store(true)
	if err := l.queue.Send(record.NewExit()); err != nil {
		return &Err{Kind: "close", Msg: "send exit", Err: err}
	}
	l.dispatcher.Join()
	return nil
}

// callerInfo derives the package import path, file, and line of the
// original log call site, the idiomatic Go stand-in for module_path!()/
// file!()/line!() macros captured at compile time elsewhere.
func callerInfo(skip int) (modulePath, file string, line int) {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "", "", 0
	}
	if fn := runtime.FuncForPC(pc); fn != nil {
		modulePath = packagePath(fn.Name())
	}
	return modulePath, file, line
}

// packagePath strips a fully-qualified function name (e.g.
// "github.com/flowlog/flowlog.(*Logger).Info" or "main.main") down to
// its package import path.
func packagePath(fullFuncName string) string {
	prefix, rest := "", fullFuncName
	if slash := strings.LastIndex(fullFuncName, "/"); slash >= 0 {
		prefix, rest = fullFuncName[:slash+1], fullFuncName[slash+1:]
	}
	if dot := strings.Index(rest, "."); dot >= 0 {
		rest = rest[:dot]
	}
	return prefix + rest
}

type ctxKey struct{}

// IntoContext places logger into ctx for package-level functions to find.
func IntoContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext retrieves the Logger placed by IntoContext, or nil.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return nil
}

func Trace(ctx context.Context, v ...interface{}) {
	if l := FromContext(ctx); l != nil {
		l.logSkip(record.Trace, fmt.Sprint(v...))
	}
}
func Debug(ctx context.Context, v ...interface{}) {
	if l := FromContext(ctx); l != nil {
		l.logSkip(record.Debug, fmt.Sprint(v...))
	}
}
func Info(ctx context.Context, v ...interface{}) {
	if l := FromContext(ctx); l != nil {
		l.logSkip(record.Info, fmt.Sprint(v...))
	}
}
func Warn(ctx context.Context, v ...interface{}) {
	if l := FromContext(ctx); l != nil {
		l.logSkip(record.Warn, fmt.Sprint(v...))
	}
}
func Error(ctx context.Context, v ...interface{}) {
	if l := FromContext(ctx); l != nil {
		l.logSkip(record.Error, fmt.Sprint(v...))
	}
}

func Tracef(ctx context.Context, format string, v ...interface{}) {
	if l := FromContext(ctx); l != nil {
		l.logSkip(record.Trace, fmt.Sprintf(format, v...))
	}
}
func Debugf(ctx context.Context, format string, v ...interface{}) {
	if l := FromContext(ctx); l != nil {
		l.logSkip(record.Debug, fmt.Sprintf(format, v...))
	}
}
func Infof(ctx context.Context, format string, v ...interface{}) {
	if l := FromContext(ctx); l != nil {
		l.logSkip(record.Info, fmt.Sprintf(format, v...))
	}
}
func Warnf(ctx context.Context, format string, v ...interface{}) {
	if l := FromContext(ctx); l != nil {
		l.logSkip(record.Warn, fmt.Sprintf(format, v...))
	}
}
func Errorf(ctx context.Context, format string, v ...interface{}) {
	if l := FromContext(ctx); l != nil {
		l.logSkip(record.Error, fmt.Sprintf(format, v...))
	}
}

var (
	globalOnce sync.Once
	global     *Logger
)

// Init constructs the package-level Logger exactly once. Every call
// after the first — even if the first failed — returns
// ErrAlreadyInitialized; there is no rebinding the global handle.
func Init(path string, opts ...Option) error {
	var err error
	fired := false
	globalOnce.Do(func() {
		fired = true
		global, err = New(path, opts...)
	})
	if !fired {
		return ErrAlreadyInitialized
	}
	return err
}

// Default returns the Logger installed by Init, or nil if Init was
// never called or failed.
func Default() *Logger {
	return global
}
