package sandbox

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scriptforge/api/schemas"
)

var errAlreadyLaunched = errors.New("launch() may only be called once per run")

const capturePrefix = "capture_"

// host exposes launch() and console to a single program run. All of its
// methods are called from the goroutine driving the VM.
type host struct {
	ctx       context.Context
	vm        *goja.Runtime
	launcher  Launcher
	fs        afero.Fs
	dir       string
	runID     string
	headless  bool
	stepDelay time.Duration
	onLog     func(schemas.LogLevel, string)
	logger    *zap.Logger

	browser Browser
	closed  bool
}

// install binds the host API into the VM's global scope.
func (h *host) install() error {
	console := h.vm.NewObject()
	levels := map[string]schemas.LogLevel{
		"log":   schemas.LogInfo,
		"info":  schemas.LogInfo,
		"warn":  schemas.LogWarn,
		"error": schemas.LogError,
	}
	for name, level := range levels {
		if err := console.Set(name, h.consoleFunc(level)); err != nil {
			return err
		}
	}
	if err := h.vm.Set("console", console); err != nil {
		return err
	}
	return h.vm.Set("launch", h.launch)
}

// throw raises err as a JavaScript exception in the running program.
func (h *host) throw(err error) {
	panic(h.vm.NewGoError(err))
}

func (h *host) log(level schemas.LogLevel, msg string) {
	if h.onLog != nil {
		h.onLog(level, msg)
	}
	fields := []zap.Field{zap.String("run_id", h.runID)}
	switch level {
	case schemas.LogError:
		h.logger.Error(msg, fields...)
	case schemas.LogWarn:
		h.logger.Warn(msg, fields...)
	default:
		h.logger.Info(msg, fields...)
	}
}

func (h *host) consoleFunc(level schemas.LogLevel) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		h.log(level, strings.Join(parts, " "))
		return goja.Undefined()
	}
}

func (h *host) launch(call goja.FunctionCall) goja.Value {
	if h.browser != nil {
		h.throw(errAlreadyLaunched)
	}
	b, err := h.launcher.Launch(h.ctx, LaunchOptions{Headless: h.headless, RunID: h.runID})
	if err != nil {
		h.throw(fmt.Errorf("launch: %w", err))
	}
	h.browser = b

	obj := h.vm.NewObject()
	_ = obj.Set("page", h.page)
	_ = obj.Set("close", func(goja.FunctionCall) goja.Value {
		if err := h.closeBrowser(); err != nil {
			h.throw(err)
		}
		return goja.Undefined()
	})
	return obj
}

func (h *host) page(call goja.FunctionCall) goja.Value {
	if h.closed {
		h.throw(errors.New("browser.page: browser is closed"))
	}
	p, err := h.browser.Page(h.ctx)
	if err != nil {
		h.throw(fmt.Errorf("browser.page: %w", err))
	}

	obj := h.vm.NewObject()
	h.bind(obj, "goto", func(c goja.FunctionCall) error {
		return p.Navigate(h.ctx, h.stringArg(c, 0, "url"))
	})
	h.bind(obj, "click", func(c goja.FunctionCall) error {
		return p.Click(h.ctx, h.stringArg(c, 0, "selector"))
	})
	h.bind(obj, "fill", func(c goja.FunctionCall) error {
		return p.Fill(h.ctx, h.stringArg(c, 0, "selector"), h.stringArg(c, 1, "text"))
	})
	h.bind(obj, "select", func(c goja.FunctionCall) error {
		return p.Select(h.ctx, h.stringArg(c, 0, "selector"), h.stringArg(c, 1, "value"))
	})
	h.bind(obj, "waitFor", func(c goja.FunctionCall) error {
		return p.WaitVisible(h.ctx, h.stringArg(c, 0, "selector"))
	})
	h.bind(obj, "hover", func(c goja.FunctionCall) error {
		return p.Hover(h.ctx, h.stringArg(c, 0, "selector"))
	})
	h.bind(obj, "scroll", func(c goja.FunctionCall) error {
		target := schemas.DefaultScrollTarget
		if arg := c.Argument(0); !isMissing(arg) {
			target = arg.String()
		}
		pixels := 0
		if arg := c.Argument(1); !isMissing(arg) {
			pixels = int(arg.ToInteger())
		}
		return p.Scroll(h.ctx, target, pixels)
	})
	h.bind(obj, "sleep", func(c goja.FunctionCall) error {
		ms := c.Argument(0).ToInteger()
		if ms < 0 {
			ms = 0
		}
		return h.pause(time.Duration(ms) * time.Millisecond)
	})
	h.bind(obj, "settle", func(goja.FunctionCall) error {
		return h.pause(h.stepDelay)
	})
	h.bind(obj, "screenshot", func(c goja.FunctionCall) error {
		return h.screenshot(p, h.stringArg(c, 0, "name"))
	})
	h.bind(obj, "capture", func(c goja.FunctionCall) error {
		return h.capture(p, h.stringArg(c, 0, "name"))
	})
	return obj
}

// bind installs fn as a page method, converting its error into an exception.
func (h *host) bind(obj *goja.Object, name string, fn func(goja.FunctionCall) error) {
	_ = obj.Set(name, func(call goja.FunctionCall) goja.Value {
		if err := fn(call); err != nil {
			h.throw(fmt.Errorf("page.%s: %w", name, err))
		}
		return goja.Undefined()
	})
}

func (h *host) stringArg(call goja.FunctionCall, i int, name string) string {
	arg := call.Argument(i)
	if isMissing(arg) {
		h.throw(fmt.Errorf("argument %q is required", name))
	}
	return arg.String()
}

func isMissing(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

// pause sleeps for d unless the run is cancelled first.
func (h *host) pause(d time.Duration) error {
	if d <= 0 {
		return h.ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-h.ctx.Done():
		return h.ctx.Err()
	case <-timer.C:
		return nil
	}
}

// screenshot captures the viewport into the run's evidence directory. The
// name is reduced to its base so a program cannot write outside it.
func (h *host) screenshot(p Page, name string) error {
	base, err := evidenceName(name)
	if err != nil {
		return err
	}
	return h.writeShot(p, base)
}

// capture stores a screenshot a workflow step asked for. Names reserved for
// per-step evidence get capturePrefix so they never replace it.
func (h *host) capture(p Page, name string) error {
	base, err := evidenceName(name)
	if err != nil {
		return err
	}
	if screenshotPattern.MatchString(base) {
		base = capturePrefix + base
	}
	return h.writeShot(p, base)
}

func (h *host) writeShot(p Page, base string) error {
	data, err := p.Screenshot(h.ctx)
	if err != nil {
		return err
	}
	path := filepath.Join(h.dir, base)
	if err := afero.WriteFile(h.fs, path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write screenshot: %w", err)
	}
	h.logger.Debug("Screenshot captured.", zap.String("run_id", h.runID), zap.String("path", path))
	return nil
}

func evidenceName(name string) (string, error) {
	base := filepath.Base(filepath.Clean(strings.TrimSpace(name)))
	switch base {
	case "", ".", "..", string(filepath.Separator):
		return "", fmt.Errorf("invalid screenshot name %q", name)
	}
	if filepath.Ext(base) == "" {
		base += ".png"
	}
	return base, nil
}

func (h *host) closeBrowser() error {
	if h.browser == nil || h.closed {
		return nil
	}
	h.closed = true
	return h.browser.Close()
}

// teardown releases the browser if the program did not close it itself.
func (h *host) teardown() {
	if err := h.closeBrowser(); err != nil {
		h.logger.Warn("Browser did not close cleanly.", zap.String("run_id", h.runID), zap.Error(err))
	}
}
