package sandbox

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scriptforge/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ChromeLauncher starts one Chrome process per Launch call through a
// dedicated chromedp exec allocator.
type ChromeLauncher struct {
	cfg    config.SandboxConfig
	logger *zap.Logger
}

// NewChromeLauncher returns a launcher configured from the sandbox section.
func NewChromeLauncher(cfg config.SandboxConfig, logger *zap.Logger) *ChromeLauncher {
	return &ChromeLauncher{cfg: cfg, logger: logger.Named("chrome")}
}

// Launch starts the browser process and opens its first tab. The allocator is
// derived from ctx, so cancelling ctx kills the process.
func (l *ChromeLauncher) Launch(ctx context.Context, opts LaunchOptions) (Browser, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, l.buildAllocatorOptions(opts.Headless)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(l.logger.Sugar().Debugf),
		chromedp.WithErrorf(l.logger.Sugar().Debugf),
	)

	// The first Run starts the process.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("browser failed to start: %w", err)
	}

	l.logger.Debug("Browser launched.", zap.String("run_id", opts.RunID), zap.Bool("headless", opts.Headless))
	return &chromeBrowser{
		tabCtx:        tabCtx,
		tabCancel:     tabCancel,
		allocCancel:   allocCancel,
		actionTimeout: l.cfg.ActionTimeout,
	}, nil
}

// buildAllocatorOptions assembles the Chrome flags for a sandbox instance.
func (l *ChromeLauncher) buildAllocatorOptions(headless bool) []chromedp.ExecAllocatorOption {
	// Later flags override the defaults, including headless.
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-gpu", headless),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("mute-audio", true),
	)
	if l.cfg.ViewportW > 0 && l.cfg.ViewportH > 0 {
		opts = append(opts, chromedp.WindowSize(l.cfg.ViewportW, l.cfg.ViewportH))
	}

	for _, arg := range l.cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(name, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	// Needed inside containers.
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}
	return opts
}

type chromeBrowser struct {
	tabCtx        context.Context
	tabCancel     context.CancelFunc
	allocCancel   context.CancelFunc
	actionTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

func (b *chromeBrowser) Page(ctx context.Context) (Page, error) {
	if err := b.tabCtx.Err(); err != nil {
		return nil, fmt.Errorf("browser is closed: %w", err)
	}
	return &chromePage{browser: b}, nil
}

// Close asks Chrome to exit and then releases the allocator, which kills the
// process if it is still alive.
func (b *chromeBrowser) Close() error {
	b.closeOnce.Do(func() {
		err := chromedp.Cancel(b.tabCtx)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			b.closeErr = fmt.Errorf("graceful browser shutdown failed: %w", err)
		}
		b.tabCancel()
		b.allocCancel()
	})
	return b.closeErr
}

type chromePage struct {
	browser *chromeBrowser
}

// run executes actions on the tab bounded by the action timeout and by the
// caller's ctx.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	var (
		actx   context.Context
		cancel context.CancelFunc
	)
	if p.browser.actionTimeout > 0 {
		actx, cancel = context.WithTimeout(p.browser.tabCtx, p.browser.actionTimeout)
	} else {
		actx, cancel = context.WithCancel(p.browser.tabCtx)
	}
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(actx, actions...)
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *chromePage) Click(ctx context.Context, selector string) error {
	return p.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
}

func (p *chromePage) Fill(ctx context.Context, selector, text string) error {
	return p.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
}

// Select sets the value of a <select> and fires the events a user change
// would, so framework listeners observe it.
func (p *chromePage) Select(ctx context.Context, selector, value string) error {
	expr, err := elementScript(selector, value, `
		el.value = arg;
		if (el.value !== arg) { throw new Error("option not found: " + arg); }
		el.dispatchEvent(new Event("input", { bubbles: true }));
		el.dispatchEvent(new Event("change", { bubbles: true }));
		return true;`)
	if err != nil {
		return err
	}
	var ok bool
	return p.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Evaluate(expr, &ok),
	)
}

func (p *chromePage) WaitVisible(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (p *chromePage) Scroll(ctx context.Context, target string, pixels int) error {
	if target == "" || target == "window" {
		expr := "window.scrollBy(0, window.innerHeight); true"
		if pixels != 0 {
			expr = fmt.Sprintf("window.scrollBy(0, %d); true", pixels)
		}
		var ok bool
		return p.run(ctx, chromedp.Evaluate(expr, &ok))
	}
	return p.run(ctx, chromedp.ScrollIntoView(target, chromedp.ByQuery))
}

// Hover moves the mouse to the centre of the element's bounding box.
func (p *chromePage) Hover(ctx context.Context, selector string) error {
	expr, err := elementScript(selector, "", `
		el.scrollIntoView({ block: "center" });
		var r = el.getBoundingClientRect();
		return [r.left + r.width / 2, r.top + r.height / 2];`)
	if err != nil {
		return err
	}
	var point []float64
	if err := p.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery), chromedp.Evaluate(expr, &point)); err != nil {
		return err
	}
	if len(point) != 2 {
		return fmt.Errorf("could not resolve hover position for %q", selector)
	}
	return p.run(ctx, chromedp.MouseEvent(input.MouseMoved, point[0], point[1]))
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// elementScript wraps body in an IIFE with `el` bound to the element matched
// by selector and `arg` bound to arg.
func elementScript(selector, arg, body string) (string, error) {
	sel, err := json.Marshal(selector)
	if err != nil {
		return "", err
	}
	val, err := json.Marshal(arg)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`(function () {
		var el = document.querySelector(%s);
		if (!el) { throw new Error("element not found: " + %s); }
		var arg = %s;
		%s
	})()`, sel, sel, val, body), nil
}
