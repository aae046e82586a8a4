package sandbox

import "context"

// LaunchOptions configures one disposable browser.
type LaunchOptions struct {
	Headless bool
	RunID    string
}

// Launcher starts a fresh, isolated browser. Implementations must never hand
// out a browser that another run has used.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
}

// Browser is an exclusively owned browser instance. Close must be safe to
// call more than once.
type Browser interface {
	Page(ctx context.Context) (Page, error)
	Close() error
}

// Page is the set of primitive actions the program's host API maps onto.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, text string) error
	Select(ctx context.Context, selector, value string) error
	WaitVisible(ctx context.Context, selector string) error
	// Scroll scrolls the viewport by pixels when target is "window" (zero
	// means one screen height), otherwise scrolls target into view.
	Scroll(ctx context.Context, target string, pixels int) error
	Hover(ctx context.Context, selector string) error
	// Screenshot returns a PNG of the current viewport.
	Screenshot(ctx context.Context) ([]byte, error)
}
