package browser

import "context"

// Page is the single chat page driven by the relay. Callers must hold the
// arbiter lease for the duration of every call.
type Page interface {
	// Probe reports whether selector is visible before ctx expires. A
	// deadline is not an error; it yields false.
	Probe(ctx context.Context, selector string) (bool, error)
	// Navigate loads url and waits for the load event.
	Navigate(ctx context.Context, url string) error
	// SubmitPrompt focuses the input, enters prompt and sends it.
	SubmitPrompt(ctx context.Context, prompt string) error
}

// CookieJar reads and writes the page's cookies.
type CookieJar interface {
	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error
}

// LineSink receives event-stream payloads captured inside the page. Both
// methods are called on the browser event goroutine and must not block.
type LineSink interface {
	DeliverLine(payload string)
	Done()
}

// Runtime is a launched browser owning exactly one Page.
type Runtime interface {
	Page
	CookieJar
	Close() error
}
