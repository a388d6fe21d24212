package session

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"padel-finder/types"
)

// BrowserLogin drives a headless Chrome through a login form. Used for
// portals whose login only works with JavaScript.
type BrowserLogin struct {
	LoginURL         string
	UsernameSelector string
	PasswordSelector string
	SubmitSelector   string
	// ReadySelector appears once the user is logged in.
	ReadySelector string
	Username      string
	Password      string
	ChromePath    string
	Timeout       time.Duration
}

// Login implements Authenticator.
func (b *BrowserLogin) Login(ctx context.Context) ([]types.Cookie, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.UserAgent(userAgent),
	)
	if b.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(b.ChromePath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	defer cancelTask()

	timeout := b.Timeout
	if timeout == 0 {
		timeout = 45 * time.Second
	}
	taskCtx, cancel := context.WithTimeout(taskCtx, timeout)
	defer cancel()

	var raw []*network.Cookie
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(b.LoginURL),
		chromedp.WaitVisible(b.UsernameSelector, chromedp.ByQuery),
		chromedp.SendKeys(b.UsernameSelector, b.Username, chromedp.ByQuery),
		chromedp.SendKeys(b.PasswordSelector, b.Password, chromedp.ByQuery),
		chromedp.Click(b.SubmitSelector, chromedp.ByQuery),
		chromedp.WaitVisible(b.ReadySelector, chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			raw, err = network.GetCookies().Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("browser login %s: %w", b.LoginURL, err)
	}
	return fromBrowserCookies(raw), nil
}

func fromBrowserCookies(raw []*network.Cookie) []types.Cookie {
	out := make([]types.Cookie, 0, len(raw))
	for _, c := range raw {
		if c == nil {
			continue
		}
		exp := c.Expires
		if c.Session || exp <= 0 {
			exp = -1
		}
		out = append(out, types.Cookie{
			Name:    c.Name,
			Value:   c.Value,
			Expires: exp,
			Domain:  c.Domain,
			Path:    c.Path,
		})
	}
	return out
}
