package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/publicsuffix"

	"padel-finder/types"
)

const userAgent = "Mozilla/5.0 (compatible; PadelFinder/1.0)"

// FormLogin logs in through a plain HTML form: it loads the login page,
// copies the hidden inputs (CSRF tokens), posts the credentials and keeps
// the cookies set along the way.
type FormLogin struct {
	LoginURL      string
	UsernameField string
	PasswordField string
	Username      string
	Password      string
	Extra         map[string]string
	// RequiredCookie must be present after the post for the login to count.
	RequiredCookie string
	Timeout        time.Duration
	Client         *http.Client
	now            func() time.Time
}

func (f *FormLogin) client() (*http.Client, error) {
	if f.Client != nil {
		return f.Client, nil
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	timeout := f.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{
		Jar:     jar,
		Timeout: timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, nil
}

// Login implements Authenticator.
func (f *FormLogin) Login(ctx context.Context) ([]types.Cookie, error) {
	client, err := f.client()
	if err != nil {
		return nil, err
	}
	now := time.Now
	if f.now != nil {
		now = f.now
	}
	collected := make(map[string]types.Cookie)
	order := make([]string, 0)
	keep := func(resp *http.Response) {
		for _, c := range resp.Cookies() {
			if c.MaxAge < 0 || c.Value == "" {
				delete(collected, c.Name)
				continue
			}
			if _, ok := collected[c.Name]; !ok {
				order = append(order, c.Name)
			}
			collected[c.Name] = fromHTTPCookie(c, now())
		}
	}

	// 1. Login page: session cookie + hidden fields.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.LoginURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("load login page: %w", err)
	}
	keep(resp)
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("parse login page: %w", err)
	}

	form := doc.Find("form").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.Find("input[type='password']").Length() > 0
	}).First()

	values := url.Values{}
	form.Find("input[type='hidden']").Each(func(_ int, s *goquery.Selection) {
		name, ok := s.Attr("name")
		if !ok || name == "" {
			return
		}
		v, _ := s.Attr("value")
		values.Set(name, v)
	})
	for k, v := range f.Extra {
		values.Set(k, v)
	}
	values.Set(f.UsernameField, f.Username)
	values.Set(f.PasswordField, f.Password)

	postURL := f.LoginURL
	if action, ok := form.Attr("action"); ok && action != "" {
		base, err := url.Parse(f.LoginURL)
		if err == nil {
			if ref, err := base.Parse(action); err == nil {
				postURL = ref.String()
			}
		}
	}

	// 2. Credentials.
	req, err = http.NewRequestWithContext(ctx, http.MethodPost, postURL, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", f.LoginURL)
	resp, err = client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post credentials: %w", err)
	}
	defer resp.Body.Close()
	keep(resp)

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("login returned status %d", resp.StatusCode)
	}
	if resp.StatusCode == http.StatusOK {
		// A 200 that renders the form again means the credentials were refused.
		after, err := goquery.NewDocumentFromReader(resp.Body)
		if err == nil && after.Find("input[type='password']").Length() > 0 {
			return nil, fmt.Errorf("credentials rejected")
		}
	}
	if f.RequiredCookie != "" {
		if _, ok := collected[f.RequiredCookie]; !ok {
			return nil, fmt.Errorf("cookie %s not set", f.RequiredCookie)
		}
	}

	out := make([]types.Cookie, 0, len(collected))
	for _, name := range order {
		if c, ok := collected[name]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func fromHTTPCookie(c *http.Cookie, now time.Time) types.Cookie {
	exp := -1.0
	switch {
	case c.MaxAge > 0:
		exp = float64(now.Add(time.Duration(c.MaxAge) * time.Second).Unix())
	case !c.Expires.IsZero():
		exp = float64(c.Expires.Unix())
	}
	return types.Cookie{
		Name:    c.Name,
		Value:   c.Value,
		Expires: exp,
		Domain:  c.Domain,
		Path:    c.Path,
	}
}
