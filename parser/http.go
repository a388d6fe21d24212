package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/publicsuffix"

	"padel-finder/types"
)

const (
	userAgent    = "Mozilla/5.0 (compatible; PadelFinder/1.0)"
	maxBodyBytes = 5 << 20
)

func newHTTPClient(timeout time.Duration, withJar bool) *http.Client {
	c := &http.Client{Timeout: timeout}
	if withJar {
		jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		c.Jar = jar
	}
	return c
}

// do sends req after waiting for the rate limiter and returns the body.
// 401 and 403 map to ErrAuth, any other non-2xx status to
// ErrUnexpectedResponse.
func (b *base) do(ctx context.Context, req *http.Request, rec *types.SessionRecord) ([]byte, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req = req.WithContext(ctx)
	req.Header.Set("User-Agent", userAgent)
	if rec != nil {
		req.Header.Set("Cookie", rec.CookieHeader())
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%w: status %d", ErrUnexpectedResponse, resp.StatusCode)
	}
	return body, nil
}

// getJSON fetches target and decodes the JSON answer into out. For portals
// behind a login, an HTML answer is their login wall and maps to ErrAuth.
func (b *base) getJSON(ctx context.Context, target string, header http.Header, rec *types.SessionRecord, out any) error {
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	body, err := b.do(ctx, req, rec)
	if err != nil {
		return err
	}
	return b.decodeJSON(body, rec != nil, out)
}

func (b *base) decodeJSON(body []byte, authenticated bool, out any) error {
	if looksLikeHTML(body) {
		if authenticated {
			return fmt.Errorf("%w: login page returned", ErrAuth)
		}
		return fmt.Errorf("%w: html instead of json", ErrUnexpectedResponse)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode json: %v", ErrUnexpectedResponse, err)
	}
	return nil
}

// getDocument fetches target as HTML.
func (b *base) getDocument(ctx context.Context, target string, rec *types.SessionRecord) (*goquery.Document, error) {
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/html")
	body, err := b.do(ctx, req, rec)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %v", ErrUnexpectedResponse, err)
	}
	return doc, nil
}

func looksLikeHTML(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '<' {
		return false
	}
	head := strings.ToLower(string(trimmed[:min(len(trimmed), 512)]))
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype") ||
		strings.Contains(head, "<form") || strings.Contains(head, "<body")
}

// isLoginPage reports whether doc is a login wall instead of content.
func isLoginPage(doc *goquery.Document) bool {
	return doc.Find("form input[type='password']").Length() > 0
}

// absolute resolves href against the adapter base URL.
func (b *base) absolute(href string) string {
	if href == "" {
		return ""
	}
	root, err := url.Parse(b.baseURL + "/")
	if err != nil {
		return href
	}
	ref, err := root.Parse(href)
	if err != nil {
		return href
	}
	return ref.String()
}
