package chrome

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/jobpilot/browserd/internal/domain/session"
)

// handle implements session.Handle over one dedicated browser process.
type handle struct {
	launcher   *launcher.Launcher
	browser    *rod.Browser
	page       *rod.Page
	navTimeout time.Duration
	humanize   bool
	jitter     *jitter
}

func (h *handle) Navigate(ctx context.Context, url string) error {
	page := h.page.Context(ctx).Timeout(h.navTimeout)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("page load for %s timed out: %w", url, err)
	}
	return nil
}

func (h *handle) Click(ctx context.Context, selector string) error {
	el, err := h.element(ctx, selector)
	if err != nil {
		return err
	}
	if h.humanize {
		// Moving the pointer onto the element before pressing mimics a
		// real user; instant clicks at exact centers are a bot tell.
		_ = el.Hover()
		h.pause(50, 250)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click on %q failed: %w", selector, err)
	}
	return nil
}

func (h *handle) Type(ctx context.Context, selector, text string, submit bool) error {
	el, err := h.element(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("focus on %q failed: %w", selector, err)
	}
	if h.humanize {
		h.pause(80, 300)
	}
	if err := el.Input(text); err != nil {
		return fmt.Errorf("typing into %q failed: %w", selector, err)
	}
	if submit {
		if h.humanize {
			h.pause(100, 400)
		}
		if err := h.page.Context(ctx).Keyboard.Press(input.Enter); err != nil {
			return fmt.Errorf("submit after typing failed: %w", err)
		}
	}
	return nil
}

func (h *handle) Select(ctx context.Context, selector, value string) error {
	_, err := h.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS: `(sel, val) => {
			const el = document.querySelector(sel);
			if (!el) throw new Error('element not found: ' + sel);
			el.value = val;
			el.dispatchEvent(new Event('change', { bubbles: true }));
			el.dispatchEvent(new Event('input', { bubbles: true }));
		}`,
		JSArgs:  []interface{}{selector, value},
		ByValue: true,
	})
	if err != nil {
		return fmt.Errorf("select %q on %q failed: %w", value, selector, err)
	}
	return nil
}

func (h *handle) WaitVisible(ctx context.Context, selector string) error {
	el, err := h.element(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.WaitVisible(); err != nil {
		return fmt.Errorf("element %q never became visible: %w", selector, err)
	}
	return nil
}

func (h *handle) Evaluate(ctx context.Context, script string) (interface{}, error) {
	js := strings.TrimSpace(script)
	// Accept both bare expressions and function-style scripts.
	if !strings.HasPrefix(js, "(") && !strings.HasPrefix(js, "function") && !strings.HasPrefix(js, "async") {
		js = "() => (" + js + ")"
	}

	res, err := h.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return nil, fmt.Errorf("script evaluation failed: %w", err)
	}
	if res == nil || res.Value.Nil() {
		return nil, nil
	}

	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to decode evaluation result: %w", err)
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return res.Value.String(), nil
	}
	return out, nil
}

// Snapshot produces a text outline of the interactive and labeled elements
// on the page, the shape an agent reasons over before acting.
func (h *handle) Snapshot(ctx context.Context) (string, error) {
	res, err := h.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS: `() => {
			const lines = [];
			const seen = new Set();
			const selectorFor = (el) => {
				if (el.id) return '#' + el.id;
				if (el.name) return el.tagName.toLowerCase() + '[name="' + el.name + '"]';
				return el.tagName.toLowerCase();
			};
			const interactive = 'a[href], button, input, select, textarea, [role="button"], [role="link"], [role="tab"], [onclick]';
			document.querySelectorAll('h1, h2, h3, ' + interactive).forEach((el) => {
				const rect = el.getBoundingClientRect();
				if (rect.width === 0 && rect.height === 0) return;
				const tag = el.tagName.toLowerCase();
				const role = el.getAttribute('role') || '';
				let label = (el.innerText || el.value || el.placeholder || el.getAttribute('aria-label') || '').trim();
				label = label.replace(/\s+/g, ' ').slice(0, 120);
				const key = tag + '|' + label + '|' + selectorFor(el);
				if (seen.has(key)) return;
				seen.add(key);
				lines.push('[' + (role || tag) + '] ' + label + ' {' + selectorFor(el) + '}');
			});
			return lines.join('\n');
		}`,
		ByValue: true,
	})
	if err != nil {
		return "", fmt.Errorf("snapshot failed: %w", err)
	}
	return res.Value.Str(), nil
}

func (h *handle) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	data, err := h.page.Context(ctx).Screenshot(fullPage, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return data, nil
}

func (h *handle) Content(ctx context.Context) (session.PageContent, error) {
	page := h.page.Context(ctx)

	html, err := page.HTML()
	if err != nil {
		return session.PageContent{}, fmt.Errorf("failed to read page html: %w", err)
	}

	var text string
	if res, err := page.Evaluate(&rod.EvalOptions{
		JS:      `() => document.body ? document.body.innerText : ''`,
		ByValue: true,
	}); err == nil && res != nil {
		text = res.Value.Str()
	}

	return session.PageContent{HTML: html, Text: text, URL: h.URL()}, nil
}

func (h *handle) URL() string {
	info, err := h.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (h *handle) Title() string {
	info, err := h.page.Info()
	if err != nil {
		return ""
	}
	return info.Title
}

// storageState is the on-disk snapshot enabling logged-in sessions to
// survive restarts.
type storageState struct {
	Cookies        []*proto.NetworkCookieParam `json:"cookies"`
	LocalStorage   string                      `json:"local_storage"`
	SessionStorage string                      `json:"session_storage"`
}

func (h *handle) StorageState(ctx context.Context) ([]byte, error) {
	page := h.page.Context(ctx)

	cookiesRes, err := proto.NetworkGetCookies{}.Call(page)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	params := make([]*proto.NetworkCookieParam, 0, len(cookiesRes.Cookies))
	for _, c := range cookiesRes.Cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: c.SameSite,
			Priority: c.Priority,
		})
	}

	state := storageState{
		Cookies:        params,
		LocalStorage:   h.dumpWebStorage(page, "localStorage"),
		SessionStorage: h.dumpWebStorage(page, "sessionStorage"),
	}
	return json.Marshal(state)
}

func (h *handle) RestoreStorageState(ctx context.Context, data []byte) error {
	var state storageState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("malformed storage state: %w", err)
	}

	page := h.page.Context(ctx)
	if len(state.Cookies) > 0 {
		if err := page.SetCookies(state.Cookies); err != nil {
			return fmt.Errorf("failed to restore cookies: %w", err)
		}
	}

	_, _ = page.Evaluate(&rod.EvalOptions{
		JS: `(local, sess) => {
			try {
				Object.entries(JSON.parse(local || '{}')).forEach(([k, v]) => localStorage.setItem(k, v));
			} catch (e) {}
			try {
				Object.entries(JSON.parse(sess || '{}')).forEach(([k, v]) => sessionStorage.setItem(k, v));
			} catch (e) {}
		}`,
		JSArgs:  []interface{}{state.LocalStorage, state.SessionStorage},
		ByValue: true,
	})
	return nil
}

func (h *handle) Close() error {
	err := h.browser.Close()
	h.launcher.Cleanup()
	return err
}

func (h *handle) element(ctx context.Context, selector string) (*rod.Element, error) {
	el, err := h.page.Context(ctx).Timeout(10 * time.Second).Element(selector)
	if err != nil {
		return nil, fmt.Errorf("element not found: %q: %w", selector, err)
	}
	return el, nil
}

func (h *handle) dumpWebStorage(page *rod.Page, store string) string {
	res, err := page.Evaluate(&rod.EvalOptions{
		JS: fmt.Sprintf(`() => {
			try {
				const out = {};
				for (const key of Object.keys(%s)) {
					out[key] = %s.getItem(key);
				}
				return JSON.stringify(out);
			} catch (e) {
				return '{}';
			}
		}`, store, store),
		ByValue: true,
	})
	if err != nil || res == nil || res.Value.Nil() {
		return "{}"
	}
	return res.Value.Str()
}

func (h *handle) pause(minMs, maxMs int) {
	d := time.Duration(minMs+h.jitter.Intn(maxMs-minMs)) * time.Millisecond
	time.Sleep(d)
}
