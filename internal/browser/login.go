package browser

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"
)

// authenticatedPaths are URL fragments that only appear once a session is
// established.
var authenticatedPaths = []string{"dashboard", "appraisal"}

var errLoginIncomplete = errors.New("login did not reach an authenticated page")

// LoginLoop authenticates, retrying failed attempts with a short pause.
// maxAttempts <= 0 retries until the context is cancelled: the appraisal
// pipeline would rather wait out an upstream hiccup than abandon a batch.
func (s *Session) LoginLoop(ctx context.Context, maxAttempts int) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.Login(ctx)
		if err == nil {
			return nil
		}
		zap.L().Warn("login attempt failed",
			zap.Int("attempt", attempt), zap.Error(err))

		if maxAttempts > 0 && attempt >= maxAttempts {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

// Login runs one full authentication attempt: navigate to the app, type
// credentials into the canvas-rendered form, work through the agreement
// checkbox and the Login button with the strategy ladder, then clear the
// product-selection dialog.
func (s *Session) Login(ctx context.Context) error {
	if err := s.Navigate(ctx, s.cfg.BaseURL); err != nil {
		return err
	}
	s.pause(300 * time.Millisecond)

	loc, err := s.Location(ctx)
	if err != nil {
		return err
	}
	if isAuthenticated(loc) {
		zap.L().Info("already logged in")
		s.loggedIn = true
		return nil
	}

	// A marketing page sometimes sits in front of the login form.
	s.clickLoginLink()
	s.pause(300 * time.Millisecond)

	if loc, err = s.Location(ctx); err != nil {
		return err
	}
	if !strings.Contains(strings.ToLower(loc), "login") {
		if err := s.Navigate(ctx, strings.TrimRight(s.cfg.BaseURL, "/")+"/login"); err != nil {
			return err
		}
	}

	// The canvas app takes a few seconds to paint its semantics tree.
	zap.L().Info("waiting for login form")
	s.pause(4 * time.Second)

	if err := s.typeCredentials(); err != nil {
		return err
	}

	checkbox, found := s.locate("checkbox")
	if !found {
		checkbox = s.paneEstimate("checkbox", 0.41, 0.58)
	}
	agree := NewInteractor(s.checkboxChecked, CheckboxStrategies()...)
	if !agree.Run(s.tab, checkbox) {
		return errors.New("could not check the agreement checkbox")
	}
	s.pause(500 * time.Millisecond)

	s.clickLoginButton()
	s.selectExportProduct()

	if err := s.waitForAuthenticated(ctx, 2*time.Minute); err != nil {
		return err
	}

	zap.L().Info("login successful")
	s.loggedIn = true
	return nil
}

// clickLoginLink clicks a visible Login link or button on the landing page,
// if there is one.
func (s *Session) clickLoginLink() {
	js := `(() => {
		for (const el of document.querySelectorAll('a, button')) {
			if ((el.textContent || '').trim().toLowerCase() === 'login') {
				el.click();
				return true;
			}
		}
		return false;
	})()`
	var ok bool
	_ = s.evaluate(js, &ok)
}

// typeCredentials focuses the email textbox and types both fields, tabbing
// between them the way a person would. The form is canvas-rendered, so
// there is no input element to fill directly.
func (s *Session) typeCredentials() error {
	if !s.focusEmailField() {
		zap.L().Warn("email field not located, typing blind")
	}
	s.pause(200 * time.Millisecond)

	return chromedp.Run(s.tab,
		chromedp.KeyEvent(s.cfg.Email),
		chromedp.Sleep(200*time.Millisecond),
		chromedp.KeyEvent(kb.Tab),
		chromedp.Sleep(100*time.Millisecond),
		chromedp.KeyEvent(s.cfg.Password),
		chromedp.Sleep(300*time.Millisecond),
	)
}

func (s *Session) focusEmailField() bool {
	// Semantics textbox first, then a coordinate estimate over the form.
	if target, ok := s.locate("textbox"); ok {
		if err := chromedp.Run(s.tab, chromedp.MouseClickXY(target.X, target.Y)); err == nil {
			return true
		}
	}
	target := s.paneEstimate("textbox", 0.5, 0.35)
	return chromedp.Run(s.tab, chromedp.MouseClickXY(target.X, target.Y)) == nil
}

// checkboxChecked is the readback verification for the agreement checkbox.
func (s *Session) checkboxChecked(_ context.Context, _ Target) bool {
	js := `(() => {
		const el = document.querySelector('flt-semantics[role="checkbox"]');
		return !!el && el.getAttribute('aria-checked') === 'true';
	})()`
	var ok bool
	if err := s.evaluate(js, &ok); err != nil {
		return false
	}
	return ok
}

func (s *Session) clickLoginButton() {
	target, found := s.locateLabeled("button", "login")
	if !found {
		// The Login button sits center-bottom of the form.
		target = s.paneEstimate("button", 0.5, 0.72)
	}
	login := NewInteractor(nil, ButtonStrategies()...)
	if !login.Run(s.tab, target) {
		zap.L().Warn("login button click not confirmed")
	}
}

// selectExportProduct clears the product-selection dialog that appears
// after login, choosing Export over Marketplace. The dialog only answers to
// keyboard navigation.
func (s *Session) selectExportProduct() {
	s.pause(3 * time.Second)

	if !s.productDialogVisible() {
		return
	}
	zap.L().Info("product selection dialog detected")

	// Tab past Marketplace onto Export, select it, then Tab onto Continue.
	s.pressKeys(kb.Tab, kb.Tab, " ")
	s.pause(300 * time.Millisecond)
	s.pressKeys(kb.Tab, kb.Tab, kb.Enter)
	s.pause(500 * time.Millisecond)

	if !s.productDialogVisible() {
		return
	}

	// Still open: run the sequence once more from the top.
	zap.L().Warn("product dialog still open, retrying keyboard sequence")
	s.pressKeys(kb.Tab, kb.Tab, " ", kb.Tab, kb.Tab, kb.Enter)
	s.pause(500 * time.Millisecond)
}

func (s *Session) productDialogVisible() bool {
	js := `(() => {
		for (const el of document.querySelectorAll('flt-semantics')) {
			const label = (el.getAttribute('aria-label') || '').toLowerCase();
			if (label.includes('select product') || label.includes('marketplace')) return true;
		}
		return false;
	})()`
	var ok bool
	if err := s.evaluate(js, &ok); err != nil {
		return false
	}
	return ok
}

func (s *Session) pressKeys(keys ...string) {
	for _, key := range keys {
		_ = chromedp.Run(s.tab, chromedp.KeyEvent(key), chromedp.Sleep(150*time.Millisecond))
	}
}

// waitForAuthenticated polls the page URL until it lands on an
// authenticated path.
func (s *Session) waitForAuthenticated(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		loc, err := s.Location(ctx)
		if err == nil && isAuthenticated(loc) {
			return nil
		}
		s.pause(time.Second)
	}
	return errLoginIncomplete
}

func isAuthenticated(loc string) bool {
	lower := strings.ToLower(loc)
	for _, p := range authenticatedPaths {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func (s *Session) pause(d time.Duration) {
	time.Sleep(d)
}
