package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"
)

// The valuation app renders through a canvas framework that does not expose
// a stable DOM, so no single input method reliably lands a click. An
// Interactor runs an ordered list of dispatch strategies against a target
// until one verifiably succeeds.

// Target describes a UI element by its accessibility role plus the click
// point resolved for it on the live page.
type Target struct {
	Role string
	X, Y float64
}

// Strategy is one way of dispatching an interaction at a target.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, t Target) error
}

// VerifyFunc reads the target's state back after a dispatch attempt.
type VerifyFunc func(ctx context.Context, t Target) bool

// Interactor tries each strategy in order, verifying after each one. A nil
// verify function accepts the first dispatch that does not error.
type Interactor struct {
	strategies []Strategy
	verify     VerifyFunc
	settle     time.Duration
}

func NewInteractor(verify VerifyFunc, strategies ...Strategy) *Interactor {
	return &Interactor{strategies: strategies, verify: verify, settle: 300 * time.Millisecond}
}

// Run attempts the interaction, returning true once a strategy's effect is
// confirmed by readback.
func (i *Interactor) Run(ctx context.Context, t Target) bool {
	for _, s := range i.strategies {
		if err := s.Attempt(ctx, t); err != nil {
			zap.L().Debug("interaction strategy failed",
				zap.String("strategy", s.Name()), zap.Error(err))
			continue
		}
		time.Sleep(i.settle)
		if i.verify == nil {
			return true
		}
		if i.verify(ctx, t) {
			zap.L().Debug("interaction strategy succeeded", zap.String("strategy", s.Name()))
			return true
		}
	}
	// One last readback: a late repaint sometimes lands the state change
	// after the strategy that caused it was already written off.
	return i.verify != nil && i.verify(ctx, t)
}

// CheckboxStrategies is the full dispatch ladder for checkbox-like targets,
// ordered from most direct to most desperate.
func CheckboxStrategies() []Strategy {
	return []Strategy{
		elementClick{},
		cdpMouse{},
		jsPointer{},
		mouseClick{},
		touchTap{},
		keySequence{name: "tab+space", keys: []string{kb.Tab, " "}},
		offsetClick{dx: 100},
		nodeClick{},
	}
}

// ButtonStrategies is the shorter ladder used for plain buttons, where a
// readback attribute is not always available.
func ButtonStrategies() []Strategy {
	return []Strategy{
		elementClick{},
		mouseClick{},
		nodeClick{},
		keySequence{name: "tab+enter", keys: []string{kb.Tab, kb.Enter}},
		cdpMouse{},
	}
}

// elementClick invokes the DOM click() method on the matched semantics node.
type elementClick struct{}

func (elementClick) Name() string { return "element click" }

func (elementClick) Attempt(ctx context.Context, t Target) error {
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector('flt-semantics[role=%q]');
		if (!el) return false;
		el.click();
		return true;
	})()`, t.Role)
	var ok bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(js, &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no %s semantics node", t.Role)
	}
	return nil
}

// cdpMouse dispatches raw press/release events through the devtools input
// domain at the resolved coordinates.
type cdpMouse struct{}

func (cdpMouse) Name() string { return "cdp mouse" }

func (cdpMouse) Attempt(ctx context.Context, t Target) error {
	press := input.DispatchMouseEvent(input.MousePressed, t.X, t.Y).
		WithButton(input.Left).
		WithClickCount(1)
	release := input.DispatchMouseEvent(input.MouseReleased, t.X, t.Y).
		WithButton(input.Left).
		WithClickCount(1)
	return chromedp.Run(ctx, press, chromedp.Sleep(50*time.Millisecond), release)
}

// jsPointer synthesizes pointerdown/pointerup events on the glass pane.
type jsPointer struct{}

func (jsPointer) Name() string { return "js pointer events" }

func (jsPointer) Attempt(ctx context.Context, t Target) error {
	js := fmt.Sprintf(`(() => {
		const target = document.querySelector('flt-glass-pane') || document.body;
		const opts = {
			bubbles: true, cancelable: true, view: window,
			clientX: %f, clientY: %f,
			pointerId: 1, pointerType: 'mouse', isPrimary: true, button: 0,
		};
		target.dispatchEvent(new PointerEvent('pointerdown', {...opts, buttons: 1}));
		setTimeout(() => {
			target.dispatchEvent(new PointerEvent('pointerup', {...opts, buttons: 0}));
		}, 30);
		return true;
	})()`, t.X, t.Y)
	var ok bool
	return chromedp.Run(ctx, chromedp.Evaluate(js, &ok))
}

// mouseClick is a plain coordinate click.
type mouseClick struct{}

func (mouseClick) Name() string { return "mouse click" }

func (mouseClick) Attempt(ctx context.Context, t Target) error {
	return chromedp.Run(ctx, chromedp.MouseClickXY(t.X, t.Y))
}

// touchTap dispatches a touch start/end pair, for surfaces that only listen
// for touch input.
type touchTap struct{}

func (touchTap) Name() string { return "touch tap" }

func (touchTap) Attempt(ctx context.Context, t Target) error {
	points := []*input.TouchPoint{{X: t.X, Y: t.Y}}
	return chromedp.Run(ctx,
		input.DispatchTouchEvent(input.TouchStart, points),
		chromedp.Sleep(50*time.Millisecond),
		input.DispatchTouchEvent(input.TouchEnd, []*input.TouchPoint{}),
	)
}

// keySequence walks focus onto the target and activates it from the
// keyboard.
type keySequence struct {
	name string
	keys []string
}

func (k keySequence) Name() string { return k.name }

func (k keySequence) Attempt(ctx context.Context, _ Target) error {
	for _, key := range k.keys {
		if err := chromedp.Run(ctx, chromedp.KeyEvent(key), chromedp.Sleep(100*time.Millisecond)); err != nil {
			return err
		}
	}
	return nil
}

// offsetClick clicks beside the control, where its text label sits.
type offsetClick struct {
	dx float64
}

func (offsetClick) Name() string { return "label offset click" }

func (o offsetClick) Attempt(ctx context.Context, t Target) error {
	return chromedp.Run(ctx, chromedp.MouseClickXY(t.X+o.dx, t.Y))
}

// nodeClick resolves the semantics node through chromedp's own query engine
// and clicks it.
type nodeClick struct{}

func (nodeClick) Name() string { return "node query click" }

func (nodeClick) Attempt(ctx context.Context, t Target) error {
	sel := fmt.Sprintf(`flt-semantics[role=%q]`, t.Role)
	clickCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return chromedp.Run(clickCtx, chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible))
}
