// Package browser drives Chrome through the DevTools protocol and exposes the
// watched page as a comment collection that can be enumerated, observed and
// marked.
package browser

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"commentguard/internal/classify"
	"commentguard/internal/ledger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Options configures how Chrome is reached.
type Options struct {
	// RemoteURL attaches to an already running Chrome (its DevTools websocket
	// or http endpoint). When empty a local Chrome is launched.
	RemoteURL string
	Headless  bool
	ExecPath  string
}

// Browser is a single Chrome tab.
type Browser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	log         *zap.Logger

	*router
	events chan string
	done   chan struct{}
}

// New starts (or attaches to) Chrome, opens a tab and installs the event
// binding and navigation hook.
func New(parent context.Context, opts Options, log *zap.Logger) (*Browser, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if opts.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(parent, opts.RemoteURL)
	} else {
		allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", opts.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
		if opts.ExecPath != "" {
			allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(parent, allocOpts...)
	}

	tabCtx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(log.Sugar().Debugf),
		chromedp.WithErrorf(log.Sugar().Errorf),
	)

	b := &Browser{
		ctx:         tabCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		log:         log,
		router:      newRouter(log),
		events:      make(chan string, 256),
		done:        make(chan struct{}),
	}

	chromedp.ListenTarget(tabCtx, func(ev any) {
		if called, ok := ev.(*runtime.EventBindingCalled); ok && called.Name == bindingName {
			// Listener callbacks run on chromedp's reader; never block here.
			select {
			case b.events <- called.Payload:
			default:
				b.log.Debug("browser event dropped")
			}
		}
	})

	err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := runtime.AddBinding(bindingName).Do(ctx); err != nil {
			return fmt.Errorf("add binding: %w", err)
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(navigationScript()).Do(ctx); err != nil {
			return fmt.Errorf("install navigation hook: %w", err)
		}
		return nil
	}))
	if err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	go b.dispatch()
	log.Info("browser ready", zap.Bool("remote", opts.RemoteURL != ""), zap.Bool("headless", opts.Headless))
	return b, nil
}

func (b *Browser) dispatch() {
	defer close(b.done)
	for {
		select {
		case <-b.ctx.Done():
			return
		case payload := <-b.events:
			b.handle(payload)
		}
	}
}

// run executes actions on the tab, aborting when either ctx or the tab ends.
func (b *Browser) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(b.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads location in the tab and reports it as a navigation.
func (b *Browser) Navigate(ctx context.Context, location string) error {
	var current string
	if err := b.run(ctx, chromedp.Navigate(location), chromedp.Location(&current)); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	b.navigated(current)
	return nil
}

// Location returns the tab's current URL.
func (b *Browser) Location(ctx context.Context) (string, error) {
	var current string
	if err := b.run(ctx, chromedp.Location(&current)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return current, nil
}

// Discover implements scan.Page.
func (b *Browser) Discover(ctx context.Context, selectors []string) (string, error) {
	var found string
	if err := b.run(ctx, chromedp.Evaluate(discoverScript(selectors), &found)); err != nil {
		return "", fmt.Errorf("evaluate discovery: %w", err)
	}
	return found, nil
}

// Subscribe implements scan.Page. onChange runs on the browser's event
// goroutine.
func (b *Browser) Subscribe(ctx context.Context, selector string, onChange func()) (func(), error) {
	id := b.addSubscriber(onChange)

	var attached bool
	if err := b.run(ctx, chromedp.Evaluate(observeScript(selector, id), &attached)); err != nil {
		b.removeSubscriber(id)
		return nil, fmt.Errorf("attach observer: %w", err)
	}
	if !attached {
		b.removeSubscriber(id)
		return nil, fmt.Errorf("attach observer: %q not present", selector)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			b.removeSubscriber(id)
			if b.ctx.Err() != nil {
				return
			}
			var ok bool
			if err := b.run(context.Background(), chromedp.Evaluate(disconnectScript(id), &ok)); err != nil {
				b.log.Debug("detach observer failed", zap.Error(err))
			}
		})
	}, nil
}

type threadItem struct {
	Ref  string `json:"ref"`
	Text string `json:"text"`
}

// Enumerate implements scan.Page.
func (b *Browser) Enumerate(ctx context.Context) ([]ledger.Item, error) {
	var threads []threadItem
	if err := b.run(ctx, chromedp.Evaluate(enumerateScript(), &threads)); err != nil {
		return nil, fmt.Errorf("evaluate enumeration: %w", err)
	}
	items := make([]ledger.Item, 0, len(threads))
	for _, t := range threads {
		items = append(items, ledger.NewItem(t.Text, t.Ref))
	}
	return items, nil
}

// Mark implements scan.Marker.
func (b *Browser) Mark(ctx context.Context, ref string, verdict classify.Verdict) error {
	var ok bool
	if err := b.run(ctx, chromedp.Evaluate(markScript(ref, verdict), &ok)); err != nil {
		return fmt.Errorf("mark %s: %w", ref, err)
	}
	if !ok {
		return fmt.Errorf("mark %s: thread no longer present", ref)
	}
	return nil
}

// ClearAll implements scan.Marker.
func (b *Browser) ClearAll(ctx context.Context) error {
	var n int
	if err := b.run(ctx, chromedp.Evaluate(clearAllScript(), &n)); err != nil {
		return fmt.Errorf("clear markings: %w", err)
	}
	return nil
}

// Close closes the tab and, when launched locally, Chrome itself.
func (b *Browser) Close() {
	b.cancel()
	b.allocCancel()
	<-b.done
}

// router dispatches binding payloads to subscribers.
type router struct {
	log *zap.Logger

	mu         sync.Mutex
	seq        int
	subs       map[string]func()
	onNavigate func(location string)
}

func newRouter(log *zap.Logger) *router {
	return &router{log: log, subs: make(map[string]func())}
}

// OnNavigate registers the navigation callback.
func (r *router) OnNavigate(f func(location string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onNavigate = f
}

func (r *router) addSubscriber(f func()) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	id := strconv.Itoa(r.seq)
	r.subs[id] = f
	return id
}

func (r *router) removeSubscriber(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
}

func (r *router) navigated(location string) {
	r.mu.Lock()
	f := r.onNavigate
	r.mu.Unlock()
	if f != nil && location != "" {
		f(location)
	}
}

type bindingEvent struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Href string `json:"href"`
}

func (r *router) handle(payload string) {
	var ev bindingEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		r.log.Debug("malformed browser event", zap.Error(err))
		return
	}
	switch strings.ToLower(ev.Type) {
	case "mutation":
		r.mu.Lock()
		f := r.subs[ev.ID]
		r.mu.Unlock()
		if f != nil {
			f()
		}
	case "navigate":
		r.navigated(ev.Href)
	default:
		r.log.Debug("unknown browser event", zap.String("type", ev.Type))
	}
}
