// Package render drives one browser session through the steps that turn a
// dynamic id into a cropped PNG of its card.
package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"dynshot/internal/browser"
	"dynshot/internal/config"
	"dynshot/internal/domain"
	"dynshot/internal/infra/logging"
	"dynshot/internal/infra/metrics"
	"dynshot/internal/infra/tracing"
)

// Step names used in logs, spans and metrics.
const (
	StepAcquire    = "acquire"
	StepNavigate   = "navigate"
	StepWaitCard   = "wait_card"
	StepGallery    = "gallery"
	StepWaitImages = "wait_images"
	StepCleanup    = "cleanup_page"
	StepCapture    = "capture"
	StepRelease    = "release"
)

const blankPage = "about:blank"

// errNotYet tells waitFor to keep polling.
var errNotYet = errors.New("not yet")

// Acquirer hands out ready, sized sessions.
type Acquirer interface {
	Acquire(ctx context.Context) (browser.Session, error)
}

// Options configure a Pipeline.
type Options struct {
	Site   config.SiteConfig
	Render config.RenderConfig
	// JobTimeout bounds everything after the session is acquired.
	JobTimeout time.Duration
	// PollInterval is the spacing of element lookups while waiting.
	PollInterval time.Duration
}

// Pipeline renders one dynamic per call. It is not safe for concurrent
// use; the queue runs it from a single worker.
type Pipeline struct {
	acq  Acquirer
	site config.SiteConfig
	opts Options
}

func New(acq Acquirer, opts Options) *Pipeline {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	return &Pipeline{acq: acq, site: opts.Site, opts: opts}
}

// Render produces the card screenshot for id. Failures never escape as
// errors: they are classified into the returned Result, whose image is
// then empty.
func (p *Pipeline) Render(ctx context.Context, id domain.Identifier) domain.Result {
	ctx, span := tracing.StartSpan(ctx, "render", tracing.AttrDynamicID.String(string(id)))
	start := time.Now()

	img, err := p.render(ctx, id)
	if err != nil {
		res := domain.Failure(err)
		span.SetAttributes(tracing.AttrCode.String(string(res.Code)))
		tracing.EndSpan(span, err)
		logging.Warn("render failed",
			"dynamic_id", id,
			"step", failedStep(err),
			"code", res.Code,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return res
	}

	span.SetAttributes(tracing.AttrCode.String(string(domain.CodeOK)))
	tracing.EndSpan(span, nil)
	logging.Info("render succeeded",
		"dynamic_id", id,
		"bytes", len(img),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return domain.Success(img)
}

func (p *Pipeline) render(ctx context.Context, id domain.Identifier) (img []byte, err error) {
	var sess browser.Session
	err = p.step(ctx, StepAcquire, id, func(ctx context.Context) error {
		s, err := p.acq.Acquire(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return fmt.Errorf("%w: %v", domain.ErrShuttingDown, err)
			}
			return domain.NewStepError(StepAcquire, domain.CodeBackendNotReady,
				fmt.Errorf("%w: %w", domain.ErrBackendNotReady, err))
		}
		sess = s
		tracing.Annotate(ctx, tracing.AttrSessionID.String(s.ID()))
		return nil
	})
	if err != nil {
		return nil, err
	}

	jobCtx, cancel := p.jobContext(ctx)
	defer cancel()
	defer p.release(ctx, sess, id)

	var card browser.Element
	steps := []struct {
		name string
		fn   func(ctx context.Context) error
	}{
		{StepNavigate, func(ctx context.Context) error {
			url := config.Expand(p.site.URLTemplate, string(id))
			if err := sess.Navigate(ctx, url); err != nil {
				return domain.NewStepError(StepNavigate, domain.CodeNavigation, err)
			}
			return nil
		}},
		{StepWaitCard, func(ctx context.Context) error {
			c, err := p.waitCard(ctx, sess, id)
			card = c
			return err
		}},
		{StepGallery, func(ctx context.Context) error {
			return p.openGallery(ctx, sess, card)
		}},
		{StepWaitImages, func(ctx context.Context) error {
			return p.waitImages(ctx, sess, card)
		}},
		{StepCleanup, func(ctx context.Context) error {
			_, err := sess.ExecuteScript(ctx, cleanupScript,
				card,
				p.site.HideSelectors,
				p.site.UnbackgroundSelectors,
				p.site.ActionSelector,
				p.site.ActiveClasses,
				p.site.OverlaySelector,
				p.site.OverlayCSS,
				p.site.BodyScale,
			)
			if err != nil {
				return domain.NewStepError(StepCleanup, domain.CodeScript, err)
			}
			return nil
		}},
		{StepCapture, func(ctx context.Context) error {
			b, err := capture(ctx, sess, card)
			img = b
			return err
		}},
	}
	for _, s := range steps {
		if err := p.step(jobCtx, s.name, id, s.fn); err != nil {
			return nil, err
		}
	}

	// Leave the heavy page before the session is torn down.
	if err := sess.Navigate(jobCtx, blankPage); err != nil {
		logging.Debug("navigate to blank page failed", "dynamic_id", id, "error", err)
	}
	return img, nil
}

// jobContext bounds the post-acquisition part of a job.
func (p *Pipeline) jobContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.opts.JobTimeout > 0 {
		return context.WithTimeout(ctx, p.opts.JobTimeout)
	}
	return context.WithCancel(ctx)
}

// release closes the session with a fresh bounded context, so teardown
// also happens after the job deadline expired.
func (p *Pipeline) release(ctx context.Context, sess browser.Session, id domain.Identifier) {
	timeout := p.opts.Render.CloseTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	_ = p.step(closeCtx, StepRelease, id, func(ctx context.Context) error {
		tracing.Annotate(ctx, tracing.AttrSessionID.String(sess.ID()))
		err := sess.Close(ctx)
		if err != nil {
			logging.Warn("close browser session failed", "dynamic_id", id, "session_id", sess.ID(), "error", err)
		}
		return err
	})
}

func (p *Pipeline) step(ctx context.Context, name string, id domain.Identifier, fn func(ctx context.Context) error) error {
	ctx, span := tracing.StartSpan(ctx, "render."+name,
		tracing.AttrDynamicID.String(string(id)),
		tracing.AttrStep.String(name),
	)
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	metrics.StepDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	tracing.EndSpan(span, err)
	logging.Debug("render step finished", "dynamic_id", id, "step", name, "duration_ms", elapsed.Milliseconds())
	if err != nil {
		var stepErr *domain.StepError
		if !errors.As(err, &stepErr) {
			err = domain.NewStepError(name, "", err)
		}
	}
	return err
}

func (p *Pipeline) waitCard(ctx context.Context, sess browser.Session, id domain.Identifier) (browser.Element, error) {
	selector := config.Expand(p.site.CardSelector, string(id))
	card, err := p.waitFor(ctx, p.opts.Render.CardTimeout, selector, func(ctx context.Context) (browser.Element, error) {
		return sess.FindElement(ctx, selector)
	})
	if err != nil {
		if errors.Is(err, domain.ErrWaitTimeout) && p.contentMissing(ctx, sess) {
			return browser.Element{}, domain.NewStepError(StepWaitCard, domain.CodeNotFound,
				fmt.Errorf("%w: dynamic %s", domain.ErrContentNotFound, id))
		}
		return browser.Element{}, domain.NewStepError(StepWaitCard, domain.CodeWaitTimeout, err)
	}

	if p.site.AvatarSelector != "" {
		avatar := config.Expand(p.site.AvatarSelector, string(id))
		if _, err := p.waitFor(ctx, p.opts.Render.CardTimeout, avatar, func(ctx context.Context) (browser.Element, error) {
			return sess.FindElement(ctx, avatar)
		}); err != nil {
			return browser.Element{}, domain.NewStepError(StepWaitCard, domain.CodeWaitTimeout, err)
		}
	}
	return card, nil
}

// contentMissing reports whether the page shows its "no such post" marker.
func (p *Pipeline) contentMissing(ctx context.Context, sess browser.Session) bool {
	if p.site.NotFoundSelector == "" {
		return false
	}
	_, err := sess.FindElement(ctx, p.site.NotFoundSelector)
	return err == nil
}

// openGallery expands a single-image gallery so the full image is captured.
// A card without a gallery is left alone.
func (p *Pipeline) openGallery(ctx context.Context, sess browser.Session, card browser.Element) error {
	if p.site.GallerySelector == "" {
		return nil
	}
	if _, err := sess.FindChild(ctx, card, p.site.GallerySelector); err != nil {
		if errors.Is(err, browser.ErrNoSuchElement) {
			return nil
		}
		return domain.NewStepError(StepGallery, domain.CodeScript, err)
	}

	timeout := p.opts.Render.ElementTimeout
	if p.site.GalleryImageSelector != "" {
		if _, err := p.waitFor(ctx, timeout, p.site.GalleryImageSelector, func(ctx context.Context) (browser.Element, error) {
			img, err := sess.FindChild(ctx, card, p.site.GalleryImageSelector)
			if err != nil {
				return img, err
			}
			return img, imageComplete(ctx, sess, img)
		}); err != nil {
			if errors.Is(err, domain.ErrWaitTimeout) {
				return domain.NewStepError(StepGallery, domain.CodeWaitTimeout, err)
			}
			return domain.NewStepError(StepGallery, domain.CodeScript, err)
		}
	}

	if p.site.SingleGallerySelector == "" {
		return nil
	}
	single, err := sess.FindChild(ctx, card, p.site.SingleGallerySelector)
	if err != nil {
		if errors.Is(err, browser.ErrNoSuchElement) {
			return nil
		}
		return domain.NewStepError(StepGallery, domain.CodeScript, err)
	}
	if err := sess.Click(ctx, single); err != nil {
		return domain.NewStepError(StepGallery, domain.CodeScript, err)
	}
	if p.site.ViewerReadySelector != "" {
		if _, err := p.waitFor(ctx, timeout, p.site.ViewerReadySelector, func(ctx context.Context) (browser.Element, error) {
			return sess.FindChild(ctx, card, p.site.ViewerReadySelector)
		}); err != nil {
			return domain.NewStepError(StepGallery, domain.CodeWaitTimeout, err)
		}
	}
	return nil
}

// imageComplete returns errNotYet while img is still loading.
func imageComplete(ctx context.Context, sess browser.Session, img browser.Element) error {
	raw, err := sess.ExecuteScript(ctx, imageCompleteScript, img)
	if err != nil {
		return err
	}
	if string(bytes.TrimSpace(raw)) == "false" {
		return errNotYet
	}
	return nil
}

// waitImages runs the image wait with a driving-side bound.
func (p *Pipeline) waitImages(ctx context.Context, sess browser.Session, card browser.Element) error {
	timeout := p.opts.Render.ImagesTimeout
	waitCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	_, err := sess.ExecuteAsyncScript(waitCtx, waitImagesScript, card, p.site.ImagesRootSelector)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && (waitCtx.Err() != nil || errors.Is(err, browser.ErrScriptTimeout)) {
		return domain.NewStepError(StepWaitImages, domain.CodeWaitTimeout,
			fmt.Errorf("%w: images not loaded after %s", domain.ErrWaitTimeout, timeout))
	}
	return domain.NewStepError(StepWaitImages, domain.CodeScript, err)
}

func capture(ctx context.Context, sess browser.Session, card browser.Element) ([]byte, error) {
	encoded, err := sess.ElementScreenshot(ctx, card)
	if err != nil {
		return nil, domain.NewStepError(StepCapture, domain.CodeCapture, err)
	}
	img, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, domain.NewStepError(StepCapture, domain.CodeCapture, fmt.Errorf("decode screenshot: %w", err))
	}
	if len(img) == 0 {
		return nil, domain.NewStepError(StepCapture, domain.CodeCapture, errors.New("empty screenshot"))
	}
	return img, nil
}

// waitFor polls find until it returns an element or timeout passes. A find
// failing with ErrNoSuchElement or errNotYet is retried. The
// timer is local, so expiry reports ErrWaitTimeout rather than a context
// error; a done ctx still aborts with ctx's error.
func (p *Pipeline) waitFor(ctx context.Context, timeout time.Duration, selector string, find func(ctx context.Context) (browser.Element, error)) (browser.Element, error) {
	deadline := time.Now().Add(timeout)
	for {
		el, err := find(ctx)
		if err == nil {
			return el, nil
		}
		if !errors.Is(err, browser.ErrNoSuchElement) && !errors.Is(err, errNotYet) {
			return browser.Element{}, err
		}
		if err := ctx.Err(); err != nil {
			return browser.Element{}, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return browser.Element{}, fmt.Errorf("%w: %q not found after %s", domain.ErrWaitTimeout, selector, timeout)
		}
		t := time.NewTimer(min(p.opts.PollInterval, remaining))
		select {
		case <-ctx.Done():
			t.Stop()
			return browser.Element{}, ctx.Err()
		case <-t.C:
		}
	}
}

func failedStep(err error) string {
	var stepErr *domain.StepError
	if errors.As(err, &stepErr) {
		return stepErr.Step
	}
	return ""
}
