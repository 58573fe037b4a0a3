// Package relay turns a (user, track, optional Range) request into an
// upstream fetch against the user's agent and a client-facing response.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"radiotiker/cache"
	"radiotiker/core/audio"
	"radiotiker/core/identity"
	"radiotiker/logger"
	"radiotiker/metrics"
	"radiotiker/model"
)

// TrackSource looks up catalog records.
type TrackSource interface {
	GetTrack(ctx context.Context, userID, trackID string) (model.Track, bool, error)
}

// OriginDirectory knows where each user's agent can be reached.
type OriginDirectory interface {
	BaseURL(ctx context.Context, userID string) (string, error)
}

// Options tunes the upstream side of the relay.
type Options struct {
	ProbeTimeout   time.Duration
	ConnectTimeout time.Duration
	// ReadTimeout is an inactivity limit: the upstream request is abandoned
	// when no bytes arrive for this long.
	ReadTimeout   time.Duration
	UserAgent     string
	PlayableTypes []string
	ProbeCache    cache.ProbeCache
}

// Delivery is how a relay response reaches the client.
type Delivery int

const (
	DeliverPassthrough Delivery = iota
	DeliverSynthesized
	DeliverTranscode
)

func (d Delivery) String() string {
	switch d {
	case DeliverSynthesized:
		return "synthesized_206"
	case DeliverTranscode:
		return "transcode_redirect"
	default:
		return "passthrough"
	}
}

// Target is a track resolved to a concrete origin URL.
type Target struct {
	Track   model.Track
	BaseURL string
	URL     string
}

// Request is one inbound relay request.
type Request struct {
	Method  string
	UserID  string
	TrackID string
	Range   string
	IfRange string
	Accept  string
}

// Response is ready to be written to the client. Body is nil for HEAD
// requests and transcode redirects; otherwise the caller must Close it.
type Response struct {
	Delivery     Delivery
	Status       int
	Header       http.Header
	Body         io.ReadCloser
	Target       *Target
	RangeCapable bool
}

// Close releases the upstream connection.
func (r *Response) Close() error {
	if r.Body == nil {
		return nil
	}
	return r.Body.Close()
}

var errIdleTimeout = errors.New("upstream idle timeout")

type Engine struct {
	tracks      TrackSource
	origins     OriginDirectory
	opts        Options
	playable    map[string]bool
	client      *http.Client
	probeClient *http.Client
}

func NewEngine(tracks TrackSource, origins OriginDirectory, opts Options) *Engine {
	if opts.ProbeCache == nil {
		opts.ProbeCache = cache.NopProbeCache{}
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 3 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 5 * time.Minute
	}
	if len(opts.PlayableTypes) == 0 {
		opts.PlayableTypes = audio.PlayableTypes
	}
	playable := make(map[string]bool, len(opts.PlayableTypes))
	for _, t := range opts.PlayableTypes {
		playable[audio.MediaType(t)] = true
	}

	return &Engine{
		tracks:   tracks,
		origins:  origins,
		opts:     opts,
		playable: playable,
		client: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   opts.ConnectTimeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: opts.ConnectTimeout,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
				DisableCompression:  true,
			},
		},
		probeClient: &http.Client{
			Timeout: opts.ProbeTimeout,
			Transport: &http.Transport{
				Proxy:              http.ProxyFromEnvironment,
				DialContext:        (&net.Dialer{Timeout: opts.ProbeTimeout}).DialContext,
				DisableCompression: true,
				DisableKeepAlives:  true,
			},
		},
	}
}

// Resolve finds the track and composes its origin URL.
func (e *Engine) Resolve(ctx context.Context, userID, trackID string) (*Target, error) {
	track, ok, err := e.tracks.GetTrack(ctx, userID, trackID)
	if err != nil {
		return nil, fmt.Errorf("load catalog for %s: %w", userID, err)
	}
	if !ok {
		return nil, NewError(KindNotFound, fmt.Errorf("track %s not found for user %s", trackID, userID))
	}

	base, err := e.origins.BaseURL(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load agent for %s: %w", userID, err)
	}
	if base == "" {
		return nil, NewError(KindServiceUnavailable, fmt.Errorf("no agent announced for user %s", userID))
	}
	if track.RelPath == "" {
		return nil, NewError(KindServiceUnavailable, fmt.Errorf("track %s has no file location", trackID))
	}

	return &Target{Track: track, BaseURL: base, URL: identity.JoinURL(base, track.RelPath)}, nil
}

// Open runs the request through resolve, probe, fetch and delivery selection.
func (e *Engine) Open(ctx context.Context, req Request) (*Response, error) {
	head := req.Method == http.MethodHead
	method := http.MethodGet
	if head {
		method = http.MethodHead
	}

	target, err := e.Resolve(ctx, req.UserID, req.TrackID)
	if err != nil {
		return nil, err
	}

	if req.Range != "" {
		if err := ValidateRange(req.Range); err != nil {
			return nil, NewError(KindInvalidRange, err)
		}
	}

	upstreamRange, ifRange := req.Range, req.IfRange
	capable := false
	if upstreamRange == "" {
		ifRange = ""
		capable = e.rangeSupport(ctx, target, head)
		if capable {
			upstreamRange = fullRange
			if head {
				upstreamRange = firstByte
			}
		}
	}

	fwd := make(http.Header)
	if upstreamRange != "" {
		fwd.Set("Range", upstreamRange)
	}
	if ifRange != "" {
		fwd.Set("If-Range", ifRange)
	}
	if req.Accept != "" {
		fwd.Set("Accept", req.Accept)
	}

	resp, err := e.fetch(ctx, method, target.URL, fwd)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		resp.Body.Close()
		return nil, upstreamStatus(resp.StatusCode, target.URL)
	}

	out := &Response{
		Status:       resp.StatusCode,
		Header:       make(http.Header),
		Target:       target,
		RangeCapable: capable,
	}

	if e.needsTranscode(resp.Header.Get("Content-Type"), target.Track.RelPath) {
		resp.Body.Close()
		out.Delivery = DeliverTranscode
		out.Status = http.StatusFound
		return out, nil
	}

	copyAllowed(out.Header, resp.Header)
	if resp.ContentLength >= 0 {
		out.Header.Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
	}

	if upstreamRange != "" && resp.StatusCode == http.StatusOK &&
		resp.Header.Get("Content-Range") == "" && resp.ContentLength > 0 {
		total := resp.ContentLength
		out.Delivery = DeliverSynthesized
		out.Status = http.StatusPartialContent
		out.Header.Set("Content-Range", fmt.Sprintf("bytes 0-%d/%d", total-1, total))
	}

	if head {
		resp.Body.Close()
	} else {
		out.Body = resp.Body
	}
	return out, nil
}

func (e *Engine) needsTranscode(contentType, relPath string) bool {
	mt := audio.MediaType(contentType)
	if mt == "" || mt == "application/octet-stream" || mt == "binary/octet-stream" {
		mt = audio.ContentTypeByExtension(relPath)
	}
	if mt == "" {
		return false
	}
	return !e.playable[mt]
}

// rangeSupport consults the probe cache and, for GET only, probes on a miss.
func (e *Engine) rangeSupport(ctx context.Context, target *Target, head bool) bool {
	if capable, ok := e.opts.ProbeCache.Get(ctx, target.BaseURL); ok {
		metrics.RangeProbes.WithLabelValues("cached").Inc()
		return capable
	}
	if head {
		return false
	}

	capable, err := e.probe(ctx, target.URL)
	if err != nil {
		metrics.RangeProbes.WithLabelValues("failed").Inc()
		logger.Debug("range probe failed",
			logger.String("url", target.URL),
			logger.ErrorField(err))
		return false
	}

	e.opts.ProbeCache.Set(ctx, target.BaseURL, capable)
	if capable {
		metrics.RangeProbes.WithLabelValues("capable").Inc()
	} else {
		metrics.RangeProbes.WithLabelValues("incapable").Inc()
	}
	return capable
}

func (e *Engine) probe(ctx context.Context, url string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Range", firstByte)
	e.setUserAgent(req)

	resp, err := e.probeClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("probe answered %d", resp.StatusCode)
	}
	return rangeCapable(resp), nil
}

// fetch sends the upstream request with the forwarded client headers.
func (e *Engine) fetch(ctx context.Context, method, url string, fwd http.Header) (*http.Response, error) {
	uctx, cancel := context.WithCancelCause(ctx)
	idle := time.AfterFunc(e.opts.ReadTimeout, func() { cancel(errIdleTimeout) })

	req, err := http.NewRequestWithContext(uctx, method, url, nil)
	if err != nil {
		idle.Stop()
		cancel(nil)
		return nil, NewError(KindUpstream, err)
	}
	for k, v := range fwd {
		req.Header[k] = v
	}
	e.setUserAgent(req)

	resp, err := e.client.Do(req)
	if err != nil {
		idle.Stop()
		cancel(nil)
		return nil, classifyFetchError(ctx, uctx, err)
	}

	resp.Body = &idleBody{
		rc:     resp.Body,
		timer:  idle,
		idle:   e.opts.ReadTimeout,
		cancel: func() { cancel(nil) },
	}
	idle.Reset(e.opts.ReadTimeout)
	return resp, nil
}

func (e *Engine) setUserAgent(req *http.Request) {
	if e.opts.UserAgent != "" {
		req.Header.Set("User-Agent", e.opts.UserAgent)
	}
}

func classifyFetchError(clientCtx, upstreamCtx context.Context, err error) error {
	if clientCtx.Err() != nil {
		return clientCtx.Err()
	}
	if errors.Is(context.Cause(upstreamCtx), errIdleTimeout) {
		return NewError(KindTimeout, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return NewError(KindUpstream, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewError(KindTimeout, err)
	}
	return NewError(KindUpstream, err)
}

// idleBody cancels the upstream request when reads stall.
type idleBody struct {
	rc     io.ReadCloser
	timer  *time.Timer
	idle   time.Duration
	cancel func()
}

func (b *idleBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 {
		b.timer.Reset(b.idle)
	}
	return n, err
}

func (b *idleBody) Close() error {
	b.timer.Stop()
	err := b.rc.Close()
	b.cancel()
	return err
}

// IsDisconnect reports whether err means the client went away.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrClientGone) || errors.Is(err, context.Canceled) ||
		strings.Contains(err.Error(), "broken pipe") || strings.Contains(err.Error(), "connection reset by peer")
}
