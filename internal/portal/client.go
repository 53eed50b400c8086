// Package portal drives the booking conversation with the court reservation
// portal: login, slot page, customer-info and customer-confirm.
package portal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/courtres/internal/obs"
	"github.com/example/courtres/internal/reservation"
)

const (
	DefaultBaseURL      = "https://yoyaku.labola.jp"
	DefaultMemberTypeID = "397"
	DefaultUserAgent    = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36"

	acceptHTML     = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8"
	acceptLanguage = "ja,en;q=0.9"
	formType       = "application/x-www-form-urlencoded"

	maxBodyBytes = 4 << 20
)

// Customer holds fallback values for required customer-info fields the
// portal leaves empty.
type Customer struct {
	Name         string
	DisplayName  string
	Email        string
	Address      string
	MobileNumber string
}

type Config struct {
	BaseURL      string
	Username     string
	Password     string
	MemberTypeID string
	UserAgent    string
	Timeout      time.Duration
	MaxRedirects int
	Customer     Customer

	LoginOnly   bool
	DryRun      bool
	Diagnostics bool
}

// Client implements reservation.Booker against the portal.
type Client struct {
	hc      *http.Client
	cfg     Config
	base    *url.URL
	log     *zap.Logger
	metrics *obs.Metrics
}

var _ reservation.Booker = (*Client)(nil)

func New(cfg Config, logger *zap.Logger, metrics *obs.Metrics) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid portal base url %q", cfg.BaseURL)
	}
	if cfg.MemberTypeID == "" {
		cfg.MemberTypeID = DefaultMemberTypeID
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		hc: &http.Client{
			Timeout: cfg.Timeout,
			// Redirects are followed by hand so cookies from every hop are kept
			// and calendar redirects can be detected.
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		cfg:     cfg,
		base:    base,
		log:     logger,
		metrics: metrics,
	}, nil
}

// Book runs one full booking attempt.
func (c *Client) Book(ctx context.Context, reserveID string, p reservation.Params, r reservation.Route) error {
	log := c.log.With(zap.String("reserve_id", reserveID), zap.String("shop_id", r.ShopID), zap.String("court_code", r.CourtCode))
	started := time.Now()
	defer func() { c.metrics.ObserveBooking(time.Since(started)) }()

	jar, err := c.login(ctx, log, r.ShopID)
	if err != nil {
		return err
	}
	if c.cfg.LoginOnly {
		log.Info("login-only mode: stopping after login", zap.String("cookies", cookieSummary(jar)))
		return nil
	}

	slot, err := c.fetchSlotPage(ctx, log, jar, p, r)
	if err != nil {
		return err
	}

	info, err := c.submitCustomerInfo(ctx, log, slot, p, r)
	if err != nil {
		return err
	}
	if c.cfg.DryRun {
		log.Info("dry run: skipping customer-confirm submit",
			zap.Strings("confirm_keys", formKeys(info.confirmForm)))
		return nil
	}
	return c.submitCustomerConfirm(ctx, log, info, r)
}

func (c *Client) url(path string) *url.URL {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + path
	return &u
}

func (c *Client) origin() string {
	return c.base.Scheme + "://" + c.base.Host
}

func (c *Client) loginURL(shop string) *url.URL {
	return c.url("/r/shop/" + shop + "/member/login/")
}

func (c *Client) slotURL(p reservation.Params, r reservation.Route) *url.URL {
	return c.url(fmt.Sprintf("/r/booking/rental/shop/%s/facility/%s/%s-%s-%s/customer-type/",
		r.ShopID, r.CourtCode, p.CompactDate(), p.StartHHMM(), p.EndHHMM()))
}

func (c *Client) customerInfoURL(shop string) *url.URL {
	return c.url("/r/booking/rental/shop/" + shop + "/customer-info/")
}

func (c *Client) customerConfirmURL(shop string) *url.URL {
	return c.url("/r/booking/rental/shop/" + shop + "/customer-confirm/")
}

func isCalendarURL(u *url.URL, shop string) bool {
	return u != nil && strings.HasPrefix(u.Path, "/r/shop/"+shop+"/calendar/")
}

func isFinishURL(u *url.URL) bool {
	return u != nil && strings.HasPrefix(u.Path, "/r/booking/rental/finish/")
}

type response struct {
	status     int
	header     http.Header
	body       string
	url        *url.URL
	redirected bool
	setCookies []string
}

func (r *response) location() string { return r.header.Get("Location") }

func isRedirect(status int) bool { return status >= 300 && status < 400 }
func isOK(status int) bool       { return status >= 200 && status < 300 }

type request struct {
	step    reservation.Step
	label   string
	method  string
	url     *url.URL
	form    url.Values
	jar     Jar
	headers map[string]string
}

// send performs one request without following redirects.
func (c *Client) send(ctx context.Context, log *zap.Logger, rq request) (*response, error) {
	var body io.Reader
	if rq.form != nil {
		body = strings.NewReader(rq.form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, rq.method, rq.url.String(), body)
	if err != nil {
		return nil, &reservation.BookingError{Kind: reservation.KindMalformed, Step: rq.step, Err: err}
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", acceptHTML)
	req.Header.Set("Accept-Language", acceptLanguage)
	if rq.form != nil {
		req.Header.Set("Content-Type", formType)
		req.Header.Set("Origin", c.origin())
	}
	if rq.jar.Len() > 0 {
		req.Header.Set("Cookie", rq.jar.Header())
	}
	for k, v := range rq.headers {
		req.Header.Set(k, v)
	}

	fields := []zap.Field{
		zap.String("step", rq.label),
		zap.String("method", rq.method),
		zap.String("url", rq.url.String()),
		zap.String("cookie_keys", cookieSummary(rq.jar)),
	}
	if rq.form != nil {
		fields = append(fields, zap.Any("payload", maskForm(rq.form)))
	}
	log.Info("portal request", fields...)

	res, err := c.hc.Do(req)
	if err != nil {
		c.metrics.ObservePortalRequest(string(rq.step), 0)
		log.Warn("portal transport error", zap.String("step", rq.label), zap.Error(err))
		return nil, reservation.NetworkError(rq.step, err)
	}
	defer res.Body.Close()
	b, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		c.metrics.ObservePortalRequest(string(rq.step), 0)
		return nil, reservation.NetworkError(rq.step, err)
	}
	c.metrics.ObservePortalRequest(string(rq.step), res.StatusCode)

	out := &response{
		status:     res.StatusCode,
		header:     res.Header,
		body:       string(b),
		url:        rq.url,
		setCookies: res.Header.Values("Set-Cookie"),
	}
	log.Info("portal response",
		zap.String("step", rq.label),
		zap.Int("status", out.status),
		zap.String("location", out.location()),
		zap.Int("body_size", len(out.body)),
		zap.String("body_preview", preview(out.body)),
	)
	return out, nil
}

// follow walks redirects with GET, merging cookies from every hop. guard may
// inspect each target before it is fetched and end the walk with an error.
func (c *Client) follow(ctx context.Context, log *zap.Logger, step reservation.Step, res *response, jar Jar, hops int,
	guard func(*url.URL) error,
) (*response, Jar, error) {
	for n := 0; isRedirect(res.status); n++ {
		loc := res.location()
		if loc == "" {
			return nil, jar, &reservation.BookingError{Kind: reservation.KindMalformed, Step: step, Status: res.status, Msg: "redirect without location"}
		}
		if n >= hops {
			return nil, jar, &reservation.BookingError{Kind: reservation.KindMalformed, Step: step, Status: res.status, Msg: "too many redirects"}
		}
		next, err := res.url.Parse(loc)
		if err != nil {
			return nil, jar, &reservation.BookingError{Kind: reservation.KindMalformed, Step: step, Msg: "bad redirect location", Err: err}
		}
		if guard != nil {
			if err := guard(next); err != nil {
				return nil, jar, err
			}
		}
		nres, err := c.send(ctx, log, request{step: step, label: string(step) + "-redirect", method: http.MethodGet, url: next, jar: jar})
		if err != nil {
			return nil, jar, err
		}
		jar = jar.Merge(nres.setCookies...)
		nres.redirected = true
		nres.setCookies = append(append([]string(nil), res.setCookies...), nres.setCookies...)
		res = nres
	}
	return res, jar, nil
}

// CheckLogin performs only the login exchange for shop and returns the
// session cookie names it obtained.
func (c *Client) CheckLogin(ctx context.Context, shop string) ([]string, error) {
	if shop == "" {
		shop = reservation.DefaultShopID
	}
	jar, err := c.login(ctx, c.log.With(zap.String("shop_id", shop)), shop)
	if err != nil {
		return nil, err
	}
	return jar.Names(), nil
}
