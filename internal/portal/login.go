package portal

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/example/courtres/internal/reservation"
)

const (
	invalidCredentialsText    = "会員IDまたはパスワードが正しくありません"
	invalidCredentialsAltText = "会員番号またはパスワードが違います。"
	loginPageTitleText        = "メンバーログイン - LaBOLA総合予約"
	genericLoginRejectedText  = "ログイン出来ません。"
)

var bodySignalPatterns = []struct {
	key string
	re  *regexp.Regexp
}{
	{"turnstile", regexp.MustCompile(`(?i)turnstile|cf-turnstile|challenges\.cloudflare\.com/turnstile`)},
	{"cf-chl", regexp.MustCompile(`(?i)cf-chl|cdn-cgi/challenge-platform|cf_chl`)},
	{"captcha", regexp.MustCompile(`(?i)captcha|hcaptcha|recaptcha|g-recaptcha`)},
	{"bot-check", regexp.MustCompile(`(?i)verify you are human|checking your browser|attention required`)},
}

// login fetches the login page for its CSRF token, posts the credentials and
// follows the post-login redirects. It returns the session cookies.
func (c *Client) login(ctx context.Context, log *zap.Logger, shop string) (Jar, error) {
	if c.cfg.Username == "" || c.cfg.Password == "" {
		return Jar{}, reservation.NewError(reservation.KindConfig, reservation.StepLoginPage, "portal username/password not configured")
	}
	user := c.cfg.Username
	if len(user) > 3 {
		user = user[:3]
	}
	log.Info("portal credentials loaded", zap.String("username_preview", user))

	loginURL := c.loginURL(shop)
	page, err := c.send(ctx, log, request{step: reservation.StepLoginPage, label: "login-page-get", method: http.MethodGet, url: loginURL})
	if err != nil {
		return Jar{}, err
	}
	if !isOK(page.status) {
		return Jar{}, reservation.StatusError(reservation.StepLoginPage, page.status)
	}
	jar := Jar{}.Merge(page.setCookies...)
	csrf := ExtractFormValues(page.body)["csrfmiddlewaretoken"]
	log.Info("login page parsed", zap.Bool("has_csrf_token", csrf != ""), zap.String("cookie_keys", cookieSummary(jar)))
	if c.cfg.Diagnostics {
		c.emitLoginDiagnostics(log, "login-page-get", page, nil, Jar{}, "")
	}

	form := url.Values{}
	form.Set("membership_code", c.cfg.Username)
	form.Set("password", c.cfg.Password)
	form.Set("member_type_id", c.cfg.MemberTypeID)
	headers := map[string]string{"Referer": loginURL.String()}
	if csrf != "" {
		form.Set("csrfmiddlewaretoken", csrf)
		headers["X-CSRFToken"] = csrf
	}

	res, err := c.send(ctx, log, request{
		step: reservation.StepLogin, label: "login-post", method: http.MethodPost,
		url: loginURL, form: form, jar: jar, headers: headers,
	})
	if err != nil {
		return Jar{}, err
	}
	loginErr := ParsePage(res.body).LoginError
	if c.cfg.Diagnostics {
		c.emitLoginDiagnostics(log, "login-post", res, headers, jar, loginErr)
	}
	jar = jar.Merge(res.setCookies...)

	switch {
	case isRedirect(res.status):
		final, merged, err := c.follow(ctx, log, reservation.StepLogin, res, jar, c.cfg.MaxRedirects, nil)
		if err != nil {
			return Jar{}, err
		}
		if c.cfg.Diagnostics {
			c.emitLoginDiagnostics(log, "login-post-redirect-get", final, nil, merged, "")
		}
		log.Info("login succeeded", zap.String("final_url", final.url.String()), zap.String("cookie_keys", cookieSummary(merged)))
		return merged, nil
	case !isOK(res.status):
		if res.status < 500 {
			log.Error("login post rejected", zap.Int("status", res.status), zap.String("body_preview", truncate(res.body, 200)))
		}
		return Jar{}, reservation.StatusError(reservation.StepLogin, res.status)
	case invalidCredentials(res.body):
		log.Warn("login failed", zap.String("login_error", loginErr))
		return Jar{}, &reservation.BookingError{
			Kind: reservation.KindInvalidCredentials, Step: reservation.StepLogin, Status: res.status,
			Msg: "check portal username/password",
		}
	}
	log.Info("login succeeded", zap.String("cookie_keys", cookieSummary(jar)))
	return jar, nil
}

func invalidCredentials(body string) bool {
	return strings.Contains(body, invalidCredentialsText) ||
		strings.Contains(body, invalidCredentialsAltText) ||
		strings.Contains(body, loginPageTitleText)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

type setCookieInfo struct {
	Name        string `json:"name"`
	ValueLength int    `json:"valueLength"`
	Secure      bool   `json:"secure"`
	HTTPOnly    bool   `json:"httpOnly"`
	SameSite    string `json:"sameSite,omitempty"`
	Domain      string `json:"domain,omitempty"`
	Path        string `json:"path,omitempty"`
	MaxAge      string `json:"maxAge,omitempty"`
	HasExpires  bool   `json:"hasExpires"`
}

func parseSetCookieInfo(raw string) (setCookieInfo, bool) {
	parts := strings.Split(raw, ";")
	name, value := splitPair(parts[0])
	if name == "" {
		return setCookieInfo{}, false
	}
	info := setCookieInfo{Name: name, ValueLength: len(value)}
	for _, attr := range parts[1:] {
		k, v, _ := strings.Cut(strings.TrimSpace(attr), "=")
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "secure":
			info.Secure = true
		case "httponly":
			info.HTTPOnly = true
		case "samesite":
			info.SameSite = strings.TrimSpace(v)
		case "domain":
			info.Domain = strings.TrimSpace(v)
		case "path":
			info.Path = strings.TrimSpace(v)
		case "max-age":
			info.MaxAge = strings.TrimSpace(v)
		case "expires":
			info.HasExpires = true
		}
	}
	return info, true
}

func bodySignals(body string) []string {
	var out []string
	for _, p := range bodySignalPatterns {
		if p.re.MatchString(body) {
			out = append(out, p.key)
		}
	}
	return out
}

func rejectionReasons(res *response, signals []string, loginErr string) []string {
	var out []string
	if v := res.header.Get("Cf-Mitigated"); v != "" {
		out = append(out, "cf-mitigated:"+v)
	}
	if len(signals) > 0 {
		out = append(out, "challenge-signal-detected")
	}
	if strings.Contains(loginErr, genericLoginRejectedText) {
		out = append(out, "generic-login-rejected")
	}
	if strings.Contains(res.body, invalidCredentialsText) {
		out = append(out, "credential-message-detected")
	}
	if strings.Contains(res.body, invalidCredentialsAltText) {
		out = append(out, "credential-message-alt-detected")
	}
	if strings.Contains(res.body, loginPageTitleText) {
		out = append(out, "returned-to-login-page")
	}
	if len(out) == 0 {
		out = append(out, "unknown")
	}
	return out
}

func maskHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		lower := strings.ToLower(k)
		switch {
		case lower == "cookie":
			out[k] = "keys:" + cookieSummary(ParseJar(v))
		case strings.Contains(lower, "csrf"), strings.Contains(lower, "authorization"):
			out[k] = "***"
		default:
			out[k] = v
		}
	}
	return out
}

func (c *Client) emitLoginDiagnostics(log *zap.Logger, label string, res *response, reqHeaders map[string]string, reqJar Jar, loginErr string) {
	var cookies []setCookieInfo
	var names []string
	for _, raw := range res.setCookies {
		for _, sc := range SplitSetCookie(raw) {
			if info, ok := parseSetCookieInfo(sc); ok {
				cookies = append(cookies, info)
				names = append(names, info.Name)
			}
		}
	}
	signals := bodySignals(res.body)
	log.Warn("portal login diagnostics",
		zap.String("step", label),
		zap.Int("status", res.status),
		zap.String("location", res.location()),
		zap.Bool("redirected", res.redirected),
		zap.String("final_url", res.url.String()),
		zap.Int("set_cookie_count", len(res.setCookies)),
		zap.Strings("set_cookie_names", names),
		zap.Any("set_cookies", cookies),
		zap.Any("request_headers", maskHeaders(reqHeaders)),
		zap.String("request_cookie_keys", cookieSummary(reqJar)),
		zap.Strings("body_signals", signals),
		zap.Strings("likely_rejection_reasons", rejectionReasons(res, signals, loginErr)),
		zap.Int("body_size", len(res.body)),
		zap.String("body_preview", preview(res.body)),
		zap.String("title", ParsePage(res.body).Title),
		zap.String("login_error", loginErr),
	)
}
