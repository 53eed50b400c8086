package portal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/example/courtres/internal/reservation"
)

const (
	alreadyReservedText  = "すでに予約済みです"
	calendarTitleText    = "空き情報・予約 - LaBOLA総合予約"
	loginToBookText      = "ログインして予約"
	submitConfText       = "予約内容の確認"
	submitOKText         = "申込む"
	defaultPaymentMethod = "front"
)

var notOpenTexts = []string{
	"このメンバータイプではこの日時で予約することは出来ません",
	"今現在メンバーの予約は受け付けておりません",
	"今現在ビジターの予約は受け付けておりません",
}

var (
	confirmSuccessHints = []string{
		"予約が完了しました",
		"予約完了",
		"申込完了",
		"お申し込みありがとうございました",
		"ご予約ありがとうございます",
		"予約番号",
		"受付番号",
	}
	confirmFailureHints = []string{
		"エラー",
		"入力内容",
		"このメンバータイプではこの日時で予約することは出来ません",
		"ログインして予約",
		"すでに予約済み",
		"予約受付前",
	}
)

// alreadyReservedEscaped is the flash message as it appears JSON-escaped
// inside the messages cookie.
var alreadyReservedEscaped = unicodeEscape(alreadyReservedText)

func unicodeEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < 0x80 {
			b.WriteRune(r)
			continue
		}
		fmt.Fprintf(&b, `\u%04x`, r)
	}
	return b.String()
}

func unavailableIn(step reservation.Step, body string) error {
	if strings.Contains(body, alreadyReservedText) {
		return reservation.Unavailable(step, reservation.ReasonAlreadyReserved)
	}
	for _, t := range notOpenTexts {
		if strings.Contains(body, t) {
			return reservation.Unavailable(step, reservation.ReasonNotOpen)
		}
	}
	return nil
}

func loginRequired(step reservation.Step, values map[string]string) error {
	if strings.Contains(values["submit_member"], loginToBookText) {
		return &reservation.BookingError{
			Kind: reservation.KindInvalidCredentials, Step: step, Reason: reservation.ReasonLoginRequired,
			Msg: "portal asks to log in before booking",
		}
	}
	return nil
}

type slotPage struct {
	jar    Jar
	values map[string]string
}

func (c *Client) fetchSlotPage(ctx context.Context, log *zap.Logger, jar Jar, p reservation.Params, r reservation.Route) (slotPage, error) {
	step := reservation.StepSlotPage
	res, err := c.send(ctx, log, request{step: step, label: "booking-page-get", method: http.MethodGet, url: c.slotURL(p, r), jar: jar})
	if err != nil {
		return slotPage{}, err
	}
	jar = jar.Merge(res.setCookies...)

	infoPath := c.customerInfoURL(r.ShopID).Path
	res, jar, err = c.follow(ctx, log, step, res, jar, c.cfg.MaxRedirects, func(next *url.URL) error {
		if isCalendarURL(next, r.ShopID) {
			return reservation.Unavailable(step, reservation.ReasonCalendarRedirect)
		}
		if next.Path == infoPath {
			log.Info("slot page redirected to customer-info", zap.String("to", next.String()))
		}
		return nil
	})
	if err != nil {
		return slotPage{}, err
	}
	if !isOK(res.status) {
		return slotPage{}, reservation.StatusError(step, res.status)
	}
	if err := unavailableIn(step, res.body); err != nil {
		return slotPage{}, err
	}
	values := ExtractFormValues(res.body)
	if err := loginRequired(step, values); err != nil {
		return slotPage{}, err
	}
	return slotPage{jar: jar, values: values}, nil
}

// customerInfoForm layers page defaults, configured fallbacks and the
// job-specific overrides, in that order.
func (c *Client) customerInfoForm(defaults map[string]string, p reservation.Params) url.Values {
	filled := make(map[string]string, len(defaults)+8)
	for k, v := range defaults {
		filled[k] = v
	}
	cust := c.cfg.Customer
	fallback := func(key, v string) {
		if filled[key] == "" {
			filled[key] = v
		}
	}
	fallback("name", cust.Name)
	fallback("display_name", cust.DisplayName)
	fallback("email", cust.Email)
	if filled["email_confirm"] == "" {
		if cust.Email != "" {
			filled["email_confirm"] = cust.Email
		} else {
			filled["email_confirm"] = filled["email"]
		}
	}
	fallback("address", cust.Address)
	fallback("mobile_number", cust.MobileNumber)

	filled["hold_on_at"] = p.Date
	filled["start"] = p.StartHHMM()
	filled["end"] = p.EndHHMM()
	fallback("payment_method", defaultPaymentMethod)

	form := url.Values{}
	for k, v := range filled {
		form.Set(k, v)
	}
	form.Set("submit_conf", submitConfText)
	return form
}

type customerInfo struct {
	jar         Jar
	confirmForm url.Values
}

func (c *Client) submitCustomerInfo(ctx context.Context, log *zap.Logger, slot slotPage, p reservation.Params, r reservation.Route) (customerInfo, error) {
	step := reservation.StepCustomerInfo
	if slot.jar.Len() == 0 {
		return customerInfo{}, reservation.NewError(reservation.KindMalformed, step, "no session cookie for customer-info/customer-confirm")
	}
	infoURL := c.customerInfoURL(r.ShopID)
	form := c.customerInfoForm(slot.values, p)
	headers := map[string]string{"Referer": infoURL.String()}
	if t := form.Get("csrfmiddlewaretoken"); t != "" {
		headers["X-CSRFToken"] = t
	}
	log.Info("customer-info form built",
		zap.Bool("has_cookie", slot.jar.Len() > 0),
		zap.Strings("customer_info_keys", formKeys(form)))

	res, err := c.send(ctx, log, request{
		step: step, label: "customer-info-post", method: http.MethodPost,
		url: infoURL, form: form, jar: slot.jar, headers: headers,
	})
	if err != nil {
		return customerInfo{}, err
	}
	jar := slot.jar.Merge(res.setCookies...)
	if !isOK(res.status) && !isRedirect(res.status) {
		return customerInfo{}, reservation.StatusError(step, res.status)
	}
	res, jar, err = c.follow(ctx, log, step, res, jar, c.cfg.MaxRedirects, func(next *url.URL) error {
		if isCalendarURL(next, r.ShopID) {
			return reservation.Unavailable(step, reservation.ReasonCalendarRedirect)
		}
		return nil
	})
	if err != nil {
		return customerInfo{}, err
	}
	if !isOK(res.status) {
		return customerInfo{}, reservation.StatusError(step, res.status)
	}

	setCookie := strings.ReplaceAll(strings.Join(res.setCookies, ", "), `\\`, `\`)
	if strings.Contains(res.body, calendarTitleText) ||
		strings.Contains(strings.ToLower(setCookie), alreadyReservedEscaped) {
		return customerInfo{}, reservation.Unavailable(step, reservation.ReasonAlreadyReserved)
	}
	if err := unavailableIn(step, res.body); err != nil {
		return customerInfo{}, err
	}
	defaults := ExtractFormValues(res.body)
	if err := loginRequired(step, defaults); err != nil {
		return customerInfo{}, err
	}

	confirm := url.Values{}
	for k, v := range defaults {
		confirm.Set(k, v)
	}
	confirm.Set("submit_ok", submitOKText)
	return customerInfo{jar: jar, confirmForm: confirm}, nil
}

type confirmDiagnostics struct {
	FinalURL     string
	Finished     bool
	Redirected   bool
	Page         Page
	SuccessHints []string
	FailureHints []string
}

func diagnoseConfirm(res *response) confirmDiagnostics {
	return confirmDiagnostics{
		FinalURL:     res.url.String(),
		Finished:     isFinishURL(res.url),
		Redirected:   res.redirected,
		Page:         ParsePage(res.body),
		SuccessHints: collectHints(res.body, confirmSuccessHints),
		FailureHints: collectHints(res.body, confirmFailureHints),
	}
}

func (d confirmDiagnostics) likelyResult() string {
	s, f := len(d.SuccessHints) > 0, len(d.FailureHints) > 0
	switch {
	case s && !f:
		return "success_candidate"
	case f && !s:
		return "failure_candidate"
	case s && f:
		return "mixed_signals"
	}
	return "unknown"
}

// confirmed accepts the finish URL without failure hints, or unambiguous
// success hints on a page that offers no further forms.
func (d confirmDiagnostics) confirmed() bool {
	if d.Finished && len(d.FailureHints) == 0 {
		return true
	}
	return d.likelyResult() == "success_candidate" && d.Page.FormCount == 0
}

func (c *Client) submitCustomerConfirm(ctx context.Context, log *zap.Logger, info customerInfo, r reservation.Route) error {
	step := reservation.StepCustomerConfirm
	headers := map[string]string{"Referer": c.customerInfoURL(r.ShopID).String()}
	if t := info.confirmForm.Get("csrfmiddlewaretoken"); t != "" {
		headers["X-CSRFToken"] = t
	}
	res, err := c.send(ctx, log, request{
		step: step, label: "customer-confirm-post", method: http.MethodPost,
		url: c.customerConfirmURL(r.ShopID), form: info.confirmForm, jar: info.jar, headers: headers,
	})
	if err != nil {
		return err
	}
	if !isOK(res.status) && !isRedirect(res.status) {
		return reservation.StatusError(step, res.status)
	}
	jar := info.jar.Merge(res.setCookies...)
	res, _, err = c.follow(ctx, log, step, res, jar, c.cfg.MaxRedirects, nil)
	if err != nil {
		return err
	}
	if !isOK(res.status) {
		return reservation.StatusError(step, res.status)
	}

	d := diagnoseConfirm(res)
	log.Info("customer-confirm diagnostics",
		zap.String("final_url", d.FinalURL),
		zap.Bool("redirected", d.Redirected),
		zap.String("title", d.Page.Title),
		zap.Strings("headings", d.Page.Headings),
		zap.Strings("flash_messages", d.Page.Flash),
		zap.Int("form_count", d.Page.FormCount),
		zap.Any("forms", d.Page.Forms),
		zap.Strings("success_hints", d.SuccessHints),
		zap.Strings("failure_hints", d.FailureHints),
		zap.String("likely_result", d.likelyResult()),
	)
	if !d.confirmed() {
		return &reservation.BookingError{
			Kind: reservation.KindUncertain, Step: step, Status: res.status,
			Msg: "could not confirm the booking from the customer-confirm response",
		}
	}
	log.Info("booking confirmed", zap.String("final_url", d.FinalURL))
	return nil
}
