package portal

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/example/courtres/internal/reservation"
	"github.com/example/courtres/internal/retry"
)

const (
	testShop     = "3094"
	loginPath    = "/r/shop/3094/member/login/"
	slotPath     = "/r/booking/rental/shop/3094/facility/479/20260213-1500-1600/customer-type/"
	infoPath     = "/r/booking/rental/shop/3094/customer-info/"
	confirmPath  = "/r/booking/rental/shop/3094/customer-confirm/"
	finishPath   = "/r/booking/rental/finish/9876/"
	calendarPath = "/r/shop/3094/calendar/?date=2026-02-13"
)

const loginPageHTML = `<html><head><title>メンバーログイン - LaBOLA総合予約</title></head><body>
<form method="post"><input type="hidden" name="csrfmiddlewaretoken" value="csrf-login">
<input type="text" name="membership_code"><input type="password" name="password"></form></body></html>`

const slotPageHTML = `<html><body><form method="post" action="` + infoPath + `">
<input type="hidden" name="csrfmiddlewaretoken" value="csrf-slot">
<input type="text" name="name" value="">
<input type="text" name="display_name" value="Taro">
<input type="email" name="email" value="">
<select name="member_count"><option value="">-</option><option value="2">2</option><option value="4" selected>4</option></select>
<input type="submit" name="submit_member" value="予約する">
</form></body></html>`

const infoResponseHTML = `<html><body><h1>予約内容の確認</h1><form method="post" action="` + confirmPath + `">
<input type="hidden" name="csrfmiddlewaretoken" value="csrf-info">
<input type="hidden" name="reserve_key" value="rk-1">
<input type="submit" name="submit_ok" value="申込む">
</form></body></html>`

const finishHTML = `<html><head><title>予約完了</title></head><body><h1>予約が完了しました</h1><p>予約番号: 123</p></body></html>`

type recorder struct {
	mu      sync.Mutex
	hits    map[string]int
	forms   map[string]url.Values
	cookies map[string]string
	headers map[string]http.Header
}

func (r *recorder) record(req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := req.Method + " " + req.URL.Path
	r.hits[key]++
	r.cookies[key] = req.Header.Get("Cookie")
	r.headers[key] = req.Header.Clone()
	if req.Method == http.MethodPost {
		_ = req.ParseForm()
		r.forms[key] = req.PostForm
	}
}

func (r *recorder) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hits[key]
}

// newPortal serves a happy-path booking conversation; overrides replace the
// handler for "METHOD /path" keys.
func newPortal(t *testing.T, overrides map[string]http.HandlerFunc) (*httptest.Server, *recorder) {
	t.Helper()
	rec := &recorder{hits: map[string]int{}, forms: map[string]url.Values{}, cookies: map[string]string{}, headers: map[string]http.Header{}}
	defaults := map[string]http.HandlerFunc{
		"GET " + loginPath: func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Set-Cookie", "csrftoken=cookie-csrf; Path=/; SameSite=Lax")
			fmt.Fprint(w, loginPageHTML)
		},
		"POST " + loginPath: func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Set-Cookie", "sessionid=sid-1; Path=/; HttpOnly")
			http.Redirect(w, r, "/r/mypage/", http.StatusFound)
		},
		"GET /r/mypage/": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Set-Cookie", "booking-prod=bp-1; Path=/")
			fmt.Fprint(w, "<html><body>mypage</body></html>")
		},
		"GET " + slotPath: func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, slotPageHTML)
		},
		"POST " + infoPath: func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Set-Cookie", "messages=abc; Path=/")
			fmt.Fprint(w, infoResponseHTML)
		},
		"POST " + confirmPath: func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, finishPath, http.StatusFound)
		},
		"GET " + finishPath: func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, finishHTML)
		},
	}
	for k, h := range overrides {
		defaults[k] = h
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		h, ok := defaults[r.Method+" "+r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func newTestClient(t *testing.T, baseURL string, mutate func(*Config)) *Client {
	t.Helper()
	cfg := Config{
		BaseURL:  baseURL,
		Username: "member-001",
		Password: "secret-pass",
		Customer: Customer{Name: "山田太郎", Email: "taro@example.com", MobileNumber: "09012345678", Address: "Tokyo"},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	return c
}

var (
	testParams = reservation.Params{FacilityID: 1, CourtNo: 1, Date: "2026-02-13", StartTime: "15:00", EndTime: "16:00"}
	testRoute  = reservation.Route{ShopID: testShop, CourtCode: "479"}
)

func TestBook_Success(t *testing.T) {
	srv, rec := newPortal(t, nil)
	c := newTestClient(t, srv.URL, nil)

	require.NoError(t, c.Book(context.Background(), "r-1", testParams, testRoute))

	login := rec.forms["POST "+loginPath]
	assert.Equal(t, "member-001", login.Get("membership_code"))
	assert.Equal(t, "secret-pass", login.Get("password"))
	assert.Equal(t, "397", login.Get("member_type_id"))
	assert.Equal(t, "csrf-login", login.Get("csrfmiddlewaretoken"))
	lh := rec.headers["POST "+loginPath]
	assert.Equal(t, "csrf-login", lh.Get("X-CSRFToken"))
	assert.Equal(t, srv.URL+loginPath, lh.Get("Referer"))
	assert.Equal(t, srv.URL, lh.Get("Origin"))
	assert.Equal(t, "ja,en;q=0.9", lh.Get("Accept-Language"))
	assert.Equal(t, DefaultUserAgent, lh.Get("User-Agent"))
	assert.Equal(t, "csrftoken=cookie-csrf", rec.cookies["POST "+loginPath])

	assert.Equal(t, "csrftoken=cookie-csrf; sessionid=sid-1; booking-prod=bp-1", rec.cookies["GET "+slotPath])

	info := rec.forms["POST "+infoPath]
	assert.Equal(t, "2026-02-13", info.Get("hold_on_at"))
	assert.Equal(t, "1500", info.Get("start"))
	assert.Equal(t, "1600", info.Get("end"))
	assert.Equal(t, "front", info.Get("payment_method"))
	assert.Equal(t, "予約内容の確認", info.Get("submit_conf"))
	assert.Equal(t, "山田太郎", info.Get("name"))
	assert.Equal(t, "Taro", info.Get("display_name"), "page value beats fallback")
	assert.Equal(t, "taro@example.com", info.Get("email"))
	assert.Equal(t, "taro@example.com", info.Get("email_confirm"))
	assert.Equal(t, "4", info.Get("member_count"))
	assert.Equal(t, "csrf-slot", rec.headers["POST "+infoPath].Get("X-CSRFToken"))

	confirm := rec.forms["POST "+confirmPath]
	assert.Equal(t, "申込む", confirm.Get("submit_ok"))
	assert.Equal(t, "rk-1", confirm.Get("reserve_key"))
	assert.Equal(t, "csrf-info", confirm.Get("csrfmiddlewaretoken"))
	assert.Equal(t, "csrftoken=cookie-csrf; sessionid=sid-1; booking-prod=bp-1; messages=abc", rec.cookies["POST "+confirmPath])
	assert.Equal(t, 1, rec.count("GET "+finishPath))
}

func TestBook_LoginRedirectAcrossHosts(t *testing.T) {
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Set-Cookie", "labola-session=ls-1; Domain=.labola.jp; Path=/")
		fmt.Fprint(w, "ok")
	}))
	t.Cleanup(other.Close)

	srv, rec := newPortal(t, map[string]http.HandlerFunc{
		"POST " + loginPath: func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Set-Cookie", "sessionid=sid-2; Path=/")
			http.Redirect(w, r, other.URL+"/r/mypage/", http.StatusMovedPermanently)
		},
	})
	c := newTestClient(t, srv.URL, nil)

	require.NoError(t, c.Book(context.Background(), "r-1", testParams, testRoute))
	assert.Equal(t, "csrftoken=cookie-csrf; sessionid=sid-2; labola-session=ls-1", rec.cookies["GET "+slotPath])
}

func TestBook_LoginFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		kind    reservation.ErrorKind
		class   retry.Class
	}{
		{
			name:    "upstream 503",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) },
			kind:    reservation.KindUpstream,
			class:   retry.ClassRetryable,
		},
		{
			name:    "forbidden",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusForbidden) },
			kind:    reservation.KindRejected,
			class:   retry.ClassFatal,
		},
		{
			name: "invalid credentials marker",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `<ul class="errorlist"><li>会員IDまたはパスワードが正しくありません</li></ul>`)
			},
			kind:  reservation.KindInvalidCredentials,
			class: retry.ClassFatal,
		},
		{
			name: "returned to login page",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, loginPageHTML)
			},
			kind:  reservation.KindInvalidCredentials,
			class: retry.ClassFatal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, rec := newPortal(t, map[string]http.HandlerFunc{"POST " + loginPath: tt.handler})
			c := newTestClient(t, srv.URL, nil)

			err := c.Book(context.Background(), "r-1", testParams, testRoute)
			require.Error(t, err)
			assert.True(t, reservation.IsKind(err, tt.kind), "got %v", err)
			assert.Equal(t, tt.class, retry.Classify(err))
			assert.Zero(t, rec.count("GET "+slotPath))
		})
	}
}

func TestBook_MissingCredentials(t *testing.T) {
	srv, rec := newPortal(t, nil)
	c := newTestClient(t, srv.URL, func(cfg *Config) { cfg.Password = "" })

	err := c.Book(context.Background(), "r-1", testParams, testRoute)
	assert.True(t, reservation.IsKind(err, reservation.KindConfig))
	assert.Zero(t, rec.count("GET "+loginPath))
}

func TestBook_NetworkErrorIsRetryable(t *testing.T) {
	srv, _ := newPortal(t, nil)
	base := srv.URL
	srv.Close()
	c := newTestClient(t, base, nil)

	err := c.Book(context.Background(), "r-1", testParams, testRoute)
	require.Error(t, err)
	assert.True(t, reservation.IsKind(err, reservation.KindNetwork))
	assert.True(t, retry.IsRetryable(err))
}

func TestBook_SlotUnavailable(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		reason  string
	}{
		{
			name: "already reserved",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `<p class="error">すでに予約済みです</p>`)
			},
			reason: reservation.ReasonAlreadyReserved,
		},
		{
			name: "not open for members",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `<p>今現在メンバーの予約は受け付けておりません</p>`)
			},
			reason: reservation.ReasonNotOpen,
		},
		{
			name: "redirect to calendar",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, calendarPath, http.StatusFound)
			},
			reason: reservation.ReasonCalendarRedirect,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, rec := newPortal(t, map[string]http.HandlerFunc{"GET " + slotPath: tt.handler})
			c := newTestClient(t, srv.URL, nil)

			err := c.Book(context.Background(), "r-1", testParams, testRoute)
			require.Error(t, err)
			assert.True(t, retry.IsTerminalBookingFailure(err), "got %v", err)
			var be *reservation.BookingError
			require.ErrorAs(t, err, &be)
			assert.Equal(t, tt.reason, be.Reason)
			assert.Zero(t, rec.count("POST "+infoPath), "customer-info must not be submitted")
		})
	}
}

func TestBook_SlotPageEdgeCases(t *testing.T) {
	t.Run("redirect to customer-info is followed", func(t *testing.T) {
		srv, rec := newPortal(t, map[string]http.HandlerFunc{
			"GET " + slotPath: func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, infoPath, http.StatusFound)
			},
			"GET " + infoPath: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, slotPageHTML)
			},
		})
		c := newTestClient(t, srv.URL, nil)

		require.NoError(t, c.Book(context.Background(), "r-1", testParams, testRoute))
		assert.Equal(t, 1, rec.count("GET "+infoPath))
		assert.Equal(t, 1, rec.count("POST "+infoPath))
	})

	t.Run("redirect without location", func(t *testing.T) {
		srv, _ := newPortal(t, map[string]http.HandlerFunc{
			"GET " + slotPath: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusFound) },
		})
		c := newTestClient(t, srv.URL, nil)

		err := c.Book(context.Background(), "r-1", testParams, testRoute)
		assert.True(t, reservation.IsKind(err, reservation.KindMalformed), "got %v", err)
		assert.Equal(t, retry.ClassFatal, retry.Classify(err))
	})

	t.Run("login required", func(t *testing.T) {
		srv, _ := newPortal(t, map[string]http.HandlerFunc{
			"GET " + slotPath: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `<form><input type="submit" name="submit_member" value="ログインして予約"></form>`)
			},
		})
		c := newTestClient(t, srv.URL, nil)

		err := c.Book(context.Background(), "r-1", testParams, testRoute)
		var be *reservation.BookingError
		require.ErrorAs(t, err, &be)
		assert.Equal(t, reservation.KindInvalidCredentials, be.Kind)
		assert.Equal(t, reservation.ReasonLoginRequired, be.Reason)
	})

	t.Run("server error is retryable", func(t *testing.T) {
		srv, _ := newPortal(t, map[string]http.HandlerFunc{
			"GET " + slotPath: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) },
		})
		c := newTestClient(t, srv.URL, nil)

		err := c.Book(context.Background(), "r-1", testParams, testRoute)
		assert.True(t, retry.IsRetryable(err), "got %v", err)
	})
}

func TestBook_CustomerInfoFailures(t *testing.T) {
	t.Run("5xx is retryable", func(t *testing.T) {
		srv, rec := newPortal(t, map[string]http.HandlerFunc{
			"POST " + infoPath: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) },
		})
		c := newTestClient(t, srv.URL, nil)

		err := c.Book(context.Background(), "r-1", testParams, testRoute)
		var be *reservation.BookingError
		require.ErrorAs(t, err, &be)
		assert.Equal(t, reservation.StepCustomerInfo, be.Step)
		assert.Equal(t, http.StatusBadGateway, be.Status)
		assert.True(t, retry.IsRetryable(err))
		assert.Zero(t, rec.count("POST "+confirmPath))
	})

	t.Run("already reserved flash cookie", func(t *testing.T) {
		srv, _ := newPortal(t, map[string]http.HandlerFunc{
			"POST " + infoPath: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Add("Set-Cookie", `messages="[[\"__json_message\"\0540\05440\054\"\\u3059\\u3067\\u306b\\u4e88\\u7d04\\u6e08\\u307f\\u3067\\u3059\"]]"; Path=/`)
				fmt.Fprint(w, infoResponseHTML)
			},
		})
		c := newTestClient(t, srv.URL, nil)

		err := c.Book(context.Background(), "r-1", testParams, testRoute)
		assert.True(t, retry.IsTerminalBookingFailure(err), "got %v", err)
	})

	t.Run("calendar page returned", func(t *testing.T) {
		srv, _ := newPortal(t, map[string]http.HandlerFunc{
			"POST " + infoPath: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `<title>空き情報・予約 - LaBOLA総合予約</title>`)
			},
		})
		c := newTestClient(t, srv.URL, nil)

		err := c.Book(context.Background(), "r-1", testParams, testRoute)
		assert.True(t, retry.IsTerminalBookingFailure(err), "got %v", err)
	})

	t.Run("missing cookie", func(t *testing.T) {
		srv, rec := newPortal(t, map[string]http.HandlerFunc{
			"GET " + loginPath: func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, loginPageHTML) },
			"POST " + loginPath: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, "<html><body>welcome</body></html>")
			},
		})
		c := newTestClient(t, srv.URL, nil)

		err := c.Book(context.Background(), "r-1", testParams, testRoute)
		assert.True(t, reservation.IsKind(err, reservation.KindMalformed), "got %v", err)
		assert.Zero(t, rec.count("POST "+infoPath))
	})
}

func TestBook_ConfirmOutcome(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr bool
	}{
		{
			name: "success hints without forms",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `<h1>ご予約ありがとうございます</h1><p>受付番号 42</p>`)
			},
		},
		{
			name: "form page without hints is uncertain",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, infoResponseHTML)
			},
			wantErr: true,
		},
		{
			name: "mixed hints without finish url",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `<p>予約完了</p><p>エラー</p>`)
			},
			wantErr: true,
		},
		{
			name: "finish url with failure hint",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, "/r/booking/rental/finish/err/", http.StatusFound)
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newPortal(t, map[string]http.HandlerFunc{
				"POST " + confirmPath: tt.handler,
				"GET /r/booking/rental/finish/err/": func(w http.ResponseWriter, r *http.Request) {
					fmt.Fprint(w, `<p>すでに予約済みのため処理できません</p>`)
				},
			})
			c := newTestClient(t, srv.URL, nil)

			err := c.Book(context.Background(), "r-1", testParams, testRoute)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, reservation.IsUncertain(err), "got %v", err)
			assert.Equal(t, retry.ClassFatal, retry.Classify(err))
		})
	}
}

func TestBook_Modes(t *testing.T) {
	t.Run("login only", func(t *testing.T) {
		srv, rec := newPortal(t, nil)
		c := newTestClient(t, srv.URL, func(cfg *Config) { cfg.LoginOnly = true })

		require.NoError(t, c.Book(context.Background(), "r-1", testParams, testRoute))
		assert.Equal(t, 1, rec.count("POST "+loginPath))
		assert.Zero(t, rec.count("GET "+slotPath))
	})

	t.Run("dry run", func(t *testing.T) {
		srv, rec := newPortal(t, nil)
		c := newTestClient(t, srv.URL, func(cfg *Config) { cfg.DryRun = true; cfg.Diagnostics = true })

		require.NoError(t, c.Book(context.Background(), "r-1", testParams, testRoute))
		assert.Equal(t, 1, rec.count("POST "+infoPath))
		assert.Zero(t, rec.count("POST "+confirmPath))
	})
}

func TestCustomerInfoFormEmailConfirmFallback(t *testing.T) {
	c := newTestClient(t, "http://portal.test", func(cfg *Config) { cfg.Customer = Customer{} })

	form := c.customerInfoForm(map[string]string{"email": "page@example.com", "payment_method": "card"}, testParams)
	assert.Equal(t, "page@example.com", form.Get("email_confirm"))
	assert.Equal(t, "card", form.Get("payment_method"))
	_, ok := form["mobile_number"]
	assert.True(t, ok, "fallback keys are always present")
}

func TestBookingURLs(t *testing.T) {
	c := newTestClient(t, "https://yoyaku.labola.jp", nil)
	assert.Equal(t, "https://yoyaku.labola.jp"+slotPath, c.slotURL(testParams, testRoute).String())
	assert.Equal(t, "https://yoyaku.labola.jp"+loginPath, c.loginURL(testShop).String())
}

func TestCheckLogin(t *testing.T) {
	srv, rec := newPortal(t, nil)
	c := newTestClient(t, srv.URL, nil)

	names, err := c.CheckLogin(context.Background(), testShop)
	require.NoError(t, err)
	assert.Equal(t, []string{"csrftoken", "sessionid", "booking-prod"}, names)
	assert.Zero(t, rec.count("GET "+slotPath))
}
