package portal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeCookieHeader(t *testing.T) {
	tests := []struct {
		name      string
		current   string
		setCookie string
		want      string
	}{
		{
			name:      "updates keys and keeps order",
			current:   "csrftoken=A; sessionid=X",
			setCookie: "csrftoken=B; Path=/, sessionid=Y; Path=/",
			want:      "csrftoken=B; sessionid=Y",
		},
		{
			name:      "keeps unrelated keys and appends new ones",
			current:   "csrftoken=old-csrf; booking-prod=old-booking",
			setCookie: "booking-prod=new-booking; Path=/; HttpOnly, sessionid=new-session; Path=/",
			want:      "csrftoken=old-csrf; booking-prod=new-booking; sessionid=new-session",
		},
		{
			name:      "empty current",
			current:   "",
			setCookie: "sessionid=abc; Path=/",
			want:      "sessionid=abc",
		},
		{
			name:      "expires attribute with comma",
			current:   "a=1",
			setCookie: "b=2; Expires=Wed, 21 Oct 2015 07:28:00 GMT; Path=/, c=3",
			want:      "a=1; b=2; c=3",
		},
		{
			name:      "empty value keeps the prior one",
			current:   "csrftoken=A; sessionid=X",
			setCookie: "sessionid=; Max-Age=0; Path=/, csrftoken=B; Path=/, messages=; Path=/",
			want:      "csrftoken=B; sessionid=X",
		},
		{
			name:      "value containing equals",
			current:   "",
			setCookie: "messages=abc==:xyz; Path=/",
			want:      "messages=abc==:xyz",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MergeCookieHeader(tt.current, tt.setCookie))
		})
	}
}

func TestJarMergeIsImmutable(t *testing.T) {
	base := ParseJar("a=1")
	merged := base.Merge("a=2", "b=3")

	assert.Equal(t, "a=1", base.Header())
	assert.Equal(t, "a=2; b=3", merged.Header())
	assert.Equal(t, []string{"a", "b"}, merged.Names())
}

func TestSplitSetCookie(t *testing.T) {
	got := SplitSetCookie("csrftoken=B; Path=/, sessionid=Y; Path=/; Expires=Thu, 01 Jan 2026 00:00:00 GMT")
	assert.Equal(t, []string{
		"csrftoken=B; Path=/",
		"sessionid=Y; Path=/; Expires=Thu, 01 Jan 2026 00:00:00 GMT",
	}, got)
}

func TestExtractCookieHeader(t *testing.T) {
	assert.Equal(t, "csrftoken=tok; sessionid=sid",
		ExtractCookieHeader("csrftoken=tok; Path=/; SameSite=Lax, sessionid=sid; HttpOnly"))
	assert.Equal(t, "", ExtractCookieHeader(""))
}
