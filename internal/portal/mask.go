package portal

import (
	"net/url"
	"sort"
	"strings"
	"unicode/utf8"
)

const previewLimit = 300

var sensitiveFieldParts = []string{"password", "csrf", "email", "phone", "mobile"}

// maskField hides sensitive fields and shortens long values for logs.
func maskField(key, value string) string {
	lower := strings.ToLower(key)
	for _, p := range sensitiveFieldParts {
		if strings.Contains(lower, p) {
			return "***"
		}
	}
	r := []rune(value)
	if len(r) <= 12 {
		return value
	}
	return string(r[:4]) + "..." + string(r[len(r)-2:])
}

func maskForm(form url.Values) map[string]string {
	out := make(map[string]string, len(form))
	for k := range form {
		out[k] = maskField(k, form.Get(k))
	}
	return out
}

func formKeys(form url.Values) []string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func preview(body string) string {
	if len(body) <= previewLimit {
		return body
	}
	cut := previewLimit
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut]
}
