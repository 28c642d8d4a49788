package admission

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDefaultKeyFunc(t *testing.T) {
	cases := []struct {
		name       string
		header     string
		trustXFF   bool
		remoteAddr string
		set        map[string]string
		want       string
	}{
		{"header wins", "X-Client", true, "10.0.0.1:1234",
			map[string]string{"X-Client": " robot-7 ", "X-Forwarded-For": "1.2.3.4"}, "robot-7"},
		{"blank header falls back", "X-Client", false, "10.0.0.1:1234",
			map[string]string{"X-Client": "  "}, "10.0.0.1"},
		{"trusted XFF uses first ip", "", true, "10.0.0.9:5555",
			map[string]string{"X-Forwarded-For": "1.2.3.4, 5.6.7.8"}, "1.2.3.4"},
		{"untrusted XFF ignored", "", false, "10.0.0.9:5555",
			map[string]string{"X-Forwarded-For": "1.2.3.4"}, "10.0.0.9"},
		{"garbage XFF ignored", "", true, "10.0.0.9:5555",
			map[string]string{"X-Forwarded-For": "not-an-ip, 1.2.3.4"}, "10.0.0.9"},
		{"ipv6 XFF normalised", "", true, "10.0.0.9:5555",
			map[string]string{"X-Forwarded-For": "2001:DB8::1"}, "2001:db8::1"},
		{"ipv6 remote addr", "", false, "[2001:db8::2]:443", nil, "2001:db8::2"},
		{"remote addr without port", "", false, "10.0.0.3", nil, "10.0.0.3"},
		{"empty remote addr", "", false, "", nil, "unknown"},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodPost, "http://gateway/v1/operations", nil)
		r.RemoteAddr = tc.remoteAddr
		for k, v := range tc.set {
			r.Header.Set(k, v)
		}
		if got := DefaultKeyFunc(tc.header, tc.trustXFF)(r); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}
