package logx

import "testing"

func TestMask(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", ""},
		{"abc", "***"},
		{"abcdef", "a****f"},
		{"abcdefghijklmnopqrst", "a******************t"},
		{"abcdefghijklmnopqrstu", "abc*****************u"},
	}
	for _, tt := range tests {
		if got := Mask(tt.in); got != tt.want {
			t.Fatalf("Mask(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHeaders(t *testing.T) {
	in := map[string]string{"Authorization": "Bearer abcdefghijklmnop", "Accept": "application/json"}
	out := Headers(in)
	if out["Accept"] != "application/json" {
		t.Fatalf("plain header changed: %v", out)
	}
	if out["Authorization"] == in["Authorization"] || out["Authorization"][0] != 'B' {
		t.Fatalf("authorization not masked: %v", out)
	}
	if in["Authorization"] != "Bearer abcdefghijklmnop" {
		t.Fatalf("input modified")
	}
}
