package middleware

import "testing"

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/api/videos/dQw4w9WgXcQ", "/api/videos/:videoId"},
		{"/api/videos/", "/api/videos/"},
		{"/api/sync/run", "/api/sync/run"},
		{"/health/ready", "/health/ready"},
	}
	for _, tt := range tests {
		if got := sanitizePath(tt.in); got != tt.want {
			t.Errorf("sanitizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHashIPForLog(t *testing.T) {
	a := hashIPForLog("10.0.0.1")
	if len(a) != 12 {
		t.Fatalf("hash length = %d, want 12", len(a))
	}
	if a != hashIPForLog("10.0.0.1") {
		t.Error("hash is not deterministic")
	}
	if a == hashIPForLog("10.0.0.2") {
		t.Error("different IPs hash to the same prefix")
	}
}
