package channel

import "testing"

func TestEndpointBaseURL(t *testing.T) {
	tests := []struct {
		in   Endpoint
		base string
		host string
	}{
		{"1.2.3.4:8080", "http://1.2.3.4:8080", "1.2.3.4:8080"},
		{"http://1.2.3.4:8080/", "http://1.2.3.4:8080", "1.2.3.4:8080"},
		{" https://example.com ", "https://example.com", "example.com"},
		{"", "", ""},
	}
	for _, tt := range tests {
		if got := tt.in.BaseURL(); got != tt.base {
			t.Errorf("BaseURL(%q) = %q, want %q", tt.in, got, tt.base)
		}
		if got := tt.in.Host(); got != tt.host {
			t.Errorf("Host(%q) = %q, want %q", tt.in, got, tt.host)
		}
	}
}

func TestEndpoints_dedupKeepsOrder(t *testing.T) {
	got := Endpoints([]string{"b:1", "a:2", "http://b:1", "", "  ", "a:2"})
	if len(got) != 2 || got[0] != "b:1" || got[1] != "a:2" {
		t.Errorf("Endpoints = %v", got)
	}
}

func TestParseResolution(t *testing.T) {
	tests := []struct {
		in   string
		want Resolution
	}{
		{"1920x1080", Resolution{1920, 1080}},
		{"1280X720", Resolution{1280, 720}},
		{"0x0", Resolution{}},
		{"0xx", Resolution{}},
		{"wide", Resolution{}},
		{"", Resolution{}},
		{"-1x5", Resolution{}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseResolution(tt.in); got != tt.want {
				t.Errorf("ParseResolution(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
	if a := (Resolution{1920, 1080}).Area(); a != 1920*1080 {
		t.Errorf("Area = %d", a)
	}
	if (Resolution{0, 1080}).Known() {
		t.Error("0x1080 should not be known")
	}
}
