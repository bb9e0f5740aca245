package target

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name       string
		descriptor string
		want       Target
	}{
		{"simple", "build01:webapp", Target{Host: "build01", Container: "webapp"}},
		{"fqdn host", "lxc01.example.com:db", Target{Host: "lxc01.example.com", Container: "db"}},
		{"user", "deploy@build01:webapp", Target{Host: "build01", User: "deploy", Container: "webapp"}},
		{"embedded port", "build01:2222:webapp", Target{Host: "build01", Port: 2222, Container: "webapp"}},
		{"user and port", "deploy@lxc01.example.com:22:webapp", Target{Host: "lxc01.example.com", User: "deploy", Port: 22, Container: "webapp"}},
		{"local host", "local:webapp", Target{Host: "local", Container: "webapp"}},
		{"container with dots and dashes", "build01:web-app.v2", Target{Host: "build01", Container: "web-app.v2"}},
		{"underscore host", "host_lxc:container_name", Target{Host: "host_lxc", Container: "container_name"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.descriptor)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.descriptor, got, tt.want)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	descriptors := []string{
		"build01:webapp",
		"deploy@build01:webapp",
		"build01:2222:webapp",
		"deploy@lxc01.example.com:22:webapp",
	}

	for _, d := range descriptors {
		tgt, err := Parse(d)
		if err != nil {
			t.Fatalf("Parse(%q): %v", d, err)
		}
		if got := tgt.String(); got != d {
			t.Errorf("round trip of %q produced %q", d, got)
		}
	}
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name       string
		descriptor string
	}{
		{"no colon", "build01"},
		{"empty container", "build01:"},
		{"empty host", ":webapp"},
		{"empty string", ""},
		{"empty user", "@build01:webapp"},
		{"non-numeric port", "build01:ssh:webapp"},
		{"port out of range", "build01:99999:webapp"},
		{"container with space", "build01:web app"},
		{"container with semicolon", "build01:web;rm"},
		{"container with dollar", "build01:web$HOME"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.descriptor)
			if err == nil {
				t.Fatalf("Parse(%q) succeeded, expected error", tt.descriptor)
			}
			var mtErr *MalformedTargetError
			if !errors.As(err, &mtErr) {
				t.Errorf("expected *MalformedTargetError, got %T", err)
			}
		})
	}
}

func TestLocal(t *testing.T) {
	tgt, err := Parse("local:webapp")
	if err != nil {
		t.Fatal(err)
	}
	if !tgt.Local() {
		t.Error("expected local target")
	}

	tgt, err = Parse("build01:webapp")
	if err != nil {
		t.Fatal(err)
	}
	if tgt.Local() {
		t.Error("expected remote target")
	}
}
