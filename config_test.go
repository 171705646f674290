package main

import (
	"testing"
)

func TestResolveServerConfig(t *testing.T) {
	timeoutA := 30
	timeoutB := 90
	noMarkdown := false

	cfg := &ConfigFile{
		Servers: map[string]ServerConfig{
			"base": {
				ApiBase: strPtr("https://council.example.com"),
				Timeout: &timeoutA,
				Headers: map[string]string{
					"X-Team":  "research",
					"X-Trace": "off",
				},
			},
			"child": {
				Extend:  &[]string{"base"}[0],
				Timeout: &timeoutB,
				Headers: map[string]string{
					"X-Trace": "on", // Override
					"X-Debug": "1",  // Add
				},
			},
			"grandchild": {
				Extend:   &[]string{"child"}[0],
				Markdown: &noMarkdown,
			},
			"cycle-a": {
				Extend: &[]string{"cycle-b"}[0],
			},
			"cycle-b": {
				Extend: &[]string{"cycle-a"}[0],
			},
		},
	}

	t.Run("Base Config", func(t *testing.T) {
		res, err := resolveServerConfig(cfg, "base")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if *res.Timeout != timeoutA {
			t.Errorf("expected timeout %v, got %v", timeoutA, *res.Timeout)
		}
		if res.Headers["X-Team"] != "research" {
			t.Errorf("expected X-Team=research, got %v", res.Headers["X-Team"])
		}
	})

	t.Run("Child Config", func(t *testing.T) {
		res, err := resolveServerConfig(cfg, "child")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if *res.Timeout != timeoutB {
			t.Errorf("expected timeout %v, got %v", timeoutB, *res.Timeout)
		}
		if *res.ApiBase != "https://council.example.com" {
			t.Errorf("expected inherited api_base, got %v", *res.ApiBase)
		}
		if res.Headers["X-Team"] != "research" {
			t.Errorf("expected inherited X-Team=research, got %v", res.Headers["X-Team"])
		}
		if res.Headers["X-Trace"] != "on" {
			t.Errorf("expected X-Trace=on, got %v", res.Headers["X-Trace"])
		}
		if res.Headers["X-Debug"] != "1" {
			t.Errorf("expected X-Debug=1, got %v", res.Headers["X-Debug"])
		}
	})

	t.Run("Grandchild Config", func(t *testing.T) {
		res, err := resolveServerConfig(cfg, "grandchild")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if *res.Timeout != timeoutB {
			t.Errorf("expected inherited timeout %v, got %v", timeoutB, *res.Timeout)
		}
		if res.Markdown == nil || *res.Markdown {
			t.Errorf("expected markdown disabled, got %v", res.Markdown)
		}
		if len(res.Headers) != 3 {
			t.Errorf("expected 3 merged headers, got %v", res.Headers)
		}
	})

	t.Run("Parent Untouched", func(t *testing.T) {
		if _, err := resolveServerConfig(cfg, "grandchild"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Servers["base"].Headers["X-Trace"] != "off" {
			t.Errorf("merging modified the parent profile: %v", cfg.Servers["base"].Headers)
		}
	})

	t.Run("Unknown Server", func(t *testing.T) {
		res, err := resolveServerConfig(cfg, "missing")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.ApiBase != nil {
			t.Errorf("expected empty config, got %+v", res)
		}
	})

	t.Run("Circular Dependency", func(t *testing.T) {
		_, err := resolveServerConfig(cfg, "cycle-a")
		if err == nil {
			t.Fatal("expected error for circular dependency, got nil")
		}
	})
}
