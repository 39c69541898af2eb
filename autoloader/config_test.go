package autoloader

import "testing"

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.RootMargin != DefaultRootMargin {
		t.Fatalf("expected RootMargin %d, got %d", DefaultRootMargin, cfg.RootMargin)
	}
	if cfg.Extension != DefaultExtension {
		t.Fatalf("expected Extension %q, got %q", DefaultExtension, cfg.Extension)
	}
}

func TestResolveOrder(t *testing.T) {
	cfg := Config{
		BaseURL:        "https://cdn.example.com/",
		ComponentsPath: "components/",
		Extension:      ".js",
		ComponentPaths: map[string]string{
			"widget-card": "/explicit/widget-card.js",
		},
		ResolveComponent: func(kind string) (string, bool) {
			if kind == "widget-banner" {
				return "/resolver/widget-banner.js", true
			}
			return "", false
		},
	}

	t.Run("per-request override wins over everything", func(t *testing.T) {
		got := cfg.Resolve("widget-card", "/override/widget-card.js")
		if got != "/override/widget-card.js" {
			t.Fatalf("expected override location, got %q", got)
		}
	})

	t.Run("custom resolver wins over explicit map and default", func(t *testing.T) {
		got := cfg.Resolve("widget-banner", "")
		if got != "/resolver/widget-banner.js" {
			t.Fatalf("expected resolver location, got %q", got)
		}
	})

	t.Run("explicit component paths win over default", func(t *testing.T) {
		got := cfg.Resolve("widget-card", "")
		if got != "/explicit/widget-card.js" {
			t.Fatalf("expected explicit mapping, got %q", got)
		}
	})

	t.Run("falls back to the default template", func(t *testing.T) {
		got := cfg.Resolve("widget-gauge", "")
		want := "https://cdn.example.com/components/widget-gauge.js"
		if got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	})

	t.Run("default template uses DefaultExtension when Extension is empty", func(t *testing.T) {
		bare := Config{BaseURL: "/", ComponentsPath: ""}
		got := bare.Resolve("widget-gauge", "")
		want := "/widget-gauge" + DefaultExtension
		if got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	})
}
