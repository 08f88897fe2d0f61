package services_test

import (
	"errors"
	"strings"
	"testing"

	"dubber/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrMux, "remux", "ffmpeg", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrMux) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"remux", "ffmpeg", "failed", "boom"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected placeholder detail, got %q", err.Error())
	}
}

func TestDetailsClassifiesMarker(t *testing.T) {
	err := services.Wrap(services.ErrTranslation, "translate", "openai", "empty transcript", nil)
	details := services.Details(err)
	if details.Kind != services.ErrTranslation.Error() {
		t.Fatalf("unexpected kind %q", details.Kind)
	}
	if !strings.Contains(details.Message, "empty transcript") {
		t.Fatalf("unexpected message %q", details.Message)
	}

	plain := services.Details(errors.New("plain"))
	if plain.Kind != "" {
		t.Fatalf("expected no kind for plain error, got %q", plain.Kind)
	}
	if services.Details(nil) != (services.ErrorDetails{}) {
		t.Fatal("expected zero details for nil error")
	}
}
