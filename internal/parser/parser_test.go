package parser_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spider-crawler/crawlengine/internal/parser"
)

func TestExtractHTMLLinks_AnchorHrefsResolvedAgainstBase(t *testing.T) {
	body := []byte(`<html><body>
		<a href="/relative">rel</a>
		<a href="https://other.example.com/abs">abs</a>
	</body></html>`)

	links, err := parser.ExtractHTMLLinks(body, "https://example.com/page")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]bool{
		"https://example.com/relative":    false,
		"https://other.example.com/abs":   false,
	}
	for _, l := range links {
		if l.Type != "link" {
			t.Errorf("unexpected link type %q for %q", l.Type, l.URL)
		}
		if _, ok := want[l.URL]; ok {
			want[l.URL] = true
		} else {
			t.Errorf("unexpected URL discovered: %q", l.URL)
		}
	}
	for u, found := range want {
		if !found {
			t.Errorf("expected %q to be discovered", u)
		}
	}
}

func TestExtractHTMLLinks_FormActionDiscovered(t *testing.T) {
	body := []byte(`<html><body><form action="/search">` +
		`<input type="text"></form></body></html>`)

	links, err := parser.ExtractHTMLLinks(body, "https://example.com/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found := false
	for _, l := range links {
		if l.Type == "form" && l.URL == "https://example.com/search" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a form link to https://example.com/search, got %+v", links)
	}
}

func TestExtractHTMLLinks_ImageWrappedInAnchor(t *testing.T) {
	body := []byte(`<html><body><a href="/gallery/full"><img src="/gallery/thumb.jpg"></a></body></html>`)

	links, err := parser.ExtractHTMLLinks(body, "https://example.com/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sawLink, sawImageLink bool
	for _, l := range links {
		if l.URL != "https://example.com/gallery/full" {
			continue
		}
		switch l.Type {
		case "link":
			sawLink = true
		case "image_link":
			sawImageLink = true
		}
	}
	if !sawLink || !sawImageLink {
		t.Errorf("expected both link and image_link entries for the anchor-wrapped image, got %+v", links)
	}
}

func TestExtractHTMLLinks_InvalidBaseURL(t *testing.T) {
	if _, err := parser.ExtractHTMLLinks([]byte(`<a href="/x">x</a>`), "://not-a-url"); err == nil {
		t.Error("expected an error for an unparsable base URL")
	}
}

func TestExtractURLsFromText(t *testing.T) {
	text := "Contact us at https://example.com/contact or see https://example.com/about-us.html for more."

	links := parser.ExtractURLsFromText(text)
	if len(links) != 2 {
		t.Fatalf("got %d links, want 2: %+v", len(links), links)
	}
	for _, l := range links {
		if l.Type != "ocr_extracted" {
			t.Errorf("unexpected type %q", l.Type)
		}
	}
}

func TestExtractURLsFromText_NoMatches(t *testing.T) {
	if links := parser.ExtractURLsFromText("no urls in this sentence"); len(links) != 0 {
		t.Errorf("expected no links, got %+v", links)
	}
}

func TestNoOCR_AlwaysFails(t *testing.T) {
	_, err := parser.NoOCR{}.ExtractText(context.Background(), []byte("x"), "image/png")
	if err == nil {
		t.Error("expected NoOCR to return an error")
	}
}

func TestOCRPool_BoundsConcurrency(t *testing.T) {
	pool := parser.NewOCRPool(1)

	release := make(chan struct{})
	started := make(chan struct{}, 1)

	go func() {
		pool.Run(context.Background(), func() (string, error) {
			started <- struct{}{}
			<-release
			return "first", nil
		})
	}()

	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := pool.Run(ctx, func() (string, error) {
		return "second", nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected the second Run to time out waiting for the single slot, got %v", err)
	}

	close(release)
}
