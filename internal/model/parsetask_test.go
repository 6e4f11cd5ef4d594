package model_test

import (
	"testing"

	"github.com/spider-crawler/crawlengine/internal/model"
)

func TestRequiresOCR(t *testing.T) {
	cases := []struct {
		contentType string
		want        bool
	}{
		{"image/png", true},
		{"image/jpeg", true},
		{"application/pdf", true},
		{"text/html", false},
		{"application/json", false},
	}

	for _, c := range cases {
		if got := model.RequiresOCR(c.contentType); got != c.want {
			t.Errorf("RequiresOCR(%q) = %v, want %v", c.contentType, got, c.want)
		}
	}
}

func TestExcludedExtensions_ContainsCommonBinaryTypes(t *testing.T) {
	excluded := model.ExcludedExtensions()
	for _, ext := range []string{".pdf", ".zip", ".png", ".mp4", ".css", ".js"} {
		if _, ok := excluded[ext]; !ok {
			t.Errorf("expected %q to be excluded", ext)
		}
	}
	if _, ok := excluded[".html"]; ok {
		t.Error(".html should not be excluded")
	}
}
