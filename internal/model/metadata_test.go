package model_test

import (
	"testing"

	"github.com/spider-crawler/crawlengine/internal/model"
)

func TestTags_WithAndGet(t *testing.T) {
	tags := model.Tags{}.
		WithFlag("seed_url").
		With("job_id", "abc-123").
		With("link_depth", "0")

	if !tags.Has("seed_url") {
		t.Error("expected seed_url flag to be present")
	}
	if v, ok := tags.Get("job_id"); !ok || v != "abc-123" {
		t.Errorf("job_id = %q, %v; want %q, true", v, ok, "abc-123")
	}
	if v, ok := tags.Get("link_depth"); !ok || v != "0" {
		t.Errorf("link_depth = %q, %v; want %q, true", v, ok, "0")
	}
	if _, ok := tags.Get("missing"); ok {
		t.Error("expected missing key to be absent")
	}
}

func TestTags_With_DoesNotMutateReceiver(t *testing.T) {
	base := model.Tags{}.With("a", "1")
	extended := base.With("b", "2")

	if len(base) != 1 {
		t.Errorf("base grew to len %d, want 1", len(base))
	}
	if len(extended) != 2 {
		t.Errorf("extended len %d, want 2", len(extended))
	}
}

func TestMetadata_JobIDAndLinkDepth(t *testing.T) {
	meta := model.Metadata{Tags: model.Tags{"job_id:job-9", "link_depth:3"}}

	if meta.JobID() != "job-9" {
		t.Errorf("JobID() = %q, want %q", meta.JobID(), "job-9")
	}
	if meta.LinkDepth() != 3 {
		t.Errorf("LinkDepth() = %d, want 3", meta.LinkDepth())
	}
}

func TestMetadata_LinkDepth_DefaultsToZero(t *testing.T) {
	meta := model.Metadata{}
	if meta.LinkDepth() != 0 {
		t.Errorf("LinkDepth() = %d, want 0 for seed metadata with no tag", meta.LinkDepth())
	}
}
