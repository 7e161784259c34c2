package attach

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/agentdeck/agentdeck/internal/api"
)

func stageTempFile(t *testing.T, name, content string) *Staged {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	staged, err := StageFile(path)
	if err != nil {
		t.Fatalf("stage file: %v", err)
	}
	return staged
}

type fakeUploader struct {
	calls    atomic.Int64
	failName string
}

func (f *fakeUploader) Upload(ctx context.Context, name, contentType string, r io.Reader) (*api.UploadResult, error) {
	f.calls.Add(1)
	if name == f.failName {
		return nil, errors.New("boom")
	}
	if _, err := io.ReadAll(r); err != nil {
		return nil, err
	}
	return &api.UploadResult{ArtifactID: "ref-" + name, Filename: name}, nil
}

func TestStagerSnapshotIsCopy(t *testing.T) {
	s := NewStager()
	a := stageTempFile(t, "a.txt", "a")
	b := stageTempFile(t, "b.txt", "b")
	s.Add(a)
	s.Add(b)

	snap := s.Snapshot()
	s.Remove(0)
	s.Clear()
	if len(snap) != 2 || snap[0] != a || snap[1] != b {
		t.Fatalf("snapshot corrupted by later mutations: %v", snap)
	}
	if s.Len() != 0 {
		t.Fatalf("stager not empty after clear: %d", s.Len())
	}
}

func TestStagerRemoveOutOfRange(t *testing.T) {
	s := NewStager()
	s.Add(stageTempFile(t, "a.txt", "a"))
	s.Remove(-1)
	s.Remove(5)
	if s.Len() != 1 {
		t.Fatalf("out-of-range remove mutated the list: %d", s.Len())
	}
}

func TestResolveOnce(t *testing.T) {
	up := &fakeUploader{}
	r := NewResolver(up)
	staged := stageTempFile(t, "report.txt", "data")

	att, err := r.Resolve(context.Background(), staged)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if att.Reference != "ref-report.txt" || att.Name != "report.txt" || att.ID == "" {
		t.Fatalf("attachment = %+v", att)
	}

	_, err = r.Resolve(context.Background(), staged)
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("second resolve err = %v, want ErrAlreadyResolved", err)
	}
	if n := up.calls.Load(); n != 1 {
		t.Fatalf("uploader called %d times, want 1", n)
	}
}

func TestResolveAll(t *testing.T) {
	up := &fakeUploader{}
	r := NewResolver(up)
	staged := []*Staged{
		stageTempFile(t, "a.txt", "a"),
		stageTempFile(t, "b.txt", "b"),
		stageTempFile(t, "c.txt", "c"),
	}

	atts, err := r.ResolveAll(context.Background(), staged)
	if err != nil {
		t.Fatalf("resolve all: %v", err)
	}
	if len(atts) != 3 {
		t.Fatalf("got %d attachments, want 3", len(atts))
	}
	// Results keep input order despite concurrent uploads.
	for i, att := range atts {
		want := fmt.Sprintf("ref-%s", staged[i].Name)
		if att.Reference != want {
			t.Errorf("attachment %d reference = %q, want %q", i, att.Reference, want)
		}
	}
}

func TestResolveAllAbortsOnFailure(t *testing.T) {
	up := &fakeUploader{failName: "b.txt"}
	r := NewResolver(up)
	staged := []*Staged{
		stageTempFile(t, "a.txt", "a"),
		stageTempFile(t, "b.txt", "b"),
	}

	atts, err := r.ResolveAll(context.Background(), staged)
	if err == nil {
		t.Fatal("expected failure")
	}
	if atts != nil {
		t.Fatalf("got partial results %v, want none", atts)
	}
	var ue *UploadError
	if !errors.As(err, &ue) || ue.Name != "b.txt" {
		t.Fatalf("err = %v, want UploadError for b.txt", err)
	}
}

func TestResolveAllEmpty(t *testing.T) {
	r := NewResolver(&fakeUploader{})
	atts, err := r.ResolveAll(context.Background(), nil)
	if err != nil || atts != nil {
		t.Fatalf("got %v, %v", atts, err)
	}
}

func TestStageFileRejectsDirectory(t *testing.T) {
	if _, err := StageFile(t.TempDir()); err == nil {
		t.Fatal("expected error staging a directory")
	}
}
