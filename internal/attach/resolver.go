package attach

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/agentdeck/agentdeck/internal/api"
	"github.com/agentdeck/agentdeck/internal/conversation"
)

// ErrAlreadyResolved reports an attempt to resolve the same staged file
// instance twice.
var ErrAlreadyResolved = errors.New("attachment already resolved")

// UploadError reports that one attachment failed to resolve. It carries the
// file name so the failure can be attributed.
type UploadError struct {
	Name string
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.Name, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Uploader is the slice of the backend client the resolver needs.
type Uploader interface {
	Upload(ctx context.Context, name, contentType string, r io.Reader) (*api.UploadResult, error)
}

// Resolver turns staged files into resolved attachments, one upload per
// staged instance.
type Resolver struct {
	uploader Uploader
}

// NewResolver creates a resolver backed by the given uploader.
func NewResolver(u Uploader) *Resolver {
	return &Resolver{uploader: u}
}

// Resolve uploads one staged file and returns its resolved attachment.
// A staged instance resolves exactly once; a second call returns
// ErrAlreadyResolved.
func (r *Resolver) Resolve(ctx context.Context, staged *Staged) (conversation.Attachment, error) {
	if !staged.markResolved() {
		return conversation.Attachment{}, &UploadError{Name: staged.Name, Err: ErrAlreadyResolved}
	}

	file, err := os.Open(staged.Path)
	if err != nil {
		return conversation.Attachment{}, &UploadError{Name: staged.Name, Err: err}
	}
	defer file.Close()

	result, err := r.uploader.Upload(ctx, staged.Name, staged.Type, file)
	if err != nil {
		return conversation.Attachment{}, &UploadError{Name: staged.Name, Err: err}
	}
	return conversation.Attachment{
		ID:        uuid.NewString(),
		Name:      staged.Name,
		Type:      staged.Type,
		Size:      staged.Size,
		Reference: result.ArtifactID,
	}, nil
}

// ResolveAll uploads a batch concurrently and joins. The policy is
// all-or-nothing: the first failure cancels the remaining uploads and fails
// the batch with that UploadError. Results keep the input order.
func (r *Resolver) ResolveAll(ctx context.Context, staged []*Staged) ([]conversation.Attachment, error) {
	if len(staged) == 0 {
		return nil, nil
	}
	out := make([]conversation.Attachment, len(staged))
	g, gctx := errgroup.WithContext(ctx)
	for i, st := range staged {
		g.Go(func() error {
			att, err := r.Resolve(gctx, st)
			if err != nil {
				return err
			}
			out[i] = att
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
