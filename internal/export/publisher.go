package export

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/storage"
)

type Published struct {
	Key         string    `json:"key"`
	Format      Format    `json:"format"`
	Size        int64     `json:"size_bytes"`
	RowCount    int       `json:"row_count"`
	DownloadURL string    `json:"download_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type PublisherOptions struct {
	// URLExpiry enables presigned download URLs when positive.
	URLExpiry time.Duration
	Now       func() time.Time
	NewID     func() string
}

// Publisher encodes result sets and stores them in an object store.
type Publisher struct {
	store     storage.ObjectStore
	urlExpiry time.Duration
	now       func() time.Time
	newID     func() string
}

func NewPublisher(store storage.ObjectStore, opts PublisherOptions) (*Publisher, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString() }
	}
	return &Publisher{store: store, urlExpiry: opts.URLExpiry, now: opts.Now, newID: opts.NewID}, nil
}

func (p *Publisher) Publish(ctx context.Context, sessionID string, format Format, rs query.ResultSet) (Published, error) {
	createdAt := p.now().UTC()
	key, err := storage.BuildExportPath(sessionID, createdAt, p.newID(), format.Extension())
	if err != nil {
		return Published{}, err
	}

	var buf bytes.Buffer
	if err := Encode(&buf, format, rs); err != nil {
		return Published{}, err
	}
	size := int64(buf.Len())
	if _, err := p.store.Put(ctx, key, &buf, size, storage.PutOptions{ContentType: format.ContentType()}); err != nil {
		return Published{}, fmt.Errorf("publish export: %w", err)
	}

	published := Published{Key: key, Format: format, Size: size, RowCount: rs.Len(), CreatedAt: createdAt}
	if p.urlExpiry > 0 {
		signed, err := p.store.PresignGet(ctx, key, p.urlExpiry)
		if err != nil {
			return Published{}, fmt.Errorf("sign export url: %w", err)
		}
		published.DownloadURL = signed
	}
	return published, nil
}
