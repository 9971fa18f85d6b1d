// Package media downloads WhatsApp media and writes it to attachment storage.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"whatsapp-inbox/internal/models"
	"whatsapp-inbox/internal/storage"
	"whatsapp-inbox/internal/whatsapp"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

var (
	ErrNoMediaURL          = errors.New("media: metadata carried no download url")
	ErrTooLarge            = errors.New("media: file exceeds size limit")
	ErrProviderUnavailable = errors.New("media: provider unavailable")
)

const defaultExtension = "bin"

// GraphClient is the part of the Cloud API client the fetcher uses.
type GraphClient interface {
	MediaMetadata(ctx context.Context, account *models.Account, mediaID string) (*whatsapp.MediaMetadata, error)
	Download(ctx context.Context, account *models.Account, url string) (io.ReadCloser, error)
}

// Fetched is a downloaded file held in memory.
type Fetched struct {
	Data      []byte
	MimeType  string
	Extension string
}

// Stored describes a file written to the storage provider.
type Stored struct {
	FileName string
	Key      string
	URL      string
	MimeType string
	Size     int64
}

type Fetcher struct {
	client   GraphClient
	provider storage.Provider
	maxBytes int64
	now      func() time.Time
	token    func() string
}

func NewFetcher(client GraphClient, provider storage.Provider, maxBytes int64) *Fetcher {
	return &Fetcher{
		client:   client,
		provider: provider,
		maxBytes: maxBytes,
		now:      time.Now,
		token:    NewToken,
	}
}

// Fetch resolves mediaID and downloads it. When the metadata omits a MIME
// type the bytes are sniffed instead.
func (f *Fetcher) Fetch(ctx context.Context, account *models.Account, mediaID string) (*Fetched, error) {
	meta, err := f.client.MediaMetadata(ctx, account, mediaID)
	if err != nil {
		return nil, classify(fmt.Errorf("media: metadata for %s: %w", mediaID, err))
	}
	if meta.URL == "" {
		return nil, ErrNoMediaURL
	}
	if f.maxBytes > 0 && meta.FileSize > f.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, meta.FileSize)
	}

	body, err := f.client.Download(ctx, account, meta.URL)
	if err != nil {
		return nil, classify(fmt.Errorf("media: download %s: %w", mediaID, err))
	}
	defer body.Close()

	reader := io.Reader(body)
	if f.maxBytes > 0 {
		reader = io.LimitReader(body, f.maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, classify(fmt.Errorf("media: read %s: %w", mediaID, err))
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, ErrTooLarge
	}

	mimeType := strings.TrimSpace(meta.MimeType)
	if mimeType == "" {
		mimeType = mimetype.Detect(data).String()
	}
	return &Fetched{Data: data, MimeType: mimeType, Extension: Extension(mimeType)}, nil
}

// Save writes fetched under a fresh, collision-resistant name.
func (f *Fetcher) Save(ctx context.Context, fetched *Fetched) (*Stored, error) {
	ext := fetched.Extension
	if ext == "" {
		ext = Extension(fetched.MimeType)
	}
	name := f.token() + "." + ext
	now := f.now().UTC()
	key := fmt.Sprintf("%04d/%02d/%s", now.Year(), now.Month(), name)

	if err := f.provider.Put(ctx, key, bytes.NewReader(fetched.Data), fetched.MimeType); err != nil {
		return nil, fmt.Errorf("media: store %s: %w", key, err)
	}
	return &Stored{
		FileName: name,
		Key:      key,
		URL:      f.provider.URL(key),
		MimeType: fetched.MimeType,
		Size:     int64(len(fetched.Data)),
	}, nil
}

// Extension is the MIME subtype without parameters, e.g. "ogg" for
// "audio/ogg; codecs=opus". Unknown or generic types map to "bin".
func Extension(mimeType string) string {
	mediaType, _, _ := strings.Cut(mimeType, ";")
	_, sub, ok := strings.Cut(strings.TrimSpace(mediaType), "/")
	sub = strings.ToLower(strings.TrimSpace(sub))
	if !ok || sub == "" || sub == "octet-stream" {
		return defaultExtension
	}
	var b strings.Builder
	for _, r := range sub {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '+' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return defaultExtension
	}
	return b.String()
}

// NewToken returns 10 random hex characters.
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

func classify(err error) error {
	var apiErr *whatsapp.APIError
	if errors.As(err, &apiErr) && apiErr.Temporary() {
		return fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	return err
}
