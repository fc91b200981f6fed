package photos

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/supabase-community/supabase-go"
)

// MediaResolver turns an opaque photo reference into a fetchable URL.
type MediaResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// StaticResolver serves references relative to a fixed base URL.
type StaticResolver struct {
	base string
}

func NewStaticResolver(baseURL string) *StaticResolver {
	return &StaticResolver{base: strings.TrimRight(baseURL, "/")}
}

func (s *StaticResolver) Resolve(_ context.Context, ref string) (string, error) {
	if ref == "" {
		return "", errors.New("empty media reference")
	}
	if u, err := url.Parse(ref); err == nil && u.IsAbs() {
		return ref, nil
	}
	if s.base == "" {
		return "", fmt.Errorf("no base URL for media reference %q", ref)
	}
	return s.base + "/" + strings.TrimLeft(ref, "/"), nil
}

// SupabaseConfig configures signed URL generation on Supabase Storage.
type SupabaseConfig struct {
	URL    string
	APIKey string
	Bucket string
	TTL    time.Duration
}

// SupabaseResolver issues short-lived signed URLs from a Supabase Storage bucket.
type SupabaseResolver struct {
	client *supabase.Client
	bucket string
	ttl    time.Duration
}

func NewSupabaseResolver(cfg SupabaseConfig) (*SupabaseResolver, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "photos"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 15 * time.Minute
	}

	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	return &SupabaseResolver{client: client, bucket: cfg.Bucket, ttl: cfg.TTL}, nil
}

type signResult struct {
	url string
	err error
}

// Resolve signs ref. The storage client has no context support, so the call
// runs in its own goroutine and is abandoned when ctx ends.
func (s *SupabaseResolver) Resolve(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", errors.New("empty media reference")
	}
	done := make(chan signResult, 1)
	go func() {
		resp, err := s.client.Storage.CreateSignedUrl(s.bucket, ref, int(s.ttl.Seconds()))
		done <- signResult{url: resp.SignedURL, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("signing %q: %w", ref, ctx.Err())
	case res := <-done:
		if res.err != nil {
			return "", fmt.Errorf("signing %q: %w", ref, res.err)
		}
		if res.url == "" {
			return "", fmt.Errorf("signing %q: empty signed URL", ref)
		}
		return res.url, nil
	}
}

type timeoutResolver struct {
	next    MediaResolver
	timeout time.Duration
}

// WithTimeout bounds every Resolve call on r. A non-positive timeout returns r unchanged.
func WithTimeout(r MediaResolver, timeout time.Duration) MediaResolver {
	if timeout <= 0 {
		return r
	}
	return &timeoutResolver{next: r, timeout: timeout}
}

func (t *timeoutResolver) Resolve(ctx context.Context, ref string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Resolve(ctx, ref)
}
