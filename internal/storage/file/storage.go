package file

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/aliskhannn/generation-pipeline/internal/model"
)

// maxFetchBytes bounds images downloaded from outside the bucket.
const maxFetchBytes = 32 << 20

// objectPrefix is the top-level folder of generated artifacts.
const objectPrefix = "generated"

var extensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/webp": "webp",
	"image/gif":  "gif",
}

// Options configures a Storage.
type Options struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	BucketName string
	UseSSL     bool
	PublicURL  string // base URL objects are served from; derived from Endpoint when empty
}

// Storage provides an S3-compatible artifact store using MinIO.
type Storage struct {
	client     *minio.Client
	bucketName string
	publicURL  string
	http       *http.Client
	now        func() time.Time
}

// NewStorage creates a new Storage instance connected to the specified MinIO server.
// If the bucket does not exist, it will be created automatically.
func NewStorage(ctx context.Context, opts Options) (*Storage, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %w", err)
	}

	if !exists {
		if err := client.MakeBucket(ctx, opts.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	publicURL := strings.TrimRight(opts.PublicURL, "/")
	if publicURL == "" {
		scheme := "http"
		if opts.UseSSL {
			scheme = "https"
		}
		publicURL = fmt.Sprintf("%s://%s/%s", scheme, opts.Endpoint, opts.BucketName)
	}

	return &Storage{
		client:     client,
		bucketName: opts.BucketName,
		publicURL:  publicURL,
		http:       &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}, nil
}

// Upload stores data under a fresh object key and returns its public URL.
// The storage id is the object key.
func (s *Storage) Upload(ctx context.Context, data []byte, contentType string) (model.Artifact, error) {
	ext, ok := extensions[contentType]
	if !ok {
		ext = "bin"
	}

	id, err := gonanoid.New()
	if err != nil {
		return model.Artifact{}, fmt.Errorf("failed to generate object id: %w", err)
	}
	key := ObjectKey(s.now(), id, ext)

	_, err = s.client.PutObject(ctx, s.bucketName, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return model.Artifact{}, fmt.Errorf("failed to save file: %w", err)
	}

	return model.Artifact{URL: s.ObjectURL(key), StorageID: key}, nil
}

// ObjectKey builds the key of an artifact: generated/YYYY/MM/DD/<id>.<ext>.
func ObjectKey(at time.Time, id, ext string) string {
	return path.Join(objectPrefix, at.UTC().Format("2006/01/02"), id+"."+ext)
}

// ObjectURL returns the public URL of key.
func (s *Storage) ObjectURL(key string) string {
	return s.publicURL + "/" + key
}

// Fetch returns the bytes behind url. Objects of this bucket are read through
// the MinIO client, anything else with a plain HTTP GET.
func (s *Storage) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	if key, ok := s.keyFromURL(rawURL); ok {
		return s.fetchObject(ctx, key)
	}

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, "", fmt.Errorf("unsupported image url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to download image: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	return data, contentType, nil
}

func (s *Storage) keyFromURL(rawURL string) (string, bool) {
	prefix := s.publicURL + "/"
	if !strings.HasPrefix(rawURL, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(rawURL, prefix)
	return key, key != ""
}

func (s *Storage) fetchObject(ctx context.Context, key string) ([]byte, string, error) {
	obj, err := s.Load(ctx, key)
	if err != nil {
		return nil, "", err
	}
	defer obj.Close()

	data, err := io.ReadAll(io.LimitReader(obj, maxFetchBytes))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read object: %w", err)
	}

	return data, http.DetectContentType(data), nil
}

// Load retrieves the object with the given key and returns a reader.
func (s *Storage) Load(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to load file: %w", err)
	}

	return obj, nil
}
