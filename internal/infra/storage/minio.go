package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/glaciergh0st/HuntLens/internal/domain/corpus"
	"github.com/glaciergh0st/HuntLens/internal/infra/corpusfs"
)

// maxObjectSize caps a single corpus file.
const maxObjectSize = 16 << 20

// Options configures the bucket layout.
type Options struct {
	Endpoint       string
	Region         string
	Bucket         string
	AccessKey      string
	SecretKey      string
	UseSSL         bool
	CorpusPrefix   string // documents live below this prefix
	ManifestPrefix string // snapshot manifests are written here
}

// Store reads corpus documents from MinIO and archives snapshot manifests.
// It implements corpus.Source and corpus.Archiver.
type Store struct {
	client         *minio.Client
	bucketName     string
	corpusPrefix   string
	manifestPrefix string
	logger         *slog.Logger
}

// New connects to MinIO and makes sure the bucket exists.
func New(ctx context.Context, o Options, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cli, err := minio.New(o.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(o.AccessKey, o.SecretKey, ""),
		Secure: o.UseSSL,
		Region: o.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := cli.BucketExists(ctx, o.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", o.Bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, o.Bucket, minio.MakeBucketOptions{Region: o.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", o.Bucket, err)
		}
	}

	return &Store{
		client:         cli,
		bucketName:     o.Bucket,
		corpusPrefix:   dirPrefix(o.CorpusPrefix, "corpus"),
		manifestPrefix: dirPrefix(o.ManifestPrefix, "snapshots"),
		logger:         logger,
	}, nil
}

// Load reads every JSON and YAML object below the corpus prefix. Objects
// that cannot be read or parsed are skipped with a warning.
func (s *Store) Load(ctx context.Context) ([]corpus.RawDocument, error) {
	var docs []corpus.RawDocument
	objects := 0
	for obj := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{Prefix: s.corpusPrefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", s.bucketName, s.corpusPrefix, obj.Err)
		}
		if !corpusObject(obj.Key) {
			continue
		}
		if obj.Size > maxObjectSize {
			s.logger.Warn("skipping oversized corpus object", "key", obj.Key, "size", obj.Size)
			continue
		}
		objects++
		data, err := s.get(ctx, obj.Key)
		if err != nil {
			s.logger.Warn("skipping unreadable corpus object", "key", obj.Key, "error", err)
			continue
		}
		batch, err := corpusfs.Decode(obj.Key, data)
		if err != nil {
			s.logger.Warn("skipping malformed corpus object", "key", obj.Key, "error", err)
			continue
		}
		docs = append(docs, batch...)
	}
	s.logger.Info("corpus objects loaded", "bucket", s.bucketName, "prefix", s.corpusPrefix, "objects", objects, "documents", len(docs))
	return docs, nil
}

func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(io.LimitReader(obj, maxObjectSize+1))
}

// Archive writes the manifest under its version and as latest.json.
func (s *Store) Archive(ctx context.Context, m corpus.Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	for _, key := range manifestKeys(s.manifestPrefix, m.Version) {
		_, err := s.client.PutObject(ctx, s.bucketName, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType: contentType(key),
		})
		if err != nil {
			return fmt.Errorf("upload manifest %s: %w", key, err)
		}
	}
	return nil
}

// Ping is used by the readiness check.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucketName)
	return err
}

func manifestKeys(prefix, version string) []string {
	return []string{prefix + version + ".json", prefix + "latest.json"}
}

func dirPrefix(p, fallback string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		p = fallback
	}
	return p + "/"
}

func corpusObject(key string) bool {
	switch strings.ToLower(path.Ext(key)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

func contentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".json":
		return "application/json"
	case ".yaml", ".yml":
		return "application/yaml"
	}
	return "application/octet-stream"
}
