package userstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type S3Config struct {
	Endpoint       string
	Bucket         string
	Prefix         string
	Region         string
	AccessKey      string
	SecretKey      string
	Insecure       bool
	ForcePathStyle bool
}

// S3 stores each credential as the object <prefix>/users/<name>.
type S3 struct {
	client *minio.Client
	cfg    S3Config
}

func s3ConfigFromURL(u *url.URL) (S3Config, error) {
	var parts = strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if u.Host == "" || parts[0] == "" {
		return S3Config{}, fmt.Errorf("%w: s3 store needs host and bucket", ErrUnsupported)
	}
	var q = u.Query()
	var cfg = S3Config{
		Endpoint:       u.Host,
		Bucket:         parts[0],
		Region:         q.Get("region"),
		Insecure:       q.Get("insecure") == "1" || q.Get("insecure") == "true",
		ForcePathStyle: true,
	}
	if len(parts) == 2 {
		cfg.Prefix = parts[1]
	}
	if u.User != nil {
		cfg.AccessKey = u.User.Username()
		cfg.SecretKey, _ = u.User.Password()
	}
	return cfg, nil
}

func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("userstore: s3 bucket is required")
	}
	var creds *credentials.Credentials
	if cfg.AccessKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	} else {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
			&credentials.FileAWSCredentials{},
		})
	}
	var options = &minio.Options{
		Creds:  creds,
		Secure: !cfg.Insecure,
		Region: cfg.Region,
	}
	if cfg.ForcePathStyle {
		options.BucketLookup = minio.BucketLookupPath
	}
	var client, err = minio.New(cfg.Endpoint, options)
	if err != nil {
		return nil, fmt.Errorf("userstore: s3 client: %w", err)
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	return &S3{client: client, cfg: cfg}, nil
}

func (s *S3) List(ctx context.Context) (map[string]string, error) {
	var prefix = s.key("") + "/"
	var users = map[string]string{}
	for obj := range s.client.ListObjects(ctx, s.cfg.Bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("userstore: s3 list: %w", obj.Err)
		}
		var name = strings.TrimPrefix(obj.Key, prefix)
		if name == "" || strings.Contains(name, "/") {
			continue
		}
		var pass, ok, err = s.Lookup(ctx, name)
		if err != nil {
			return nil, err
		}
		if ok {
			users[name] = pass
		}
	}
	return users, nil
}

func (s *S3) Lookup(ctx context.Context, user string) (string, bool, error) {
	if !ValidUser(user) {
		return "", false, nil
	}
	var obj, err = s.client.GetObject(ctx, s.cfg.Bucket, s.key(user), minio.GetObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("userstore: s3 get %q: %w", user, err)
	}
	defer obj.Close()
	var raw []byte
	if raw, err = io.ReadAll(obj); err != nil {
		if isNotFound(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("userstore: s3 read %q: %w", user, err)
	}
	return string(raw), true, nil
}

func (s *S3) Insert(ctx context.Context, user, password string) error {
	if !ValidUser(user) {
		return ErrInvalidUser
	}
	var _, err = s.client.StatObject(ctx, s.cfg.Bucket, s.key(user), minio.StatObjectOptions{})
	if err == nil {
		return ErrExists
	}
	if !isNotFound(err) {
		return fmt.Errorf("userstore: s3 stat %q: %w", user, err)
	}
	_, err = s.client.PutObject(ctx, s.cfg.Bucket, s.key(user), bytes.NewReader([]byte(password)), int64(len(password)), minio.PutObjectOptions{
		ContentType: "text/plain",
	})
	if err != nil {
		return fmt.Errorf("userstore: s3 put %q: %w", user, err)
	}
	return nil
}

func (s *S3) Close() error {
	return nil
}

func (s *S3) key(user string) string {
	var p = "users"
	if s.cfg.Prefix != "" {
		p = path.Join(s.cfg.Prefix, "users")
	}
	if user == "" {
		return p
	}
	return p + "/" + user
}

func isNotFound(err error) bool {
	var resp = minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}
