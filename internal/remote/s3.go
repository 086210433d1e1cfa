package remote

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	apperrors "github.com/lupppig/appvault/internal/errors"
)

// S3 targets any S3-compatible object store through minio. Directories are
// zero-byte marker objects with a trailing slash; an empty list path
// enumerates buckets the way SMB enumerates shares.
type S3 struct {
	ep   Endpoint
	opts Options

	client *minio.Client
	root   string
}

func NewS3(ep Endpoint, opts Options) *S3 {
	return &S3{ep: ep, opts: opts, root: strings.Trim(ep.Path, "/")}
}

func (s *S3) Connect(ctx context.Context) error {
	if s.client != nil {
		return nil
	}

	client, err := minio.New(s.ep.addrNoDefault(), &minio.Options{
		Creds:  credentials.NewStaticV4(s.ep.User, s.ep.Secret, ""),
		Secure: s.ep.UseTLS,
		Region: s.ep.Region,
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeConnection, fmt.Sprintf("cannot build S3 client for %s", s.ep.Host), "Check the endpoint URL.")
	}

	// Probe once so bad endpoints or credentials fail here, not mid-run.
	if s.ep.Bucket != "" {
		exists, err := client.BucketExists(ctx, s.ep.Bucket)
		if err != nil {
			return apperrors.Wrap(err, apperrors.TypeConnection, fmt.Sprintf("cannot reach S3 endpoint %s", s.ep.Host), "Check the endpoint, credentials, and TLS settings.")
		}
		if !exists {
			return apperrors.New(apperrors.TypeConnection, fmt.Sprintf("bucket %s does not exist", s.ep.Bucket), "Create the bucket or fix the target URI.")
		}
	} else {
		if _, err := client.ListBuckets(ctx); err != nil {
			return apperrors.Wrap(err, apperrors.TypeConnection, fmt.Sprintf("cannot reach S3 endpoint %s", s.ep.Host), "Check the endpoint, credentials, and TLS settings.")
		}
	}

	s.client = client
	return nil
}

func (s *S3) Disconnect() {
	s.client = nil
}

// key maps a client path onto an object key under the configured prefix.
func (s *S3) key(p string) string {
	joined := path.Join(s.root, strings.TrimPrefix(p, "/"))
	return strings.Trim(joined, "/")
}

func (s *S3) dirKey(p string) string {
	k := s.key(p)
	if k == "" {
		return ""
	}
	return k + "/"
}

func (s *S3) bucket(op string) error {
	if s.client == nil {
		return notConnected(op)
	}
	if s.ep.Bucket == "" {
		return apperrors.New(apperrors.TypeConfig, "no S3 bucket selected", "Put the bucket in the target, e.g. s3://endpoint/bucket/prefix.")
	}
	return nil
}

func (s *S3) Mkdir(ctx context.Context, dir string) error {
	if err := s.bucket("mkdir"); err != nil {
		return err
	}
	marker := s.dirKey(dir)
	_, err := s.client.PutObject(ctx, s.ep.Bucket, marker, bytes.NewReader(nil), 0, minio.PutObjectOptions{})
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("failed to create directory %s", dir), "")
	}
	return nil
}

func (s *S3) MkdirAll(ctx context.Context, dir string) error {
	if err := s.bucket("mkdir"); err != nil {
		return err
	}
	current := ""
	for _, part := range pathComponents(dir) {
		current = current + "/" + part
		marker := s.dirKey(current)
		if _, err := s.client.StatObject(ctx, s.ep.Bucket, marker, minio.StatObjectOptions{}); err == nil {
			continue
		}
		if err := s.Mkdir(ctx, current); err != nil {
			return err
		}
	}
	return nil
}

func (s *S3) Upload(ctx context.Context, srcLocal, dstRemoteDir string) error {
	if err := s.bucket("upload"); err != nil {
		return err
	}
	key := s.key(path.Join(dstRemoteDir, filepath.Base(srcLocal)))
	if _, err := s.client.FPutObject(ctx, s.ep.Bucket, key, srcLocal, minio.PutObjectOptions{}); err != nil {
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("upload of %s interrupted", srcLocal), "")
	}
	return nil
}

func (s *S3) Download(ctx context.Context, srcRemote, dstLocalDir string) error {
	if err := s.bucket("download"); err != nil {
		return err
	}
	key := s.key(srcRemote)
	if _, err := s.client.StatObject(ctx, s.ep.Bucket, key, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return apperrors.Wrap(err, apperrors.TypeNotFound, fmt.Sprintf("no such object %s", srcRemote), "")
		}
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("cannot stat object %s", srcRemote), "")
	}

	obj, err := s.client.GetObject(ctx, s.ep.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("cannot open object %s", srcRemote), "")
	}
	defer obj.Close()
	return writeLocal(dstLocalDir, path.Base(srcRemote), obj)
}

func (s *S3) DeleteFile(ctx context.Context, file string) error {
	if err := s.bucket("delete"); err != nil {
		return err
	}
	key := s.key(file)
	if _, err := s.client.StatObject(ctx, s.ep.Bucket, key, minio.StatObjectOptions{}); err != nil {
		return apperrors.Wrap(err, apperrors.TypeNotFound, fmt.Sprintf("no such object %s", file), "")
	}
	if err := s.client.RemoveObject(ctx, s.ep.Bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("failed to delete %s", file), "")
	}
	return nil
}

func (s *S3) RemoveDirectory(ctx context.Context, dir string) error {
	if err := s.bucket("rmdir"); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.ep.Bucket, s.dirKey(dir), minio.RemoveObjectOptions{}); err != nil {
		return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("failed to remove directory %s", dir), "")
	}
	return nil
}

func (s *S3) DeleteRecursively(ctx context.Context, target string) error {
	if err := s.bucket("delete"); err != nil {
		return err
	}
	key := s.key(target)

	if _, err := s.client.StatObject(ctx, s.ep.Bucket, key, minio.StatObjectOptions{}); err == nil {
		if err := s.client.RemoveObject(ctx, s.ep.Bucket, key, minio.RemoveObjectOptions{}); err != nil {
			return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("failed to delete %s", target), "")
		}
		return nil
	}

	deleted := false
	for obj := range s.client.ListObjects(ctx, s.ep.Bucket, minio.ListObjectsOptions{Prefix: s.dirKey(target), Recursive: true}) {
		if obj.Err != nil {
			return apperrors.Wrap(obj.Err, apperrors.TypeTransfer, fmt.Sprintf("failed to list %s", target), "")
		}
		if err := s.client.RemoveObject(ctx, s.ep.Bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return apperrors.Wrap(err, apperrors.TypeTransfer, fmt.Sprintf("failed to delete %s", obj.Key), "")
		}
		deleted = true
	}
	if !deleted {
		return apperrors.New(apperrors.TypeNotFound, fmt.Sprintf("nothing to delete at %s", target), "")
	}
	return nil
}

func (s *S3) ListFiles(ctx context.Context, dir string) (Listing, error) {
	if s.client == nil {
		return Listing{}, notConnected("list")
	}

	// Empty path: enumerate buckets, not directory contents.
	if dir == "" {
		buckets, err := s.client.ListBuckets(ctx)
		if err != nil {
			return Listing{}, apperrors.Wrap(err, apperrors.TypeTransfer, "failed to list buckets", "")
		}
		var out Listing
		for _, b := range buckets {
			out.Dirs = append(out.Dirs, Entry{Name: b.Name})
		}
		out.sort()
		return out, nil
	}

	if err := s.bucket("list"); err != nil {
		return Listing{}, err
	}

	prefix := s.dirKey(dir)
	var out Listing
	for obj := range s.client.ListObjects(ctx, s.ep.Bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: false}) {
		if obj.Err != nil {
			return Listing{}, apperrors.Wrap(obj.Err, apperrors.TypeTransfer, fmt.Sprintf("failed to list %s", dir), "")
		}
		name := strings.TrimPrefix(obj.Key, prefix)
		if name == "" {
			continue // the directory's own marker
		}
		if strings.HasSuffix(name, "/") {
			out.Dirs = append(out.Dirs, Entry{Name: strings.TrimSuffix(name, "/")})
			continue
		}
		out.Files = append(out.Files, Entry{Name: name, Size: obj.Size, ModTime: obj.LastModified})
	}
	out.sort()
	return out, nil
}

func (s *S3) Size(ctx context.Context, target string) (int64, error) {
	if err := s.bucket("size"); err != nil {
		return 0, err
	}

	if info, err := s.client.StatObject(ctx, s.ep.Bucket, s.key(target), minio.StatObjectOptions{}); err == nil {
		return info.Size, nil
	}

	var total int64
	found := false
	for obj := range s.client.ListObjects(ctx, s.ep.Bucket, minio.ListObjectsOptions{Prefix: s.dirKey(target), Recursive: true}) {
		if obj.Err != nil {
			return 0, apperrors.Wrap(obj.Err, apperrors.TypeTransfer, fmt.Sprintf("failed to list %s", target), "")
		}
		total += obj.Size
		found = true
	}
	if !found {
		return 0, apperrors.New(apperrors.TypeNotFound, fmt.Sprintf("no such path %s", target), "")
	}
	return total, nil
}

func (s *S3) Location() string {
	loc := "s3://" + s.ep.addrNoDefault()
	if s.ep.Bucket != "" {
		loc += "/" + s.ep.Bucket
	}
	if s.root != "" {
		loc += "/" + s.root
	}
	return loc
}

var _ Client = (*S3)(nil)
