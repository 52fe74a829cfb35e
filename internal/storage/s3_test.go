package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvcoi/tubeform/internal/media"
)

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = params
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.body = body
	return &s3.PutObjectOutput{}, nil
}

type fakePresigner struct {
	key     string
	expires time.Duration
}

func (f *fakePresigner) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	opts := s3.PresignOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	f.key = *params.Key
	f.expires = opts.Expires
	return &v4.PresignedHTTPRequest{URL: "https://bucket.example/" + f.key + "?X-Amz-Signature=abc"}, nil
}

func writeArtifact(t *testing.T) *media.Artifact {
	t.Helper()
	p := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(p, []byte("video-bytes"), 0o644))
	return &media.Artifact{
		Path:        p,
		Filename:    "20240102_030405_My Clip.mp4",
		ContentType: "video/mp4",
		Size:        11,
		Kind:        media.KindVideo,
	}
}

func TestPublish(t *testing.T) {
	putter := &fakePutter{}
	presigner := &fakePresigner{}
	p := newPublisher(putter, presigner, Config{Bucket: "media", Prefix: "downloads", PresignTTL: 30 * time.Minute})
	p.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	p.newID = func() string { return "id-1" }

	url, err := p.Publish(context.Background(), writeArtifact(t))
	require.NoError(t, err)

	wantKey := "downloads/2024/01/02/id-1/20240102_030405_My Clip.mp4"
	assert.Equal(t, wantKey, *putter.input.Key)
	assert.Equal(t, "media", *putter.input.Bucket)
	assert.Equal(t, "video/mp4", *putter.input.ContentType)
	assert.Contains(t, *putter.input.ContentDisposition, "attachment")
	assert.Equal(t, "video-bytes", string(putter.body))

	assert.Equal(t, wantKey, presigner.key)
	assert.Equal(t, 30*time.Minute, presigner.expires)
	assert.Contains(t, url, "X-Amz-Signature")
}

func TestPublishPutError(t *testing.T) {
	p := newPublisher(&fakePutter{err: errors.New("access denied")}, &fakePresigner{}, Config{Bucket: "media"})
	_, err := p.Publish(context.Background(), writeArtifact(t))
	assert.ErrorContains(t, err, "access denied")
}

func TestPublishRequiresArtifact(t *testing.T) {
	p := newPublisher(&fakePutter{}, &fakePresigner{}, Config{Bucket: "media"})
	_, err := p.Publish(context.Background(), nil)
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, Config{}.Validate())
	assert.Error(t, Config{Bucket: "b", AccessKeyID: "only-key"}.Validate())
	assert.NoError(t, Config{Bucket: "b"}.Validate())
	assert.NoError(t, Config{Bucket: "b", AccessKeyID: "k", SecretAccessKey: "s"}.Validate())
	assert.False(t, Config{}.Enabled())
}
