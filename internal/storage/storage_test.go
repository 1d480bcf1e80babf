package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complicesconecta/backend/internal/apperror"
)

var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52}

type headStub struct {
	existing map[string]bool
	err      error
}

func (h *headStub) HeadObject(_ context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if h.err != nil {
		return nil, h.err
	}
	if h.existing[*params.Key] {
		return &s3.HeadObjectOutput{}, nil
	}
	return nil, &s3types.NotFound{}
}

type uploadStub struct {
	keys         []string
	contentTypes []string
	bodies       [][]byte
}

func (u *uploadStub) Upload(_ context.Context, input *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	u.keys = append(u.keys, *input.Key)
	u.contentTypes = append(u.contentTypes, *input.ContentType)
	u.bodies = append(u.bodies, body)
	return &manager.UploadOutput{}, nil
}

func TestS3StorePutIsContentAddressed(t *testing.T) {
	head := &headStub{existing: map[string]bool{}}
	uploader := &uploadStub{}
	store := &S3Store{client: head, uploader: uploader, bucket: "nft", baseURL: "https://cdn.example.com"}
	ctx := context.Background()

	uri, err := store.Put(ctx, pngHeader, Meta{Prefix: "media"})
	require.NoError(t, err)
	require.Len(t, uploader.keys, 1)
	assert.True(t, strings.HasPrefix(uploader.keys[0], "media/"))
	assert.True(t, strings.HasSuffix(uploader.keys[0], ".png"))
	assert.Equal(t, "image/png", uploader.contentTypes[0])
	assert.Equal(t, "https://cdn.example.com/"+uploader.keys[0], uri)

	head.existing[uploader.keys[0]] = true
	again, err := store.Put(ctx, pngHeader, Meta{Prefix: "media"})
	require.NoError(t, err)
	assert.Equal(t, uri, again)
	assert.Len(t, uploader.keys, 1, "identical content must not be uploaded twice")
}

func TestS3StorePutWithoutBaseURL(t *testing.T) {
	store := &S3Store{client: &headStub{}, uploader: &uploadStub{}, bucket: "nft"}

	uri, err := store.Put(context.Background(), []byte(`{"name":"x"}`), Meta{Prefix: "metadata", ContentType: "application/json"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "s3://nft/metadata/"))
	assert.True(t, strings.HasSuffix(uri, ".json"))
}

func TestS3StoreHeadFailureIsTransient(t *testing.T) {
	store := &S3Store{client: &headStub{err: errors.New("dial tcp: timeout")}, uploader: &uploadStub{}, bucket: "nft"}

	_, err := store.Put(context.Background(), []byte("data"), Meta{})
	assert.True(t, apperror.IsTransient(err))
}

func TestInMemoryStoreDeduplicates(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	a, err := store.Put(ctx, []byte(`{"a":1}`), Meta{Prefix: "metadata", ContentType: "application/json"})
	require.NoError(t, err)
	b, err := store.Put(ctx, []byte(`{"a":1}`), Meta{Prefix: "metadata", ContentType: "application/json"})
	require.NoError(t, err)
	c, err := store.Put(ctx, []byte(`{"a":2}`), Meta{Prefix: "metadata", ContentType: "application/json"})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, 2, store.Len())

	data, contentType, ok := store.Get(a)
	require.True(t, ok)
	assert.Equal(t, `{"a":1}`, string(data))
	assert.Equal(t, "application/json", contentType)

	_, err = store.Put(ctx, nil, Meta{})
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)
}

func TestDetectContentType(t *testing.T) {
	assert.Equal(t, "image/png", DetectContentType(pngHeader, "application/json"))
	assert.Equal(t, "application/json", DetectContentType([]byte(`{}`), "application/json"))
	assert.Equal(t, "application/octet-stream", DetectContentType([]byte("plain"), ""))
	assert.True(t, IsImage(pngHeader))
}
