package sink

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFile_PutReplacesAtomically(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	f := File{Dir: dir}

	loc, err := f.Put(context.Background(), "qrcodes.pdf", []byte("first"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "qrcodes.pdf"), loc)

	_, err = f.Put(context.Background(), "qrcodes.pdf", []byte("second"))
	require.NoError(t, err)
	data, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFile_RejectsBadNames(t *testing.T) {
	f := File{Dir: t.TempDir()}
	for _, name := range []string{"", ".", "..", "a/b.pdf", `a\b.pdf`} {
		_, err := f.Put(context.Background(), name, nil)
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}
}

func TestFile_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := File{Dir: t.TempDir()}.Put(ctx, "x.pdf", []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	f.body, _ = io.ReadAll(in.Body)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestS3_Put(t *testing.T) {
	fake := &fakePutter{}
	s := newS3(fake, "sheets", "/batches/2026/")

	loc, err := s.Put(context.Background(), "qrcodes.pdf", []byte("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, "s3://sheets/batches/2026/qrcodes.pdf", loc)
	assert.Equal(t, "sheets", aws.ToString(fake.input.Bucket))
	assert.Equal(t, "batches/2026/qrcodes.pdf", aws.ToString(fake.input.Key))
	assert.Equal(t, "application/pdf", aws.ToString(fake.input.ContentType))
	assert.Equal(t, int64(4), aws.ToInt64(fake.input.ContentLength))
	assert.Equal(t, `attachment; filename="qrcodes.pdf"`, aws.ToString(fake.input.ContentDisposition))
	assert.Equal(t, "%PDF", string(fake.body))
}

func TestS3_PutError(t *testing.T) {
	boom := errors.New("access denied")
	s := newS3(&fakePutter{err: boom}, "sheets", "")
	_, err := s.Put(context.Background(), "qrcodes.pdf", nil)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "s3://sheets/qrcodes.pdf")
}

func TestNewS3(t *testing.T) {
	_, err := NewS3(context.Background(), S3Config{})
	require.Error(t, err)

	s, err := NewS3(context.Background(), S3Config{
		Bucket:       "sheets",
		Endpoint:     "localhost:9000",
		AccessKey:    "k",
		SecretKey:    "s",
		UsePathStyle: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "sheets", s.bucket)
	assert.Equal(t, "qrcodes.pdf", s.key("qrcodes.pdf"))
}
