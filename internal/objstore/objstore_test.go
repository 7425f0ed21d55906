package objstore

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockS3 struct {
	objects map[string][]byte
	deleted []string
	getErr  error
}

func (m *mockS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, assert.AnError
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[*in.Bucket+"/"+*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.deleted = append(m.deleted, *in.Bucket+"/"+*in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestParseURI(t *testing.T) {
	bucket, key, err := ParseURI("s3://results/athena/tmp/abc.csv")
	require.NoError(t, err)
	assert.Equal(t, "results", bucket)
	assert.Equal(t, "athena/tmp/abc.csv", key)

	_, _, err = ParseURI("/tmp/abc.csv")
	assert.Error(t, err)
	_, _, err = ParseURI("s3:///abc.csv")
	assert.Error(t, err)
}

func TestJoinAndURI(t *testing.T) {
	assert.Equal(t, "tmp/abc.csv", Join("/tmp/", "abc.csv"))
	assert.Equal(t, "abc.csv", Join("", "abc.csv"))
	assert.Equal(t, "s3://b/tmp/abc.csv", URI("b", "/tmp/abc.csv"))
}

func TestStore_RoundTrip(t *testing.T) {
	m := &mockS3{}
	s := New(m)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "b", "k.csv", "text/csv", bytes.NewBufferString("a,b\n")))
	body, err := s.Get(ctx, "b", "k.csv")
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", string(data))

	require.NoError(t, s.Delete(ctx, "b", "k.csv"))
	assert.Equal(t, []string{"b/k.csv"}, m.deleted)
}

func TestStore_GetError(t *testing.T) {
	s := New(&mockS3{getErr: assert.AnError})
	_, err := s.Get(context.Background(), "b", "missing.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://b/missing.csv")
}
