package publish

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"fed-liquidity/internal/config"
)

type fakePutter struct {
	mu     sync.Mutex
	inputs []*s3.PutObjectInput
	bodies []string
	err    error
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, string(body))
	return &s3.PutObjectOutput{}, nil
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestUploadFileKeysAndContentType(t *testing.T) {
	fake := &fakePutter{}
	u := newUploader(fake, "liquidity", "/exports/daily/", zerolog.Nop())

	csvPath := writeFile(t, "liquidity.csv", "date,net_liquidity\n2024-01-02,5850\n")
	pngPath := writeFile(t, "liquidity.png", "png")

	keys, err := u.UploadFiles(context.Background(), csvPath, "", pngPath)
	require.NoError(t, err)
	require.Equal(t, []string{"exports/daily/liquidity.csv", "exports/daily/liquidity.png"}, keys)

	require.Len(t, fake.inputs, 2)
	require.Equal(t, "liquidity", aws.ToString(fake.inputs[0].Bucket))
	require.Equal(t, "text/csv", aws.ToString(fake.inputs[0].ContentType))
	require.Equal(t, "image/png", aws.ToString(fake.inputs[1].ContentType))
	require.Equal(t, int64(len(fake.bodies[0])), aws.ToInt64(fake.inputs[0].ContentLength))
	require.Contains(t, fake.bodies[0], "5850")
}

func TestUploadWithoutPrefix(t *testing.T) {
	u := newUploader(&fakePutter{}, "b", "", zerolog.Nop())
	require.Equal(t, "chart.png", u.Key("/tmp/out/chart.png"))
}

func TestUploadFailureStops(t *testing.T) {
	fake := &fakePutter{err: errors.New("access denied")}
	u := newUploader(fake, "b", "p", zerolog.Nop())

	keys, err := u.UploadFiles(context.Background(), writeFile(t, "a.csv", "x"), writeFile(t, "b.csv", "y"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "p/a.csv")
	require.Empty(t, keys)
}

func TestUploadMissingFile(t *testing.T) {
	u := newUploader(&fakePutter{}, "b", "", zerolog.Nop())
	_, err := u.UploadFile(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewUploaderRequiresBucket(t *testing.T) {
	_, err := NewUploader(context.Background(), config.S3Config{Region: "us-east-1"}, zerolog.Nop())
	require.ErrorIs(t, err, ErrBucketRequired)
}

func TestNewUploaderCustomEndpoint(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Method+" "+r.URL.Path)
		mu.Unlock()
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u, err := NewUploader(context.Background(), config.S3Config{
		Bucket:       "liquidity",
		Region:       "us-east-1",
		Endpoint:     srv.URL,
		Prefix:       "exports",
		AccessKey:    "key",
		SecretKey:    "secret",
		UsePathStyle: true,
	}, zerolog.Nop())
	require.NoError(t, err)

	key, err := u.UploadFile(context.Background(), writeFile(t, "liquidity.csv", "date\n"))
	require.NoError(t, err)
	require.Equal(t, "exports/liquidity.csv", key)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"PUT /liquidity/exports/liquidity.csv"}, seen)
}
