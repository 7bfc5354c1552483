package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lazone/api/internal/config"
)

func TestPhotoKey(t *testing.T) {
	key, err := PhotoKey("OWNER1", "LIST/../1", "image/JPEG")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "listings/OWNER1/LIST1/"), key)
	assert.True(t, strings.HasSuffix(key, ".jpg"), key)

	_, err = PhotoKey("o", "l", "application/pdf")
	assert.ErrorIs(t, err, ErrUnsupportedContentType)
}

func TestGeneratePresignedPutURL(t *testing.T) {
	cfg := &config.Config{
		AwsAccessKeyID:     "AKIDEXAMPLE",
		AwsSecretAccessKey: "secret",
		AwsRegion:          "eu-west-1",
		AwsS3Bucket:        "lazone-photos",
	}
	st, err := NewS3Storage(context.Background(), cfg)
	require.NoError(t, err)

	upload, err := st.GeneratePresignedPutURL(context.Background(), "OWNER1", "LIST1", "image/png")
	require.NoError(t, err)
	assert.Contains(t, upload.UploadURL, "lazone-photos")
	assert.Contains(t, upload.UploadURL, "X-Amz-Signature")
	assert.Equal(t, "https://lazone-photos.s3.eu-west-1.amazonaws.com/"+upload.Key, upload.PublicURL)

	cfg.ImageBaseS3URL = "https://cdn.lazone.app/"
	assert.Equal(t, "https://cdn.lazone.app/a/b.png", st.PublicURL("a/b.png"))
}
