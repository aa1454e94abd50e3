package storage

import (
	"context"
	"testing"

	"envoearn/internal/config"

	"github.com/stretchr/testify/assert"
)

func TestPublicBaseURL(t *testing.T) {
	custom := &config.StorageConfig{Bucket: "investments", Endpoint: "http://localhost:9000/storage/v1/s3"}
	assert.Equal(t,
		"http://localhost:8080/storage/v1/object/public/investments",
		PublicBaseURL(custom, "http://localhost:8080/"))

	aws := &config.StorageConfig{Bucket: "investments", Region: "ap-south-1"}
	assert.Equal(t, "https://investments.s3.ap-south-1.amazonaws.com", PublicBaseURL(aws, "ignored"))
}

func TestJoinPublicURL_EscapesSegments(t *testing.T) {
	got := JoinPublicURL("https://cdn.example.com/", "screenshots/a@x.com-1700000000000.png")
	assert.Equal(t, "https://cdn.example.com/screenshots/a@x.com-1700000000000.png", got)

	got = JoinPublicURL("https://cdn.example.com", "screenshots/with space.png")
	assert.Equal(t, "https://cdn.example.com/screenshots/with%20space.png", got)
}

func TestNewS3Store_RequiresCredentials(t *testing.T) {
	_, err := NewS3Store(context.Background(), &config.StorageConfig{Bucket: "investments"}, "http://localhost")
	assert.ErrorIs(t, err, ErrStorageNotConfigured)
}
