package s3_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"techgenie/adapters/s3"
)

func TestKeyFromURL(t *testing.T) {
	operator, err := s3.NewOperator(nil, "techgenie", "https://cdn.example.com")
	assert.NoError(t, err)

	tests := []struct {
		name    string
		url     string
		wantKey string
		wantOk  bool
	}{
		{
			name:    "url from this bucket",
			url:     "https://cdn.example.com/images/alice/abc.png",
			wantKey: "images/alice/abc.png",
			wantOk:  true,
		},
		{
			name:   "url from another host",
			url:    "https://other.example.com/images/alice/abc.png",
			wantOk: false,
		},
		{
			name:   "not a url",
			url:    "://bad",
			wantOk: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, ok := operator.KeyFromURL(tt.url)
			assert.Equal(t, tt.wantOk, ok)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}

func TestCheckSecureImageAndGetExtension(t *testing.T) {
	tests := []struct {
		name     string
		mimeType string
		wantOk   bool
		wantExt  string
	}{
		{
			name:     "valid JPEG image",
			mimeType: "image/jpeg",
			wantOk:   true,
			wantExt:  "jpeg",
		},
		{
			name:     "invalid image type",
			mimeType: "application/pdf",
			wantOk:   false,
			wantExt:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotOk, gotExt := s3.CheckSecureImageAndGetExtension(tt.mimeType)
			assert.Equal(t, tt.wantOk, gotOk)
			assert.Equal(t, tt.wantExt, gotExt)
		})
	}
}
