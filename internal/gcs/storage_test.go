package gcs_test

import (
	"testing"

	"github.com/dvloznov/grocery-carbon/internal/gcs"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri        string
		wantBucket string
		wantObject string
		wantErr    bool
	}{
		{"gs://carbon-data/datasets/items.yaml", "carbon-data", "datasets/items.yaml", false},
		{"gs://carbon-data/items.yaml", "carbon-data", "items.yaml", false},
		{"gs://carbon-data", "", "", true},
		{"gs://carbon-data/", "", "", true},
		{"s3://carbon-data/items.yaml", "", "", true},
		{"/tmp/items.yaml", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, object, err := gcs.ParseURI(tt.uri)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseURI() error = %v, wantErr %v", err, tt.wantErr)
			}
			if bucket != tt.wantBucket || object != tt.wantObject {
				t.Errorf("ParseURI() = (%q, %q), want (%q, %q)", bucket, object, tt.wantBucket, tt.wantObject)
			}
		})
	}
}

func TestExtractFilename(t *testing.T) {
	tests := map[string]string{
		"gs://bucket/datasets/items.yaml": "items.yaml",
		"gs://bucket/items.yaml":          "items.yaml",
		"gs://bucket":                     "bucket",
	}
	for in, want := range tests {
		if got := gcs.ExtractFilename(in); got != want {
			t.Errorf("ExtractFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
