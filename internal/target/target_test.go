package target

import (
	"errors"
	"testing"
)

func TestExtract_Strict(t *testing.T) {
	ex := NewExtractor(true)

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr error
	}{
		{
			name: "plain https target",
			path: "/proxy/https://api.example.com/v1/users",
			want: "https://api.example.com/v1/users",
		},
		{
			name: "target with query",
			path: "/proxy/https://api.example.com/v1/users?page=2&limit=10",
			want: "https://api.example.com/v1/users?page=2&limit=10",
		},
		{
			name: "target with port",
			path: "/proxy/https://api.example.com:8443/v1",
			want: "https://api.example.com:8443/v1",
		},
		{
			name: "bare host",
			path: "/proxy/https://api.example.com",
			want: "https://api.example.com",
		},
		{
			name:    "missing proxy prefix",
			path:    "/https://api.example.com/v1",
			wantErr: ErrInvalidPath,
		},
		{
			name:    "root path",
			path:    "/",
			wantErr: ErrInvalidPath,
		},
		{
			name:    "prefix without target",
			path:    "/proxy/",
			wantErr: ErrInvalidPath,
		},
		{
			name:    "http scheme rejected",
			path:    "/proxy/http://api.example.com/v1",
			wantErr: ErrInvalidTargetSyntax,
		},
		{
			name:    "file scheme rejected",
			path:    "/proxy/file:///etc/passwd",
			wantErr: ErrInvalidTargetSyntax,
		},
		{
			name:    "undotted host rejected",
			path:    "/proxy/https://localhost/admin",
			wantErr: ErrInvalidTargetSyntax,
		},
		{
			name:    "bare word rejected",
			path:    "/proxy/notaurl",
			wantErr: ErrInvalidTargetSyntax,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ex.Extract(tt.path)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Extract(%q) error = %v, want %v", tt.path, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Extract(%q) error = %v", tt.path, err)
			}
			if got.String() != tt.want {
				t.Errorf("Extract(%q) = %q, want %q", tt.path, got.String(), tt.want)
			}
		})
	}
}

func TestExtract_Legacy(t *testing.T) {
	ex := NewExtractor(false)

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr error
	}{
		{
			name: "http allowed",
			path: "/http://api.example.com/v1",
			want: "http://api.example.com/v1",
		},
		{
			name: "https without proxy prefix",
			path: "/https://api.example.com/v1",
			want: "https://api.example.com/v1",
		},
		{
			name: "proxy prefix tolerated",
			path: "/proxy/https://api.example.com/v1",
			want: "https://api.example.com/v1",
		},
		{
			name:    "empty path",
			path:    "/",
			wantErr: ErrInvalidPath,
		},
		{
			name:    "relative garbage rejected",
			path:    "/not-a-url",
			wantErr: ErrInvalidTargetSyntax,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ex.Extract(tt.path)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Extract(%q) error = %v, want %v", tt.path, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Extract(%q) error = %v", tt.path, err)
			}
			if got.String() != tt.want {
				t.Errorf("Extract(%q) = %q, want %q", tt.path, got.String(), tt.want)
			}
		})
	}
}

func TestExtract_Hostname(t *testing.T) {
	ex := NewExtractor(true)
	got, err := ex.Extract("/proxy/https://api.example.com:8443/v1")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Hostname() != "api.example.com" {
		t.Errorf("Hostname() = %q, want %q", got.Hostname(), "api.example.com")
	}
}
