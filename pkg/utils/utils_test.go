package utils

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestDefaultOutputPath(t *testing.T) {
	cases := map[string]string{
		"/media/movie.mp4":     "/media/movie.av1.mp4",
		"movie.mp4":            "movie.av1.mp4",
		"/media/clip.mkv":      "/media/clip.av1.mkv",
		"/media/raw":           "/media/raw.av1.mp4",
		"/media.d/raw":         "/media.d/raw.av1.mp4",
		"s3://bucket/in/a.mov": "s3://bucket/in/a.av1.mov",
		"/media/two.dots.mp4":  "/media/two.dots.av1.mp4",
		"/media/.hidden":       "/media/.hidden.av1.mp4",
	}
	for in, want := range cases {
		if got := DefaultOutputPath(in); got != want {
			t.Errorf("DefaultOutputPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidateStruct(t *testing.T) {
	type input struct {
		Path string `validate:"required"`
		N    int    `validate:"gte=0"`
	}
	if err := ValidateStruct(context.Background(), &input{Path: "a"}); err != nil {
		t.Errorf("valid struct rejected: %v", err)
	}
	if err := ValidateStruct(context.Background(), &input{N: -1}); err == nil {
		t.Error("invalid struct accepted")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	tok, err := GenerateJWTToken("encoder-farm", "secret", time.Minute)
	if err != nil {
		t.Fatalf("GenerateJWTToken: %v", err)
	}
	claims, err := ValidateToken(tok, "secret")
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Client != "encoder-farm" || claims.Subject != "encoder-farm" {
		t.Errorf("claims = %+v", claims)
	}
	if _, err := ValidateToken(tok, "other"); err == nil {
		t.Error("token accepted with the wrong key")
	}
}

func TestPaginationFromCtx(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("GET", "/?page=3&size=20&orderBy=status", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	p, err := GetPaginationFromCtx(c)
	if err != nil {
		t.Fatalf("GetPaginationFromCtx: %v", err)
	}
	if p.GetOffset() != 40 || p.GetLimit() != 20 || p.GetOrderBy() != "status" {
		t.Errorf("pagination = %+v", p)
	}

	req = httptest.NewRequest("GET", "/?orderBy=password", nil)
	p, _ = GetPaginationFromCtx(e.NewContext(req, httptest.NewRecorder()))
	if p.GetOrderBy() != "enqueued_at" || p.GetLimit() != defaultSize {
		t.Errorf("defaults = %+v", p)
	}

	req = httptest.NewRequest("GET", "/?size=0", nil)
	if _, err := GetPaginationFromCtx(e.NewContext(req, httptest.NewRecorder())); err == nil {
		t.Error("size 0 accepted")
	}
	if GetTotalPages(21, 10) != 3 || !GetHasMore(1, 21, 10) {
		t.Error("page math")
	}
}

func TestWithinRoots(t *testing.T) {
	roots := []string{"/media", "/srv/jobs/"}
	tests := []struct {
		path string
		want bool
	}{
		{"/media", true},
		{"/media/in/movie.mp4", true},
		{"/srv/jobs/a/b.mkv", true},
		{"/media/../etc/passwd", false},
		{"/mediax/movie.mp4", false},
		{"media/movie.mp4", false},
		{"/", false},
	}
	for _, tt := range tests {
		if got := WithinRoots(tt.path, roots); got != tt.want {
			t.Errorf("WithinRoots(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
	if WithinRoots("/media/movie.mp4", []string{"relative"}) {
		t.Error("relative root accepted")
	}
}
