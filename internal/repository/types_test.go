package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/seagent/internal/config"
)

func TestDescriptor_Normalize(t *testing.T) {
	d := Descriptor{URL: " https://example.com/r ", SrcFolder: "./src/"}.Normalize()
	assert.Equal(t, "https://example.com/r", d.URL)
	assert.Equal(t, "main", d.Branch)
	assert.Equal(t, "src", d.SrcFolder)

	assert.Equal(t, "", Descriptor{SrcFolder: "/"}.Normalize().SrcFolder)
	assert.Equal(t, "", Descriptor{SrcFolder: "."}.Normalize().SrcFolder)
}

func TestDescriptor_Key(t *testing.T) {
	a := Descriptor{URL: "https://example.com/r", SrcFolder: "src"}
	b := Descriptor{URL: "https://example.com/r", Branch: "main", SrcFolder: "src/"}
	assert.Equal(t, "https://example.com/r@main:src", a.Key())
	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), Descriptor{URL: "https://example.com/r", Branch: "dev", SrcFolder: "src"}.Key())
}

func TestDescriptor_Validate(t *testing.T) {
	tests := []struct {
		name    string
		desc    Descriptor
		wantErr bool
	}{
		{"https", Descriptor{URL: "https://example.com/r"}, false},
		{"file", Descriptor{URL: "file:///tmp/r"}, false},
		{"github", Descriptor{URL: "github://owner/repo"}, false},
		{"empty", Descriptor{}, true},
		{"scheme", Descriptor{URL: "ftp://example.com/r"}, true},
		{"traversal", Descriptor{URL: "https://example.com/r", SrcFolder: "../etc"}, true},
		{"dots in name", Descriptor{URL: "https://example.com/r", SrcFolder: "a..b"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.desc.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDescriptor_Under(t *testing.T) {
	d := Descriptor{SrcFolder: "src"}
	assert.True(t, d.Under("src/a.go"))
	assert.False(t, d.Under("srcs/a.go"))
	assert.False(t, d.Under("README.md"))
	assert.True(t, Descriptor{}.Under("README.md"))

	assert.False(t, d.Under("src/../secret.txt"))
	assert.False(t, d.Under("./src/a.go"))
	assert.False(t, d.Under("/src/a.go"))
	assert.False(t, d.Under(`src\a.go`))
	assert.False(t, Descriptor{}.Under("../outside.go"))
}

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"src/a.go", "src/a.go", true},
		{"./src/a.go", "src/a.go", true},
		{`src\api\a.go`, "src/api/a.go", true},
		{"src//a.go", "src/a.go", true},
		{"src/util/", "src/util", true},
		{"src/../secret.txt", "", false},
		{"../secret.txt", "", false},
		{"/etc/passwd", "", false},
		{".", "", false},
		{"  ", "", false},
	}
	for _, tt := range tests {
		got, ok := CleanPath(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestEvent_IsUpdate(t *testing.T) {
	var nilEvent *Event
	assert.False(t, nilEvent.IsUpdate())
	assert.False(t, (&Event{Type: EventOnboard}).IsUpdate())
	assert.True(t, (&Event{Type: EventUpdate}).IsUpdate())
}

func TestCredential(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, config.Secret("fallback"), credential(ctx, "fallback"))

	ctx = WithCredential(ctx, "from-ctx")
	assert.Equal(t, config.Secret("from-ctx"), credential(ctx, "fallback"))

	// An empty token leaves the context untouched.
	_, ok := CredentialFromContext(WithCredential(context.Background(), ""))
	assert.False(t, ok)
}

func TestIsMedia(t *testing.T) {
	assert.True(t, IsMedia("a/b/logo.PNG"))
	assert.True(t, IsMedia("clip.mp4"))
	assert.False(t, IsMedia("main.go"))
	assert.False(t, IsMedia("Makefile"))
}
