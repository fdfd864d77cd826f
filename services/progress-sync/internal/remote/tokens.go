package remote

import (
	"strings"

	"github.com/spf13/afero"
)

// TokenProvider returns the current bearer token, or false when signed out.
type TokenProvider interface {
	CurrentToken() (string, bool)
}

// TokenFunc adapts a function to TokenProvider.
type TokenFunc func() (string, bool)

func (f TokenFunc) CurrentToken() (string, bool) { return f() }

// StaticToken always returns the same token. The empty string means signed out.
type StaticToken string

func (t StaticToken) CurrentToken() (string, bool) {
	v := strings.TrimSpace(string(t))
	return v, v != ""
}

// FileToken reads the token from a file on every call, so a sign-in or sign-out
// by another process is picked up without restarting. A missing or blank file
// means signed out.
type FileToken struct {
	Fs   afero.Fs
	Path string
}

func (f FileToken) CurrentToken() (string, bool) {
	fs := f.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	b, err := afero.ReadFile(fs, f.Path)
	if err != nil {
		return "", false
	}
	v := strings.TrimSpace(string(b))
	return v, v != ""
}
