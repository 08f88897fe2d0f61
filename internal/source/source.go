// Package source classifies the run input and materializes it as a local video path.
package source

import (
	"context"
	"strings"

	"dubber/internal/services"
)

// Kind distinguishes remote URLs from local paths.
type Kind string

const (
	KindLocal  Kind = "local"
	KindRemote Kind = "remote"
)

// Input is the immutable, classified run input.
type Input struct {
	Kind Kind
	Raw  string
}

// Remote reports whether the input must be downloaded.
func (i Input) Remote() bool {
	return i.Kind == KindRemote
}

// Classify inspects raw once. Only an exact http:// or https:// prefix makes
// an input remote; everything else is treated as a local path without any
// existence check.
func Classify(raw string) (Input, error) {
	if strings.TrimSpace(raw) == "" {
		return Input{}, services.Wrap(services.ErrValidation, "resolve", "classify input", "input identifier is empty", nil)
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return Input{Kind: KindRemote, Raw: raw}, nil
	}
	return Input{Kind: KindLocal, Raw: raw}, nil
}

// Fetcher downloads a remote video to dest.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string) error
}

// Resolver turns a classified input into a local video path.
type Resolver struct {
	fetcher Fetcher
}

// NewResolver builds a resolver around the given fetch collaborator.
func NewResolver(fetcher Fetcher) *Resolver {
	return &Resolver{fetcher: fetcher}
}

// Resolve returns in.Raw unchanged for local inputs. Remote inputs are
// fetched exactly once into downloadPath, which is returned on success.
func (r *Resolver) Resolve(ctx context.Context, in Input, downloadPath string) (string, error) {
	switch in.Kind {
	case KindLocal:
		return in.Raw, nil
	case KindRemote:
	default:
		return "", services.Wrap(services.ErrValidation, "resolve", "resolve input", "unknown input kind "+string(in.Kind), nil)
	}
	if r == nil || r.fetcher == nil {
		return "", services.Wrap(services.ErrConfiguration, "resolve", "fetch video", "no fetcher configured for remote input", nil)
	}
	if strings.TrimSpace(downloadPath) == "" {
		return "", services.Wrap(services.ErrValidation, "resolve", "fetch video", "no download path reserved for remote input", nil)
	}
	if err := r.fetcher.Fetch(ctx, in.Raw, downloadPath); err != nil {
		return "", services.Wrap(services.ErrFetch, "resolve", "fetch video", "download "+in.Raw+" failed", err)
	}
	return downloadPath, nil
}
