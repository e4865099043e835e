package ocr

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rotisserie/eris"
)

const defaultCacheSize = 256

// Cached memoises a recognizer by image content, so identical frames or
// repeated cover images are recognised once.
type Cached struct {
	inner TextRecognizer
	cache *lru.Cache[string, Result]
}

// NewCached wraps inner with an LRU cache of the given size.
func NewCached(inner TextRecognizer, size int) (*Cached, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	c, err := lru.New[string, Result](size)
	if err != nil {
		return nil, eris.Wrap(err, "ocr: create cache")
	}
	return &Cached{inner: inner, cache: c}, nil
}

// Name returns the wrapped recognizer's name.
func (c *Cached) Name() string { return c.inner.Name() }

// Recognize returns a cached result for identical bytes, otherwise
// delegates. Failures are not cached.
func (c *Cached) Recognize(ctx context.Context, imagePath string) (Result, error) {
	key, err := fileDigest(imagePath)
	if err != nil {
		return Result{}, err
	}
	if res, ok := c.cache.Get(key); ok {
		return res, nil
	}
	res, err := c.inner.Recognize(ctx, imagePath)
	if err != nil {
		return Result{}, err
	}
	c.cache.Add(key, res)
	return res, nil
}

// Len returns the number of cached results.
func (c *Cached) Len() int { return c.cache.Len() }

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", eris.Wrapf(err, "ocr: open image %s", path)
	}
	defer f.Close() //nolint:errcheck

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", eris.Wrapf(err, "ocr: hash image %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
