// Package imagegen produces one image file per board entity.
package imagegen

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cfi-labs/boardgen/internal/shared"
	"github.com/zeebo/blake3"
)

// Producer acquires an image for one entity. A false result means no image
// was produced; it is never an error and callers fall back to a placeholder.
type Producer interface {
	Produce(ctx context.Context, entity, prompt, dir, prefix string) (string, bool)
}

// writeImage stores data under a unique content-derived name inside dir and
// returns the filename. The random nonce keeps identical bytes from colliding.
func writeImage(dir, prefix string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create image directory: %w", err)
	}

	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	h := blake3.New()
	_, _ = h.Write(data)
	_, _ = h.Write(nonce[:])
	name := shared.SanitizePrefix(prefix) + "img_" + hex.EncodeToString(h.Sum(nil))[:16] + ".png"

	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("create image file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write image file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("close image file: %w", err)
	}
	return name, nil
}
