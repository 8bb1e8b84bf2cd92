// Package ripgrep locates the rg binary, downloading a checksum-verified
// release into the per-user cache (~/.cowork/bin) when it is not installed.
package ripgrep

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"github.com/cowork-ai/cowork/internal/logging"
)

const (
	version     = "14.1.1"
	releaseBase = "https://github.com/BurntSushi/ripgrep/releases/download"

	downloadTimeout = 2 * time.Minute
	maxArchiveSize  = 64 << 20
)

// checksums are the published sha256 digests of the release archives.
var checksums = map[string]string{
	"ripgrep-14.1.1-x86_64-unknown-linux-musl.tar.gz":  "4cf9f2741e6c465ffdb7c26f38056a59e2a2544b51f7cc128ef28337eeae4d8e",
	"ripgrep-14.1.1-aarch64-unknown-linux-gnu.tar.gz":  "c827481c4ff4ea10c9dc7a4022c8de5db34a5737cb74484d62eb94a95841ab2f",
	"ripgrep-14.1.1-x86_64-apple-darwin.tar.gz":        "b4b3b6a15165a565f8d0d04a5d3d8b1b6da4be5392cc1cf02ef4db039031c1fd",
	"ripgrep-14.1.1-aarch64-apple-darwin.tar.gz":       "24ad76777745311b6a8cc6a68ed85fcd23d9e4581a135ed6bccabb4c4e56eeeb",
	"ripgrep-14.1.1-x86_64-pc-windows-msvc.zip":        "a0ae98efe04b42e64fa0d9e9fba1b3a4d1f7b343fa714caee33a7077c3ef9a50",
}

// group dedupes concurrent downloads per home directory, process-wide.
var group singleflight.Group

// EnsureBinary returns the path to a usable rg binary: $PATH if present,
// else the cached copy under home/.cowork/bin, downloading it on first use.
func EnsureBinary(ctx context.Context, home string) (string, error) {
	if path, err := exec.LookPath(rgName()); err == nil {
		return path, nil
	}

	if home == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home: %w", err)
		}
		home = h
	}

	cached := filepath.Join(home, ".cowork", "bin", rgName())
	if _, err := os.Stat(cached); err == nil {
		return cached, nil
	}

	// One in-flight download per home directory.
	result, err, _ := group.Do(home, func() (any, error) {
		if _, err := os.Stat(cached); err == nil {
			return cached, nil
		}
		if err := download(ctx, cached); err != nil {
			return "", err
		}
		return cached, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func rgName() string {
	if runtime.GOOS == "windows" {
		return "rg.exe"
	}
	return "rg"
}

// assetName maps GOOS/GOARCH to the release archive name.
func assetName() (string, error) {
	switch {
	case runtime.GOOS == "linux" && runtime.GOARCH == "amd64":
		return fmt.Sprintf("ripgrep-%s-x86_64-unknown-linux-musl.tar.gz", version), nil
	case runtime.GOOS == "linux" && runtime.GOARCH == "arm64":
		return fmt.Sprintf("ripgrep-%s-aarch64-unknown-linux-gnu.tar.gz", version), nil
	case runtime.GOOS == "darwin" && runtime.GOARCH == "amd64":
		return fmt.Sprintf("ripgrep-%s-x86_64-apple-darwin.tar.gz", version), nil
	case runtime.GOOS == "darwin" && runtime.GOARCH == "arm64":
		return fmt.Sprintf("ripgrep-%s-aarch64-apple-darwin.tar.gz", version), nil
	case runtime.GOOS == "windows" && runtime.GOARCH == "amd64":
		return fmt.Sprintf("ripgrep-%s-x86_64-pc-windows-msvc.zip", version), nil
	default:
		return "", fmt.Errorf("no ripgrep release for %s/%s", runtime.GOOS, runtime.GOARCH)
	}
}

func download(ctx context.Context, dest string) error {
	asset, err := assetName()
	if err != nil {
		return err
	}
	want, ok := checksums[asset]
	if !ok {
		return fmt.Errorf("no checksum recorded for %s", asset)
	}
	url := fmt.Sprintf("%s/%s/%s", releaseBase, version, asset)

	logging.Info().Str("url", url).Msg("downloading ripgrep")

	var archive []byte
	fetch := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, downloadTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
		}
		archive, err = io.ReadAll(io.LimitReader(resp.Body, maxArchiveSize))
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(fetch, policy); err != nil {
		return fmt.Errorf("download ripgrep: %w", err)
	}

	sum := sha256.Sum256(archive)
	if got := hex.EncodeToString(sum[:]); got != want {
		return fmt.Errorf("ripgrep checksum mismatch for %s: got %s", asset, got)
	}

	binary, err := extract(archive, asset)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, binary, 0755); err != nil {
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// extract pulls the rg binary out of the release archive.
func extract(archive []byte, asset string) ([]byte, error) {
	if strings.HasSuffix(asset, ".zip") {
		return extractZip(archive)
	}
	return extractTarGz(archive)
}

func extractTarGz(archive []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if filepath.Base(hdr.Name) == "rg" && hdr.Typeflag == tar.TypeReg {
			return io.ReadAll(io.LimitReader(tr, maxArchiveSize))
		}
	}
	return nil, fmt.Errorf("rg not found in archive")
}

func extractZip(archive []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, err
	}
	for _, f := range zr.File {
		if filepath.Base(f.Name) == "rg.exe" {
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return io.ReadAll(io.LimitReader(rc, maxArchiveSize))
		}
	}
	return nil, fmt.Errorf("rg.exe not found in archive")
}
