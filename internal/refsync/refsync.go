// Package refsync implements the reference-tree acquisition protocol of
// spec.md §4.4: establish trust in a dataset's content by obtaining (or
// cheaply confirming) the authoritative Merkle tree from its origin.
package refsync

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/nosqlbench/nbdatatools-sub006/internal/merkletree"
	"github.com/nosqlbench/nbdatatools-sub006/internal/nbdterr"
)

// maxAttempts bounds the retries spec.md §4.4 step 3 allows for transport
// errors or load-validation failures before surfacing ReferenceUnavailable.
const maxAttempts = 3

// HTTPDoer is the subset of *http.Client this package needs, so tests can
// substitute an httptest.Server-backed client without touching a real
// network.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Sync ensures refPath holds a valid, current Merkle reference tree for
// contentURL. If refPath already exists and its footer agrees with the
// remote footer, no download occurs. Otherwise the full remote tree is
// downloaded to a temp file and atomically renamed into place, validated
// via merkletree.Load.
func Sync(client HTTPDoer, contentURL, refPath string) error {
	merkleURL := contentURL + ".mrkl"

	if localFooter, err := merkletree.ReadFooterFromFile(refPath); err == nil {
		if remoteFooter, err := probeFooter(client, merkleURL); err == nil {
			if localFooter.Equal(remoteFooter) {
				return nil // local reference is current; no download
			}
		}
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := downloadAndValidate(client, merkleURL, refPath); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return nbdterr.Wrap(nbdterr.ReferenceUnavailable, lastErr, "acquire reference tree from %s after %d attempts", merkleURL, maxAttempts)
}

// probeFooter fetches just the last footer-length bytes of the remote
// Merkle file via a ranged GET, avoiding a full download when only a cheap
// comparison is needed.
func probeFooter(client HTTPDoer, merkleURL string) (merkletree.Footer, error) {
	req, err := http.NewRequest(http.MethodGet, merkleURL, nil)
	if err != nil {
		return merkletree.Footer{}, nbdterr.Wrap(nbdterr.Transport, err, "build footer probe request")
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=-%d", merkletree.FooterSize))

	resp, err := client.Do(req)
	if err != nil {
		return merkletree.Footer{}, nbdterr.Wrap(nbdterr.Transport, err, "footer probe request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return merkletree.Footer{}, nbdterr.New(nbdterr.Transport, "footer probe returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return merkletree.Footer{}, nbdterr.Wrap(nbdterr.Transport, err, "read footer probe body")
	}
	if len(body) < int(merkletree.FooterSize) {
		return merkletree.Footer{}, nbdterr.New(nbdterr.Transport, "footer probe returned short body (%d bytes)", len(body))
	}
	tail := body[len(body)-int(merkletree.FooterSize):]
	return merkletree.DecodeFooter(tail)
}

// downloadAndValidate downloads the full remote Merkle file into a temp
// path beside refPath, renames it atomically into place, and validates it
// via merkletree.Load (which checks the tree-region digest).
func downloadAndValidate(client HTTPDoer, merkleURL, refPath string) error {
	req, err := http.NewRequest(http.MethodGet, merkleURL, nil)
	if err != nil {
		return nbdterr.Wrap(nbdterr.Transport, err, "build reference download request")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nbdterr.Wrap(nbdterr.Transport, err, "download reference tree from %s", merkleURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nbdterr.New(nbdterr.Transport, "reference download returned status %d", resp.StatusCode)
	}

	dir := filepath.Dir(refPath)
	tmp, err := os.CreateTemp(dir, ".mrkl-download-*")
	if err != nil {
		return nbdterr.Wrap(nbdterr.Io, err, "create temp file for reference download")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return nbdterr.Wrap(nbdterr.Transport, err, "copy reference download body")
	}
	if err := tmp.Close(); err != nil {
		return nbdterr.Wrap(nbdterr.Io, err, "close temp reference file")
	}

	if err := os.Rename(tmpPath, refPath); err != nil {
		return nbdterr.Wrap(nbdterr.Io, err, "rename reference download into place")
	}

	tr, err := merkletree.Load(refPath)
	if err != nil {
		return err // already a Corrupt/Io nbdterr.Error
	}
	return tr.Close()
}

// EnsureContentFile creates an empty content file at path if none exists.
func EnsureContentFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return nbdterr.Wrap(nbdterr.Io, err, "stat content file %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return nbdterr.Wrap(nbdterr.Io, err, "create content file %s", path)
	}
	return f.Close()
}

// ContentNewerThanLocalTree reports whether the content file at
// contentPath has a modification time strictly after the local tree file
// at localTreePath, per spec.md §4.4 step 5: a signal that the content
// file may hold verified bytes the local tree has forgotten.
func ContentNewerThanLocalTree(contentPath, localTreePath string) (bool, error) {
	contentInfo, err := os.Stat(contentPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, nbdterr.Wrap(nbdterr.Io, err, "stat content file %s", contentPath)
	}
	treeInfo, err := os.Stat(localTreePath)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, nbdterr.Wrap(nbdterr.Io, err, "stat local tree file %s", localTreePath)
	}
	return contentInfo.ModTime().After(treeInfo.ModTime()), nil
}
