package cli

import (
	"fmt"
	"net/http"
	"os"

	"github.com/nosqlbench/nbdatatools-sub006/internal/channel"
	"github.com/nosqlbench/nbdatatools-sub006/internal/config"
)

// resolveCacheDir honors --cache-dir if set, otherwise falls back to the
// persisted config default.
func resolveCacheDir() (string, error) {
	if cacheDirFlag != "" {
		return cacheDirFlag, nil
	}
	cfg, err := config.Load("")
	if err != nil {
		return "", err
	}
	if cfg.Cache.Root == "" {
		return "", fmt.Errorf("no cache directory configured; pass --cache-dir")
	}
	return cfg.Cache.Root, nil
}

// openChannel resolves the cache directory and opens a Channel for url,
// letting the painter pick its defaults for the dataset's geometry. Painter
// settings from the config files are not threaded through here; Open uses
// painter.DefaultConfig for the dataset's geometry, or a per-dataset
// override found in the cache's metadata store.
func openChannel(url string) (*channel.Channel, error) {
	cacheDir, err := resolveCacheDir()
	if err != nil {
		return nil, err
	}
	return channel.Open(http.DefaultClient, url, cacheDir, nil)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
