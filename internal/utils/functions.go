package utils

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// NormalizeURL validates an http(s) URL and returns it percent-encoded.
func NormalizeURL(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("%w: %q in %s", ErrUnsupportedScheme, parsed.Scheme, raw)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingHost, raw)
	}
	return parsed.String(), nil
}

// FileNameFromURL returns the last segment of the URL path, or
// FallbackFileName when the path has none.
func FileNameFromURL(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	if parsed.Path == "" || strings.HasSuffix(parsed.Path, "/") {
		return FallbackFileName, nil
	}
	name := path.Base(parsed.Path)
	// a decoded %2F or a Windows separator must not escape the directory
	name = filepath.Base(filepath.FromSlash(name))
	if name == "." || name == ".." || name == string(filepath.Separator) || name == "" {
		return FallbackFileName, nil
	}
	return name, nil
}

func ResolveDestination(rawURL, directory string) (string, error) {
	name, err := FileNameFromURL(rawURL)
	if err != nil {
		return "", err
	}
	return filepath.Join(directory, name), nil
}

// DetectCollisions reports the first pair of URLs resolving to the same path.
// urls and paths are parallel slices.
func DetectCollisions(urls, paths []string) error {
	seen := make(map[string]int, len(paths))
	for i, p := range paths {
		key := filepath.Clean(p)
		if j, ok := seen[key]; ok {
			return fmt.Errorf("%w: %s and %s both resolve to %s", ErrDestinationCollision, urls[j], urls[i], p)
		}
		seen[key] = i
	}
	return nil
}

func ReadURLList(filePath string) ([]string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading URL list: %w", err)
	}
	var entries []DownloadEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("error parsing URL list: %w", err)
	}
	var urls []string
	for _, entry := range entries {
		if strings.TrimSpace(entry.URL) == "" {
			continue
		}
		urls = append(urls, entry.URL)
	}
	return urls, nil
}

func EnsureDirectory(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating directory %s: %w", dir, err)
	}
	return nil
}
