package datasets

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/meridian-analytics/lingua/util"
)

// DownloadOptions is a struct of options that can be passed to Download.
type DownloadOptions struct {
	MaxRetries    int
	RetryInterval int
	Verbose       bool
}

// NewDownloadOptions creates a new DownloadOptions struct with default values.
// Override the values to specify different download options.
func NewDownloadOptions() DownloadOptions {
	d := DownloadOptions{}
	d.MaxRetries = 5
	d.RetryInterval = 5
	return d
}

// Download fetches a corpus archive from url and extracts it under
// destination. Both .zip and .tar.gz archives are supported.
func Download(url string, destination string, options DownloadOptions) error {
	var data []byte
	var downloadErr error
	for i := 0; i < options.MaxRetries; i++ {
		data, downloadErr = fetch(url)
		if downloadErr == nil {
			break
		}
		if options.Verbose {
			fmt.Printf("Warning: attempt %d / %d failed, error: %s\n", i+1, options.MaxRetries, downloadErr)
		}
		time.Sleep(time.Duration(options.RetryInterval) * time.Second)
	}
	if downloadErr != nil {
		return fmt.Errorf("failed to download %s: %w", url, downloadErr)
	}

	switch {
	case strings.HasSuffix(url, ".zip"):
		return extractZip(data, destination)
	case strings.HasSuffix(url, ".tar.gz"), strings.HasSuffix(url, ".tgz"):
		return extractTarGz(data, destination)
	default:
		return fmt.Errorf("unsupported archive format: %s", url)
	}
}

func fetch(url string) ([]byte, error) {
	response, err := http.Get(url)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", response.Status)
	}
	return io.ReadAll(response.Body)
}

func extractZip(data []byte, destination string) error {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return err
	}
	for _, file := range reader.File {
		if file.FileInfo().IsDir() {
			continue
		}
		source, err := file.Open()
		if err != nil {
			return err
		}
		if err := writeExtracted(util.PathJoinSafe(destination, file.Name), source); err != nil {
			return errors.Join(err, source.Close())
		}
		if err := source.Close(); err != nil {
			return err
		}
	}
	return nil
}

func extractTarGz(data []byte, destination string) error {
	gzipReader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer gzipReader.Close()

	tarReader := tar.NewReader(gzipReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		if err := writeExtracted(util.PathJoinSafe(destination, header.Name), tarReader); err != nil {
			return err
		}
	}
}

func writeExtracted(path string, source io.Reader) error {
	if strings.Contains(path, "..") {
		return fmt.Errorf("refusing to extract archive entry outside destination: %s", path)
	}
	writer, err := util.NewFileWriter(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(writer, source); err != nil {
		return errors.Join(err, writer.Close())
	}
	return writer.Close()
}
