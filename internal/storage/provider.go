// Package storage keeps chart records as files in one directory tree.
package storage

import "github.com/starford/harmonia/internal/models"

// Provider stores chart files. Paths are slash separated and relative to
// the chart directory.
type Provider interface {
	List(dir string) ([]models.ChartMetadata, error)
	Read(path string) ([]byte, error)
	Write(path string, content []byte) error
	Delete(path string) error
}
