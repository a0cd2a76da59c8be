// Package pkgarchive gives random access to a downloaded Polygon problem
// package and its problem.xml descriptor.
package pkgarchive

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/acmoj/polygon-importer/pkg/api"
)

// DescriptorName is the member every well-formed package must contain.
const DescriptorName = "problem.xml"

// Archive is an opened problem package. Members are addressed by the path
// strings the descriptor references them with.
type Archive struct {
	Problem *Problem

	zr      *zip.ReadCloser
	members map[string]*zip.File
}

// Open opens the package at path and parses its descriptor. A package
// without problem.xml is a domain error.
func Open(path string) (*Archive, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("could not open package %s: %w", path, err)
	}

	archive := &Archive{zr: zr, members: make(map[string]*zip.File, len(zr.File))}
	for _, member := range zr.File {
		archive.members[member.Name] = member
	}

	descriptor, err := archive.Read(DescriptorName)
	if err != nil {
		zr.Close()
		return nil, api.ImportErrorf("%s not found in package", DescriptorName)
	}

	problem := &Problem{}
	if err := xml.Unmarshal(descriptor, problem); err != nil {
		zr.Close()
		return nil, api.ImportErrorf("malformed %s: %v", DescriptorName, err)
	}
	archive.Problem = problem

	return archive, nil
}

// Has reports whether the package contains the named member.
func (a *Archive) Has(name string) bool {
	_, ok := a.members[name]
	return ok
}

// Read returns the full content of the named member. A missing member is a
// domain error: every member the importer reads is referenced by the
// descriptor.
func (a *Archive) Read(name string) ([]byte, error) {
	src, err := a.Open(name)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return io.ReadAll(src)
}

// Open returns a reader over the named member.
func (a *Archive) Open(name string) (io.ReadCloser, error) {
	member, ok := a.members[name]
	if !ok {
		return nil, api.ImportErrorf("file %s not found in package", name)
	}
	src, err := member.Open()
	if err != nil {
		return nil, fmt.Errorf("could not open package member %s: %w", name, err)
	}
	return src, nil
}

// Extract copies the named member to destination on disk.
func (a *Archive) Extract(name, destination string) error {
	src, err := a.Open(name)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return fmt.Errorf("could not create directory for %s: %w", destination, err)
	}
	dst, err := os.Create(destination)
	if err != nil {
		return fmt.Errorf("could not create %s: %w", destination, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("could not extract %s to %s: %w", name, destination, err)
	}
	return nil
}

// Close releases the underlying ZIP reader.
func (a *Archive) Close() error {
	return a.zr.Close()
}
