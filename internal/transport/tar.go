package transport

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
)

// tarSingleFile wraps content as a one-entry tar stream, the format the
// Docker Engine API's CopyToContainer endpoint requires.
func tarSingleFile(name string, content []byte) (*bytes.Buffer, error) {
	buf := &bytes.Buffer{}
	w := tar.NewWriter(buf)
	hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
	if err := w.WriteHeader(hdr); err != nil {
		return nil, err
	}
	if _, err := w.Write(content); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf, nil
}

// untarSingleFile reads the first regular-file entry out of a tar stream,
// the format CopyFromContainer returns.
func untarSingleFile(r io.Reader) ([]byte, error) {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("tar stream contained no file entries")
		}
		if err != nil {
			return nil, err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		var out bytes.Buffer
		if _, err := io.Copy(&out, tr); err != nil {
			return nil, err
		}
		return out.Bytes(), nil
	}
}
