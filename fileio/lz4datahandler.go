package fileio

import (
	"bytes"
	"io"

	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

// CompressPayload compresses a whole payload into a self-describing LZ4 frame
func CompressPayload(payload []byte) ([]byte, error) {
	buffer := bytes.NewBuffer(make([]byte, 0, len(payload)/2+64))
	zw := lz4.NewWriter(buffer)
	if _, err := zw.Write(payload); err != nil {
		return nil, errors.Wrap(err, "lz4 compress")
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "lz4 compress")
	}
	return buffer.Bytes(), nil
}

// DecompressPayload returns uncompressed data of given LZ4 frame
func DecompressPayload(payload []byte) ([]byte, error) {
	raw, err := io.ReadAll(lz4.NewReader(bytes.NewReader(payload)))
	if err != nil {
		return nil, errors.Wrap(err, "lz4 decompress")
	}
	return raw, nil
}
