package fileio

import (
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const defaultWriteBuffer = 256 * 1024

// FileFallbackName names file transfers that arrived without a usable name
func FileFallbackName(id int64) string {
	return fmt.Sprintf("transfer_%d.bin", id)
}

// FrameFallbackName names frames, which never carry a name
func FrameFallbackName(id int64) string {
	return fmt.Sprintf("frame_%d.jpg", id)
}

// FileSink does buffered writes of assembled payloads into a session folder
type FileSink struct {
	folder     string
	bufferSize int
	sha        bool
	fallback   func(id int64) string
	log        *log.Logger
}

// NewSessionSink creates a new timestamped session folder under root
func NewSessionSink(root string, bufferSize int, sha bool, logger *log.Logger) (*FileSink, error) {
	if bufferSize <= 0 {
		bufferSize = defaultWriteBuffer
	}
	folder, err := filepath.Abs(filepath.Join(root, time.Now().Format("2006-01-02T15-04-05")))
	if err != nil {
		return nil, errors.Wrap(err, "resolve session folder")
	}
	if err := os.MkdirAll(folder, os.ModePerm); err != nil {
		return nil, errors.Wrap(err, "create session folder")
	}
	return &FileSink{
		folder:     folder,
		bufferSize: bufferSize,
		sha:        sha,
		fallback:   FileFallbackName,
		log:        logger,
	}, nil
}

// WithFallback sets naming for payloads without a usable name
func (s *FileSink) WithFallback(fallback func(id int64) string) *FileSink {
	s.fallback = fallback
	return s
}

// Folder returns the session folder
func (s *FileSink) Folder() string {
	return s.folder
}

// Path returns where payload would be written
func (s *FileSink) Path(p *Payload) (string, error) {
	name := SanitizeFilename(p.Name)
	if name == "" {
		name = s.fallback(p.TransferID)
	}
	path := filepath.Join(s.folder, name)
	// We must never stray outside the session folder.
	if !strings.HasPrefix(path, s.folder+string(os.PathSeparator)) {
		return "", errors.Errorf("invalid path %s: %s", path, s.folder)
	}
	return path, nil
}

// Deliver writes payload to its file, replacing any earlier file of the same name
func (s *FileSink) Deliver(p *Payload) error {
	path, err := s.Path(p)
	if err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create output file")
	}
	writer := bufio.NewWriterSize(file, s.bufferSize)

	var shaHash hash.Hash
	var crc uint32
	for data := p.Data; len(data) > 0; {
		n := min(len(data), s.bufferSize)
		if _, err := writer.Write(data[:n]); err != nil {
			file.Close()
			return errors.Wrap(err, "write output file")
		}
		// Update hash.
		if s.sha {
			shaHash = progressiveChecksumSHA256(shaHash, data[:n])
		} else {
			crc = progressiveChecksumCRC32(crc, data[:n])
		}
		data = data[n:]
	}

	// Write any remaining bytes.
	if err := writer.Flush(); err != nil {
		file.Close()
		return errors.Wrap(err, "flush output file")
	}
	if err := file.Close(); err != nil {
		return errors.Wrap(err, "close output file")
	}

	var sum []byte
	if s.sha {
		if shaHash == nil {
			shaHash = sha256.New()
		}
		sum = shaHash.Sum(nil)
	} else {
		sum = binary.BigEndian.AppendUint32(make([]byte, 0, 4), crc)
	}

	if s.log != nil {
		s.log.Printf("Completed write: %s (transfer=%d, %d bytes, checksum %s)",
			path, p.TransferID, len(p.Data), hex.EncodeToString(sum))
	}
	return nil
}
