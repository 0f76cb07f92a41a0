package fileio

import (
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestSink(t *testing.T, sha bool) *FileSink {
	sink, err := NewSessionSink(t.TempDir(), 16, sha, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	return sink
}

func TestFileSinkWritesPayload(t *testing.T) {
	for _, sha := range []bool{false, true} {
		sink := newTestSink(t, sha)
		data := make([]byte, 1000)
		for i := range data {
			data[i] = byte(i)
		}

		require.NoError(t, sink.Deliver(&Payload{TransferID: 1, Name: "out.bin", Data: data}))

		written, err := os.ReadFile(filepath.Join(sink.Folder(), "out.bin"))
		require.NoError(t, err)
		require.Equal(t, data, written)
	}
}

func TestFileSinkStaysInSessionFolder(t *testing.T) {
	sink := newTestSink(t, false)

	require.NoError(t, sink.Deliver(&Payload{TransferID: 2, Name: "../../escape.txt", Data: []byte("x")}))

	_, err := os.Stat(filepath.Join(sink.Folder(), "escape.txt"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(filepath.Dir(sink.Folder()), "escape.txt"))
	require.True(t, os.IsNotExist(err))
}

func TestFileSinkFallbackNames(t *testing.T) {
	sink := newTestSink(t, false)

	require.NoError(t, sink.Deliver(&Payload{TransferID: 3, Name: "..", Data: nil}))
	info, err := os.Stat(filepath.Join(sink.Folder(), "transfer_3.bin"))
	require.NoError(t, err)
	require.Zero(t, info.Size())

	sink.WithFallback(FrameFallbackName)
	path, err := sink.Path(&Payload{TransferID: 77})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(sink.Folder(), "frame_77.jpg"), path)
}

func TestTeeSink(t *testing.T) {
	var got []int64
	boom := errors.New("boom")
	tee := TeeSink{
		FuncSink(func(p *Payload) error { got = append(got, p.TransferID); return nil }),
		FuncSink(func(p *Payload) error { return boom }),
		FuncSink(func(p *Payload) error { got = append(got, -p.TransferID); return nil }),
	}

	err := tee.Deliver(&Payload{TransferID: 5})
	require.ErrorIs(t, err, boom)
	require.Equal(t, []int64{5, -5}, got)
}

func TestPreviewSinkKeepsNewest(t *testing.T) {
	preview := NewPreviewSink()
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, preview.Deliver(&Payload{TransferID: i}))
	}

	latest := <-preview.Frames()
	require.Equal(t, int64(3), latest.TransferID)
	select {
	case p := <-preview.Frames():
		t.Fatalf("unexpected stale frame %d", p.TransferID)
	default:
	}
}

func TestLZ4PayloadRoundTrip(t *testing.T) {
	payload := make([]byte, 100000)
	for i := range payload {
		payload[i] = byte(i % 7)
	}

	compressed, err := CompressPayload(payload)
	require.NoError(t, err)
	require.Less(t, len(compressed), len(payload))

	raw, err := DecompressPayload(compressed)
	require.NoError(t, err)
	require.Equal(t, payload, raw)

	_, err = DecompressPayload([]byte("definitely not lz4"))
	require.Error(t, err)
}

func TestPayloadChecksum(t *testing.T) {
	require.Equal(t, "00000000", PayloadChecksum(nil, false))
	require.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", PayloadChecksum(nil, true))
	require.NotEqual(t, PayloadChecksum([]byte("a"), false), PayloadChecksum([]byte("b"), false))
}
