package worker

import (
	"io"
	"log"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"go_udp_copy/fileio"
)

func TestSinkPoolDeliversEverything(t *testing.T) {
	var (
		mu  sync.Mutex
		got = make(map[int64]string)
	)
	sink := fileio.FuncSink(func(p *fileio.Payload) error {
		mu.Lock()
		got[p.TransferID] = string(p.Data)
		mu.Unlock()
		return nil
	})

	pool := NewSinkPool(sink, 3, 1, false, log.New(io.Discard, "", 0))
	pool.Start()
	for id := int64(0); id < 20; id++ {
		require.NoError(t, pool.Submit(&fileio.Payload{TransferID: id, Data: []byte{'a' + byte(id)}}))
	}
	pool.Stop()

	require.Len(t, got, 20)
	require.Equal(t, "c", got[2])
	require.ErrorIs(t, pool.Submit(&fileio.Payload{}), ErrTerminated)
}

func TestSinkPoolDecompresses(t *testing.T) {
	raw := []byte("compressible compressible compressible compressible")
	compressed, err := fileio.CompressPayload(raw)
	require.NoError(t, err)

	delivered := make(chan []byte, 2)
	sink := fileio.FuncSink(func(p *fileio.Payload) error {
		delivered <- p.Data
		return nil
	})

	pool := NewSinkPool(sink, 1, 2, true, log.New(io.Discard, "", 0))
	pool.Start()
	require.NoError(t, pool.Submit(&fileio.Payload{TransferID: 1, Data: compressed}))
	// Not a valid LZ4 frame, dropped without reaching the sink.
	require.NoError(t, pool.Submit(&fileio.Payload{TransferID: 2, Data: []byte("plain")}))
	pool.Stop()

	require.Len(t, delivered, 1)
	require.Equal(t, raw, <-delivered)
}
