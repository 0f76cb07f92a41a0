package server

import (
	"bytes"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go_udp_copy/client/comms"
	"go_udp_copy/fileio"
	"go_udp_copy/networking"
	"go_udp_copy/networking/status"
)

var quiet = log.New(io.Discard, "", 0)

func startReceiver(t *testing.T, cfg Config, sink fileio.Sink) (*Receiver, *net.UDPConn) {
	conn, err := networking.Listen("127.0.0.1:0", 0)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	r, err := NewReceiver(conn, cfg, sink, quiet)
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- r.Serve() }()
	t.Cleanup(func() {
		r.Close()
		require.NoError(t, <-served)
	})
	return r, conn
}

func dialPeer(t *testing.T) *net.UDPConn {
	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { peer.Close() })
	return peer
}

func channelSink() (fileio.Sink, chan *fileio.Payload) {
	out := make(chan *fileio.Payload, 16)
	return fileio.FuncSink(func(p *fileio.Payload) error {
		out <- p
		return nil
	}), out
}

func readAck(t *testing.T, peer *net.UDPConn) networking.Ack {
	buf := make([]byte, 64)
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := peer.ReadFrom(buf)
	require.NoError(t, err)
	ack, err := networking.DecodeAck(buf[:n])
	require.NoError(t, err)
	return ack
}

func awaitPayload(t *testing.T, payloads <-chan *fileio.Payload) *fileio.Payload {
	select {
	case p := <-payloads:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("payload was not delivered")
		return nil
	}
}

func TestReceiverReliableOutOfOrder(t *testing.T) {
	require := require.New(t)

	cfg := DefaultConfig()
	cfg.Workers = 1
	sink, payloads := channelSink()
	r, conn := startReceiver(t, cfg, sink)
	peer := dialPeer(t)

	codec := networking.NewFileCodec(60000)
	parts := [][]byte{[]byte("alpha-"), []byte("beta-"), []byte("gamma")}
	send := func(b []byte) {
		_, err := peer.WriteTo(b, conn.LocalAddr())
		require.NoError(err)
	}

	send([]byte{0xde, 0xad})
	for _, index := range []int{2, 0, 0, 1} {
		datagram, err := codec.Encode(&networking.Chunk{
			TransferID: 77, TotalChunks: 3, Index: index, Name: "greek.txt", Payload: parts[index],
		})
		require.NoError(err)
		send(datagram)
		ack := readAck(t, peer)
		require.Equal(networking.Ack{TransferID: 77, ChunkIndex: index, Status: status.OK}, ack)
	}

	p := awaitPayload(t, payloads)
	require.Equal(int64(77), p.TransferID)
	require.Equal("greek.txt", p.Name)
	require.Equal([]byte("alpha-beta-gamma"), p.Data)

	r.Close()
	stats := r.Stats()
	require.EqualValues(5, stats.Datagrams)
	require.EqualValues(1, stats.Malformed)
	require.EqualValues(1, stats.Duplicates)
	require.EqualValues(1, stats.Completed)
	require.Equal(stats.AssemblyMin, stats.AssemblyMax)
	require.Equal(stats.AssemblyMin, stats.AssemblyAvg)
	require.Zero(r.InProgress())
}

func TestReceiverAssemblyTimeStats(t *testing.T) {
	require := require.New(t)

	r, err := NewReceiver(nil, DefaultConfig(), fileio.FuncSink(func(*fileio.Payload) error { return nil }), quiet)
	require.NoError(err)
	require.Zero(r.Stats().AssemblyMin)

	for _, took := range []time.Duration{30 * time.Millisecond, 10 * time.Millisecond, 50 * time.Millisecond} {
		r.stats.assembled(took)
	}

	stats := r.Stats()
	require.EqualValues(3, stats.Completed)
	require.Equal(10*time.Millisecond, stats.AssemblyMin)
	require.Equal(50*time.Millisecond, stats.AssemblyMax)
	require.Equal(30*time.Millisecond, stats.AssemblyAvg)
}

func TestReceiverRejectsOutOfRange(t *testing.T) {
	require := require.New(t)

	r, conn := startReceiver(t, DefaultConfig(), fileio.FuncSink(func(*fileio.Payload) error { return nil }))
	peer := dialPeer(t)

	datagram, err := networking.NewFileCodec(60000).Encode(&networking.Chunk{TransferID: 5, TotalChunks: 3, Index: 0})
	require.NoError(err)
	// Index field patched past totalChunks, as a buggy sender would produce.
	datagram[15] = 9
	_, err = peer.WriteTo(datagram, conn.LocalAddr())
	require.NoError(err)

	require.Equal(networking.Ack{TransferID: 5, ChunkIndex: 9, Status: status.REJECTED}, readAck(t, peer))
	require.Zero(r.InProgress())
}

func TestReceiverFrameStream(t *testing.T) {
	require := require.New(t)

	cfg := DefaultConfig()
	cfg.Reliable = false
	cfg.Codec = networking.NewFrameCodec(1400)
	sink, payloads := channelSink()
	_, conn := startReceiver(t, cfg, sink)
	peer := dialPeer(t)

	frame := bytes.Repeat([]byte{0xff, 0xd8}, 1500)
	parts := comms.SplitPayload(frame, 1400-networking.FrameHeaderSize)
	for i := len(parts) - 1; i >= 0; i-- {
		datagram, err := cfg.Codec.Encode(&networking.Chunk{TransferID: 1234, TotalChunks: len(parts), Index: i, Payload: parts[i]})
		require.NoError(err)
		_, err = peer.WriteTo(datagram, conn.LocalAddr())
		require.NoError(err)
	}

	p := awaitPayload(t, payloads)
	require.Equal(int64(1234), p.TransferID)
	require.Empty(p.Name)
	require.Equal(frame, p.Data)

	// Frames are never acknowledged.
	require.NoError(peer.SetReadDeadline(time.Now().Add(100 * time.Millisecond)))
	_, _, err := peer.ReadFrom(make([]byte, 64))
	require.Error(err)
}

func TestReceiverConfigValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Codec = networking.NewFrameCodec(1400)
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Workers = 0
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestReceiverCloseWithoutTraffic(t *testing.T) {
	conn, err := networking.Listen("127.0.0.1:0", 0)
	require.NoError(t, err)
	defer conn.Close()

	r, err := NewReceiver(conn, DefaultConfig(), fileio.FuncSink(func(*fileio.Payload) error { return nil }), quiet)
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- r.Serve() }()
	time.Sleep(20 * time.Millisecond)
	r.Close()

	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}

func TestSenderToReceiverFile(t *testing.T) {
	require := require.New(t)

	root := t.TempDir()
	files, err := fileio.NewSessionSink(root, 0, false, quiet)
	require.NoError(err)
	notify, payloads := channelSink()

	_, conn := startReceiver(t, DefaultConfig(), fileio.TeeSink{files, notify})

	local, err := networking.Listen("127.0.0.1:0", 0)
	require.NoError(err)
	defer local.Close()
	router := comms.NewAckRouter(local, quiet)
	router.Start()
	defer router.Close()

	cfg := comms.DefaultConfig()
	cfg.AckTimeout = 200 * time.Millisecond
	sender, err := comms.NewSender(local, conn.LocalAddr(), networking.NewFileCodec(60000), cfg, router, quiet)
	require.NoError(err)

	data := bytes.Repeat([]byte("0123456789"), 2000)
	require.NoError(sender.Send(networking.NewTransferID(), data, "../escape/report.bin"))

	awaitPayload(t, payloads)
	written, err := os.ReadFile(filepath.Join(files.Folder(), "escape_report.bin"))
	require.NoError(err)
	require.Equal(data, written)
}
