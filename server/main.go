package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"strconv"
	"syscall"
	"time"

	"github.com/akamensky/argparse"

	"go_udp_copy/constants"
	"go_udp_copy/fileio"
	"go_udp_copy/networking"
	server "go_udp_copy/server/controller"
)

func main() {
	args := argparse.NewParser("server", constants.Title)

	dscp := args.Int("d", "dscp", &argparse.Options{Required: false, Help: "DSCP field for QoS of ACKs",
		Default: 0})
	ttl := args.Int("e", "expire", &argparse.Options{Required: false, Help: "Seconds an incomplete transfer may stay idle before it is dropped",
		Default: constants.REASSEMBLY_TTL})
	frames := args.Flag("f", "frames", &argparse.Options{Help: "Receive frame stream instead of files"})
	bind := args.String("l", "listen", &argparse.Options{Required: false, Help: "Listen on address",
		Default: "0.0.0.0"})
	port := args.Int("p", "port", &argparse.Options{Required: false, Help: "Listening port (" +
		strconv.Itoa(constants.DEFAULT_PORT) + " for files, " + strconv.Itoa(constants.DEFAULT_FRAME_PORT) + " for frames)"})
	queue := args.Int("q", "queue", &argparse.Options{Required: false, Help: "Datagram queue length",
		Default: constants.DEFAULT_QUEUE})
	path := args.String("r", "root", &argparse.Options{Required: true, Help: "Root path for storing files"})
	sha := args.Flag("s", "sha", &argparse.Options{Help: "Log SHA256 checksum of written files instead of CRC32"})
	workers := args.Int("t", "threads", &argparse.Options{Required: false, Help: "Number of datagram processing threads",
		Default: constants.DEFAULT_NUM_WORKERS})
	unreliable := args.Flag("u", "unreliable", &argparse.Options{Help: "Do not acknowledge chunks"})
	preview := args.Flag("v", "preview", &argparse.Options{Help: "Report every completed payload as it arrives"})
	decompress := args.Flag("z", "decompress", &argparse.Options{Help: "Payloads are LZ4 compressed by the client"})

	err := args.Parse(os.Args)

	if err != nil {
		fmt.Print(args.Usage(err))
		os.Exit(1)
	}

	// Check path validity.
	info, err := os.Stat(*path)
	if err != nil || !info.IsDir() {
		fmt.Println("Invalid root folder -", *path)
		os.Exit(1)
	}

	cfg := server.DefaultConfig()
	cfg.Workers = *workers
	cfg.Queue = *queue
	cfg.Decompress = *decompress
	cfg.Reliable = !*unreliable
	cfg.TTL = time.Duration(*ttl) * time.Second

	files, err := fileio.NewSessionSink(*path, 0, *sha, log.New(os.Stderr, "[SINK] ", log.LstdFlags))
	if err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}

	if *port == 0 {
		*port = constants.DEFAULT_PORT
		if *frames {
			*port = constants.DEFAULT_FRAME_PORT
		}
	}
	if *frames {
		// Frames are fire and forget.
		cfg.Reliable = false
		cfg.Codec = networking.NewFrameCodec(constants.FRAME_DATAGRAM)
		files.WithFallback(fileio.FrameFallbackName)
	}

	var sink fileio.Sink = files
	if *preview {
		latest := fileio.NewPreviewSink()
		sink = fileio.TeeSink{files, latest}
		go func() {
			for p := range latest.Frames() {
				fmt.Println("Latest:", p.TransferID, len(p.Data), "bytes")
			}
		}()
	}

	debug.SetGCPercent(666)

	bindTo := *bind + ":" + strconv.Itoa(*port)

	conn, err := networking.Listen(bindTo, *dscp)
	if err != nil {
		fmt.Println("Could not bind listening socket on " + bindTo + " - " + err.Error())
		os.Exit(1)
	}
	defer conn.Close()

	receiver, err := server.NewReceiver(conn, cfg, sink, log.New(os.Stderr, "[RECV] ", log.LstdFlags))
	if err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		fmt.Println("Shutting down")
		receiver.Close()
	}()

	fmt.Println("Listening on", bindTo, "writing to", files.Folder())

	err = receiver.Serve()

	stats := receiver.Stats()
	fmt.Println("Received", stats.Datagrams, "datagrams,", stats.Completed, "transfers completed,",
		stats.Expired, "expired,", stats.Malformed, "malformed,", stats.Duplicates, "duplicates,",
		stats.Rejected, "rejected")
	if stats.Completed > 0 {
		fmt.Println("Assembly time min", stats.AssemblyMin, "max", stats.AssemblyMax, "avg", stats.AssemblyAvg)
	}

	if err != nil {
		fmt.Println(err.Error())
		os.Exit(3)
	}
}
