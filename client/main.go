package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"syscall"
	"time"

	"github.com/akamensky/argparse"

	"go_udp_copy/client/comms"
	"go_udp_copy/client/worker"
	"go_udp_copy/constants"
	"go_udp_copy/fileio"
	"go_udp_copy/networking"
)

func main() {
	args := argparse.NewParser("client", constants.Title)

	bind := args.String("a", "address", &argparse.Options{Required: true, Help: "Target host address"})
	chunk := args.Int("c", "chunksize", &argparse.Options{Required: false, Help: "Payload bytes per chunk (files only)",
		Default: constants.DEFAULT_CHUNK_SIZE})
	dscp := args.Int("d", "dscp", &argparse.Options{Required: false, Help: "DSCP field for QoS",
		Default: constants.DEFAULT_DSCP})
	ackTimeout := args.Int("e", "ack-timeout", &argparse.Options{Required: false, Help: "Milliseconds to wait for a chunk ACK",
		Default: constants.DEFAULT_ACK_TIMEOUT})
	file := args.String("f", "file", &argparse.Options{Required: true, Help: "File or directory path"})
	datagram := args.Int("g", "datagram", &argparse.Options{Required: false, Help: "Maximum datagram size (" +
		strconv.Itoa(constants.DEFAULT_DATAGRAM) + " for files, " + strconv.Itoa(constants.FRAME_DATAGRAM) + " for frames)"})
	frames := args.Flag("i", "frames", &argparse.Options{Help: "Send images as frame stream"})
	deadline := args.Int("l", "deadline", &argparse.Options{Required: false, Help: "Seconds to wait for queued transfers, 0 waits forever",
		Default: 0})
	order := args.String("o", "order", &argparse.Options{Required: false, Help: "Directory send order: name or mtime",
		Default: "name"})
	port := args.Int("p", "port", &argparse.Options{Required: false, Help: "Target port (" +
		strconv.Itoa(constants.DEFAULT_PORT) + " for files, " + strconv.Itoa(constants.DEFAULT_FRAME_PORT) + " for frames)"})
	retries := args.Int("r", "retries", &argparse.Options{Required: false, Help: "Send attempts per chunk",
		Default: constants.DEFAULT_MAX_RETRIES})
	workers := args.Int("t", "threads", &argparse.Options{Required: false, Help: "Number of concurrent transfers",
		Default: constants.DEFAULT_NUM_WORKERS})
	unreliable := args.Flag("u", "unreliable", &argparse.Options{Help: "Do not wait for ACKs"})
	watch := args.Flag("w", "watch", &argparse.Options{Help: "Keep sending files that appear in the directory until interrupted"})
	compress := args.Flag("z", "compress", &argparse.Options{Help: "LZ4 compress payloads (server must decompress)"})

	err := args.Parse(os.Args)

	if err != nil {
		fmt.Print(args.Usage(err))
		os.Exit(1)
	}

	sendOrder, err := fileio.ParseOrder(*order)
	if err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}

	fileName := filepath.Clean(*file)

	// Get file info.
	finfo, err := os.Stat(fileName)
	if err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}
	if *watch && !finfo.IsDir() {
		fmt.Println("Watch mode needs a directory")
		os.Exit(1)
	}

	cfg := comms.DefaultConfig()
	cfg.ChunkSize = *chunk
	cfg.Reliable = !*unreliable
	cfg.MaxRetries = *retries
	cfg.AckTimeout = time.Duration(*ackTimeout) * time.Millisecond

	var codec networking.Codec
	var match func(name string) bool
	if *frames {
		if *datagram == 0 {
			*datagram = constants.FRAME_DATAGRAM
		}
		if *port == 0 {
			*port = constants.DEFAULT_FRAME_PORT
		}
		codec = networking.NewFrameCodec(*datagram)
		// Frames fill whole datagrams and are never acknowledged.
		cfg.ChunkSize = *datagram - networking.FrameHeaderSize
		cfg.Reliable = false
		match = fileio.MatchExtensions(fileio.ImageExtensions...)
	} else {
		if *datagram == 0 {
			*datagram = constants.DEFAULT_DATAGRAM
		}
		if *port == 0 {
			*port = constants.DEFAULT_PORT
		}
		codec = networking.NewFileCodec(*datagram)
	}
	if *datagram > constants.MAX_UDP_PAYLOAD {
		fmt.Println("Datagram size above maximum of", constants.MAX_UDP_PAYLOAD)
		os.Exit(1)
	}

	debug.SetGCPercent(666)

	addr := *bind + ":" + strconv.Itoa(*port)
	remote, err := networking.ResolveRemote(addr)
	if err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}

	conn, err := networking.Listen(":0", *dscp)
	if err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}
	defer conn.Close()

	var acks comms.AckSource
	if cfg.Reliable {
		router := comms.NewAckRouter(conn, log.New(os.Stderr, "[ACKS] ", log.LstdFlags))
		router.Start()
		defer router.Close()
		acks = router
	}

	sender, err := comms.NewSender(conn, remote, codec, cfg, acks, log.New(os.Stderr, "[SEND] ", log.LstdFlags))
	if err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}

	scheduler := worker.NewScheduler(sender, *workers, constants.DEFAULT_QUEUE, *compress,
		log.New(os.Stderr, "[SCHED] ", log.LstdFlags))
	scheduler.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Frame ids count up from one random base so a stream keeps its order.
	frameBase := networking.NewFrameID()
	submitted := 0
	submit := func(path string) {
		id := networking.NewTransferID()
		if *frames {
			id = int64(frameBase + uint32(submitted))
		}
		submitted++
		if err := scheduler.Submit(&worker.Job{TransferID: id, Name: filepath.Base(path), Source: path}); err != nil {
			fmt.Println(err.Error())
		}
	}

	fmt.Println("Sending to", addr)

	if finfo.IsDir() {
		sources, err := fileio.ListSources(fileName, sendOrder, match)
		if err != nil {
			fmt.Println(err.Error())
			os.Exit(1)
		}
		for _, path := range sources {
			submit(path)
		}
	} else {
		submit(fileName)
	}

	waitCtx := ctx
	if *watch {
		fmt.Println("Watching", fileName, "for new files")
		paths := make(chan string)
		watchErr := make(chan error, 1)
		go func() {
			watchErr <- fileio.WatchSources(ctx, fileName, constants.DEFAULT_SETTLE_DELAY*time.Millisecond, match, paths)
		}()
	watching:
		for {
			select {
			case path := <-paths:
				submit(path)
			case err := <-watchErr:
				if err != nil {
					fmt.Println(err.Error())
				}
				break watching
			}
		}
		// Interrupt ended watching. Queued files are still sent.
		waitCtx = context.Background()
	}

	if *deadline > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(waitCtx, time.Duration(*deadline)*time.Second)
		defer cancel()
	}

	report, err := scheduler.Wait(waitCtx)

	fmt.Println("Sent", len(report.Sent), "of", submitted, "transfers,", report.Bytes, "bytes in", report.Took)
	for _, failure := range report.Failed {
		fmt.Println("Failed:", failure.Job.Name, "-", failure.Err.Error())
	}
	for _, job := range report.Unfinished {
		fmt.Println("Unfinished:", job.Name, "- transfer", job.TransferID)
	}

	if err != nil {
		fmt.Println("Stopped waiting:", err.Error())
		os.Exit(2)
	}
	if len(report.Failed) > 0 {
		os.Exit(2)
	}
}
