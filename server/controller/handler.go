package server

import (
	"net"

	"go_udp_copy/constants"
	"go_udp_copy/fileio"
	"go_udp_copy/networking"
	"go_udp_copy/networking/status"
	"go_udp_copy/server/worker"
)

// handleDatagram decodes, stores, acknowledges and completes one datagram
func (r *Receiver) handleDatagram(d *datagram) {
	defer r.buffers.Put(d.buf)
	r.stats.datagrams.Add(1)

	chunk, err := r.cfg.Codec.Decode((*d.buf)[:d.n])
	if err != nil {
		r.stats.malformed.Add(1)
		r.log.Printf("Dropping datagram from %s: %v\n", d.from, err)
		return
	}

	result := r.table.OnChunk(chunk)
	switch result {
	case worker.DuplicateIgnored:
		r.stats.duplicates.Add(1)
	case worker.IndexOutOfRange:
		r.stats.rejected.Add(1)
		r.log.Printf("Transfer %d: chunk %d of %d out of range\n", chunk.TransferID, chunk.Index, chunk.TotalChunks)
	}

	if r.cfg.Reliable {
		r.acknowledge(chunk, result, d.from)
	}

	if result != worker.Inserted || !r.table.IsComplete(chunk.TransferID) {
		return
	}
	r.complete(chunk.TransferID)
}

// acknowledge answers every chunk, duplicates included
func (r *Receiver) acknowledge(chunk *networking.Chunk, result worker.InsertResult, to net.Addr) {
	ack := networking.Ack{
		TransferID: chunk.TransferID,
		ChunkIndex: chunk.Index,
		Status:     status.OK,
	}
	if result == worker.IndexOutOfRange {
		ack.Status = status.REJECTED
	}

	if _, err := r.conn.WriteTo(networking.EncodeAck(ack), to); err != nil {
		r.log.Printf("Could not acknowledge transfer %d chunk %d to %s: %v\n",
			chunk.TransferID, chunk.Index, to, err)
	}
}

// complete assembles transfer and queues it for the sink
func (r *Receiver) complete(transferID int64) {
	assembled, err := r.table.Collect(transferID)
	if err != nil {
		// Another worker completed it first.
		return
	}
	completed := r.stats.assembled(assembled.Took)
	r.log.Printf("Transfer %d complete, %d bytes in %v\n", transferID, len(assembled.Data), assembled.Took)
	if completed%constants.STATS_EVERY == 0 {
		stats := r.Stats()
		r.log.Printf("Assembly time after %d transfers: min %v, max %v, avg %v\n",
			completed, stats.AssemblyMin, stats.AssemblyMax, stats.AssemblyAvg)
	}

	payload := &fileio.Payload{TransferID: transferID, Name: assembled.Name, Data: assembled.Data}
	if err := r.sinks.Submit(payload); err != nil {
		r.log.Printf("Transfer %d lost: %v\n", transferID, err)
	}
}
