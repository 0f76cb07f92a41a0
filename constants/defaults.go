package constants

const (
	Title = "Chunked file and frame transfer over UDP"

	DEFAULT_PORT         = 5000  // Receiver port for file transfers
	DEFAULT_FRAME_PORT   = 9001  // Receiver port for frame streams
	MAX_UDP_PAYLOAD      = 65507 // Largest payload a single IPv4 UDP datagram can carry
	DEFAULT_DATAGRAM     = 60000 // Largest datagram the file variant will emit
	FRAME_DATAGRAM       = 1400  // Frame variant stays below common path MTU
	DEFAULT_CHUNK_SIZE   = 8192  // Payload bytes per file chunk
	DEFAULT_ACK_TIMEOUT  = 500   // ms to wait for a chunk ACK before retransmitting
	DEFAULT_MAX_RETRIES  = 5     // Send attempts per chunk
	DEFAULT_NUM_WORKERS  = 4     // Concurrent transfers (client) or datagram workers (server)
	DEFAULT_QUEUE        = 64    // Queued jobs before blocking submitters
	SINK_WORKERS         = 2     // Goroutines persisting completed payloads
	SINK_QUEUE           = 16    // Completed payloads queued before backpressure
	REASSEMBLY_TTL       = 30    // s since last chunk before a partial transfer is evicted
	JANITOR_INTERVAL     = 5     // s between expiry sweeps
	COMPLETED_MEMORY     = 4096  // Recently completed transfer ids remembered for late duplicates
	MAX_CHUNKS           = 1 << 20
	STATS_EVERY          = 10 // Completed transfers between assembly time summaries
	DEFAULT_DSCP         = 0x0A // QoS for high throughput
	DEFAULT_SETTLE_DELAY = 500  // ms a watched file must stay quiet before it is sent
)
