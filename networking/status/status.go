package status

const (
	OK       = iota // 0: Chunk stored or already held
	REJECTED        // 1: Chunk index outside transfer bounds
)
