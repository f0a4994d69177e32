// Package filerelay defines the shared types of a chunked file-relay
// pipeline: a producer watches a directory, hashes and compresses each
// changed file, splits the result into fixed-size chunks, and ships those
// chunks over many parallel TCP connections to a consumer that validates,
// stores, and reassembles them.
//
// The subpackages implement the pipeline's stages:
//
//	codec       streaming hash + compression of a watched file
//	chunk       deterministic fixed-size slicing of a compressed stream
//	wire        the chunk envelope and system-channel wire formats
//	queue       the bounded blocking handoff between scan and send
//	sender      round-robin multi-connection dispatch with retry
//	syschannel  the sideband client for file-meta/patch-map/control records
//	listener    the receiver's fixed and elastic acceptor pools
//	chunkstore  CRC-validated chunk persistence and manifest journaling
//	assembler   streaming decompression and atomic publish of final files
//	control     the line-oriented runtime control protocol
//	metrics     the rolling counter window shared by sender and receiver
//	sweeper     periodic eviction of expired partial and completed payloads
//	ledger      a queryable history of completed transfers
//	archive     best-effort off-site copies of assembled files
//	scan        the reference directory scanner that feeds the sender
package filerelay
