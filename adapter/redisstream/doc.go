// Package redisstream provides a Redis Streams error sink for xflow.
//
// Every ErrorReport broadcast by a graph is appended to a stream with
// XADD, so failures across a fleet of workflow processes can be tailed or
// consumed by a separate service.
//
// Minimal config keys:
// - addr: "host:port" (default "127.0.0.1:6379")
// - stream: stream name (default "xflow:errors")
// - max_len_approx: approximate MAXLEN trimming (default 10000, 0 = off)
// - codec: payload codec name (default "json")
// - timeout: per-XADD timeout (default 2s)
//
// Example usage:
//
//	sink, err := redisstream.Use(graph, redisstream.Config{
//	    Addr:   "localhost:6379",
//	    Stream: "payments:errors",
//	})
//	defer sink.Close()
package redisstream
