package redisstream

// Field constants (avoid typos/allocs)
const (
	fieldNodeID    = "node_id"
	fieldNodeName  = "node_name"
	fieldNodeType  = "node_type"
	fieldMessage   = "message"
	fieldAt        = "at" // int64 ns
	fieldMessageID = "message_id"
	fieldTopic     = "topic"
	fieldPayload   = "payload" // codec-encoded envelope payload
)
