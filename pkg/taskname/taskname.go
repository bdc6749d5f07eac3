package taskname

const (
	// Content tasks
	ContentMetadataRetry = "content:metadata:retry"
)

// Queues
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)
