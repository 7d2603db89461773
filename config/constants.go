package config

import "time"

// Provider defaults
const (
	// DefaultNewsAPIBaseURL is the NewsAPI v2 endpoint root
	DefaultNewsAPIBaseURL = "https://newsapi.org/v2"

	// DefaultNewsAPIDailyLimit matches the free developer plan
	DefaultNewsAPIDailyLimit = 100

	// DefaultExtractWorkers is the page-fetch concurrency for RSS body extraction
	DefaultExtractWorkers = 5
)

// Pipeline defaults
const (
	// DefaultCacheTTLDays is how long a fingerprint stays "seen"
	DefaultCacheTTLDays = 14

	// DefaultCachePolicy fails jobs when the dedup cache is unreachable
	DefaultCachePolicy = "fail_job"

	// DefaultJobTimeout bounds one job; keep it equal to the queue visibility window
	DefaultJobTimeout = 5 * time.Minute
)

// Queue defaults
const (
	QueueKafka    = "kafka"
	QueueRabbitMQ = "rabbitmq"

	DefaultQueueBackend = QueueKafka
	DefaultKafkaTopic   = "newspipe.jobs"
	DefaultKafkaGroupID = "newspipe-workers"
	DefaultRabbitQueue  = "newspipe.jobs"
	DefaultMaxAttempts  = 3
	DefaultWorkers      = 2
)

// Analytics defaults
const (
	DefaultAthenaTable   = "normalized_articles"
	DefaultAthenaMaxWait = 60 * time.Second
)

// HTTP defaults
const (
	DefaultPort = "8080"
)
