package config

type AppConfig struct {
	APIPort     string `env:"PORT,required" envDefault:"12333"`
	APIKey      string `env:"API_KEY,required"`
	RabbitMQURL string `env:"RABBITMQ_URL"`
}

type SyncConfig struct {
	// PollingFloorSeconds is the minimum allowed per-account polling interval.
	PollingFloorSeconds int `env:"SYNC_POLLING_FLOOR_SECONDS" envDefault:"60"`
	// MaxInboundPerCycle and MaxOutboundPerCycle bound how many messages of
	// each direction one account may pull in a single cycle; the remainder
	// waits for the next cycle.
	MaxInboundPerCycle  int `env:"SYNC_MAX_INBOUND_PER_CYCLE" envDefault:"5000"`
	MaxOutboundPerCycle int `env:"SYNC_MAX_OUTBOUND_PER_CYCLE" envDefault:"5000"`
	// MaxConcurrentAccounts bounds how many accounts sync at the same time.
	MaxConcurrentAccounts int `env:"SYNC_MAX_CONCURRENT_ACCOUNTS" envDefault:"8"`
	PageSize              int `env:"SYNC_PAGE_SIZE" envDefault:"100"`
	LeaseTTLSeconds       int `env:"SYNC_LEASE_TTL_SECONDS" envDefault:"300"`
	// MaxBackoffSeconds caps the exponential retry delay after repeated failures.
	MaxBackoffSeconds int `env:"SYNC_MAX_BACKOFF_SECONDS" envDefault:"3600"`
	QueueSize         int `env:"SYNC_QUEUE_SIZE" envDefault:"256"`
}

type CacheConfig struct {
	// ShortTTLHours is the window within which every entry is retained.
	ShortTTLHours int `env:"CACHE_SHORT_TTL_HOURS" envDefault:"48"`
	// LongTTLHours is the idle age past which every entry is evicted.
	LongTTLHours int `env:"CACHE_LONG_TTL_HOURS" envDefault:"168"`
	// MinAccessCount keeps entries between the two windows alive when they
	// have been read at least this many times.
	MinAccessCount int `env:"CACHE_MIN_ACCESS_COUNT" envDefault:"3"`
	// OverflowBytes is the body size beyond which content moves to object storage.
	OverflowBytes int `env:"CACHE_OVERFLOW_BYTES" envDefault:"262144"`
}

type R2StorageConfig struct {
	AccountID       string `env:"CLOUDFLARE_R2_ACCOUNT_ID,required"`
	AccessKeyID     string `env:"CLOUDFLARE_R2_ACCESS_KEY_ID,required"`
	AccessKeySecret string `env:"CLOUDFLARE_R2_ACCESS_KEY_SECRET,required"`
	BodyBucket      string `env:"BUCKET_NAME_MESSAGE_BODIES" envDefault:"message-bodies"`
}
