package cron_config

type Config struct {
	// Heartbeat check, every minute
	CronScheduleHeartbeat string `env:"CRON_SCHEDULE_HEARTBEAT" envDefault:"0 * * * * *"`
	// Due-account enumeration, every minute
	CronScheduleSyncEnumerate string `env:"CRON_SCHEDULE_SYNC_ENUMERATE" envDefault:"0 * * * * *"`
	// Content cache sweep, every 30 minutes
	CronScheduleCacheSweep string `env:"CRON_SCHEDULE_CACHE_SWEEP" envDefault:"0 */30 * * * *"`
}
