package config

type StorageType string

const STORAGE_TYPE_REDIS StorageType = "redis"
const STORAGE_TYPE_INMEM StorageType = "memory"
const STORAGE_TYPE_SQLITE StorageType = "sqlite"

type Config struct {
	RedisConfig              RedisStorageConfig
	SqliteConfig             SqliteStorageConfig
	HttpPort                 int
	StorageType              StorageType
	DefinitionsFile          string
	AuditLogFile             string
	PollIntervalSeconds      int
	ExecutorTimeoutSeconds   int
	MaxExecutorAttempts      int
	WakeupWorkerCapacity     int
	AllowDuplicateExecutions bool
}

type RedisStorageConfig struct {
	Addrs     []string
	Namespace string
}

type SqliteStorageConfig struct {
	Path string
}
