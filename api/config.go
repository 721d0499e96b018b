package api

import "time"

type ServerConfig struct {
	// ID 是實例的唯一識別碼，用於Redis consumer group
	ID string

	S3    S3Config
	DB    DBConfig
	Redis RedisConfig
	Auth  AuthConfig
}

type S3Config struct {
	AccessKeyID      string
	SecretAccessKey  string
	Endpoint         string
	Bucket           string
	PublicBaseURL    string
	RateLimitPerHour int64
}

type DBConfig struct {
	User     string
	Password string
	Host     string
	Port     int
	Database string
	Schema   string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// KeyPrefix 是所有Redis key的共用前綴，用於環境隔離
	KeyPrefix string
	// ExpireTime 是快取的最高出價在Redis中的存活時間
	ExpireTime time.Duration

	StreamKeys    RedisStreamKeys
	ConsumerGroup string
}

type RedisStreamKeys struct {
	// Events 是跨實例廣播推播事件的stream
	Events string
	// Cleanup 是圖片清理任務的stream
	Cleanup string
}

type AuthConfig struct {
	// Secret 是驗證存取憑證簽章的HS256金鑰
	Secret []byte
}
