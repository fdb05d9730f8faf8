package config

import "time"

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment   string
	Addr          string
	DatabaseURL   string
	MigrationsDir string
	JWTSecret     string

	// Object storage.
	StorageBucket         string
	StorageBucketPrefix   string
	StorageRegion         string
	StorageEndpoint       string
	StorageAccessKeyID    string
	StorageSecretKey      string
	StorageForcePathStyle bool
	UploadConcurrency     int
	UploadPartSize        int64
	UploadTimeout         time.Duration

	// Archive staging.
	ScratchRoot    string
	MaxArchiveSize int64

	// Published hostnames.
	SiteDomainSuffix string
	CNAMETarget      string
	DNSTimeout       time.Duration

	// Deploy event stream.
	DeployEventBuffer int

	// Rate limiting.
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:   GetString("APP_ENV", "development"),
		Addr:          GetString("API_ADDR", ":4000"),
		DatabaseURL:   GetString("DATABASE_URL", "postgres://godeploy:godeploy@db:5432/godeploy?sslmode=disable"),
		MigrationsDir: GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		JWTSecret:     GetString("JWT_SECRET", "supersecuresecret"),

		StorageBucket:         GetString("STORAGE_BUCKET", "godeploy-sites"),
		StorageBucketPrefix:   GetString("STORAGE_BUCKET_PREFIX", "sites"),
		StorageRegion:         GetString("STORAGE_REGION", "us-east-1"),
		StorageEndpoint:       GetString("STORAGE_ENDPOINT", ""),
		StorageAccessKeyID:    GetString("STORAGE_ACCESS_KEY_ID", ""),
		StorageSecretKey:      GetString("STORAGE_SECRET_ACCESS_KEY", ""),
		StorageForcePathStyle: GetBool("STORAGE_FORCE_PATH_STYLE", false),
		UploadConcurrency:     GetInt("UPLOAD_CONCURRENCY", 8),
		UploadPartSize:        int64(GetInt("UPLOAD_PART_SIZE_MB", 5)) * 1024 * 1024,
		UploadTimeout:         GetSeconds("UPLOAD_TIMEOUT_SECONDS", 10*time.Minute),

		ScratchRoot:    GetString("SCRATCH_ROOT", "/tmp/godeploy"),
		MaxArchiveSize: int64(GetInt("MAX_ARCHIVE_SIZE_MB", 256)) * 1024 * 1024,

		SiteDomainSuffix: GetString("SITE_DOMAIN_SUFFIX", ".godeploy.app"),
		CNAMETarget:      GetString("CNAME_TARGET", "sites.godeploy.app"),
		DNSTimeout:       GetSeconds("DNS_TIMEOUT_SECONDS", 5*time.Second),

		DeployEventBuffer: GetInt("DEPLOY_EVENT_BUFFER", 100),

		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
