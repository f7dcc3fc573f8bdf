package config

// StorageConfig holds configuration for a single storage connection.
type StorageConfig struct {
	Type            string `yaml:"type"`             // Type of storage ("local" or "gcs").
	BucketName      string `yaml:"bucket_name"`      // Default bucket name for operations.
	CredentialsFile string `yaml:"credentials_file"` // Path to a service account key for GCS.
	BaseDir         string `yaml:"base_dir"`         // Base directory for local file system operations.
	// Endpoint overrides the GCS API endpoint, e.g. for the fake-gcs-server emulator.
	Endpoint string `yaml:"endpoint"`
}
