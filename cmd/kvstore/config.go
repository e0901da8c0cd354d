package main

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds defaults for command line flags. Values come from the
// environment, optionally loaded from a .env file in the working directory.
type Config struct {
	Dir        string
	KeyCodec   string
	ValueCodec string
	CacheSize  int
	LogLevel   string
}

func LoadConfig() Config {
	// A missing .env file is not an error.
	_ = godotenv.Load(".env")
	return Config{
		Dir:        os.Getenv("KVSTORE_DIR"),
		KeyCodec:   getenv("KVSTORE_KEY_CODEC", "string"),
		ValueCodec: getenv("KVSTORE_VALUE_CODEC", "string"),
		CacheSize:  getenvInt("KVSTORE_CACHE_SIZE", 0),
		LogLevel:   getenv("KVSTORE_LOG_LEVEL", "warn"),
	}
}

func getenv(name, def string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	return def
}

func getenvInt(name string, def int) int {
	v, err := strconv.Atoi(os.Getenv(name))
	if err != nil {
		return def
	}
	return v
}
