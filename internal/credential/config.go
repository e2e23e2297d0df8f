package credential

import (
	"os"
	"strconv"
)

// Config holds PIN hashing parameters and the optional seed file, a JSON
// array of PreparerCredential records. Argon2Memory is in KiB.
type Config struct {
	HashAlgorithm string
	BcryptCost    int
	Argon2Time    uint32
	Argon2Memory  uint32
	Argon2Threads uint8
	SeedFile      string
}

func LoadConfig() Config {
	return Config{
		HashAlgorithm: getenv("CREDENTIAL_HASH_ALGORITHM", "bcrypt"),
		BcryptCost:    getInt("CREDENTIAL_BCRYPT_COST", 12),
		Argon2Time:    uint32(getInt("CREDENTIAL_ARGON2_TIME", 1)),
		Argon2Memory:  uint32(getInt("CREDENTIAL_ARGON2_MEMORY", 64*1024)),
		Argon2Threads: uint8(getInt("CREDENTIAL_ARGON2_THREADS", 4)),
		SeedFile:      getenv("CREDENTIALS_FILE", ""),
	}
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
