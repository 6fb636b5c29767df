package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/wirechat/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-r string   redis address
//	-s string   JWT HMAC secret key
//	-k string   32-byte API key seal key
//	-t int      access token validity, minutes
//	-p string   provider base URL
//	-e int      finished stream retention, minutes
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components. Duration
// flags are accepted as integers in minutes and then converted to
// time.Duration values.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-r", "-s", "-k", "-t", "-p", "-e"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.RedisAddr, "r", config.RedisAddr, "redis address")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.SealKey, "k", config.SealKey, "API key seal key")
	fs.StringVar(&config.ProviderBaseURL, "p", config.ProviderBaseURL, "provider base URL")

	tokenValidityDuration := fs.Int("t", int(config.TokenValidityDuration.Minutes()), "token_validity_duration (in minutes)")
	streamRetention := fs.Int("e", int(config.StreamRetention.Minutes()), "stream_retention (in minutes)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.TokenValidityDuration = time.Duration(*tokenValidityDuration) * time.Minute
	config.StreamRetention = time.Duration(*streamRetention) * time.Minute
}
