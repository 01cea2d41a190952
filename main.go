package main

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/chrisvdg/metacache/server"
)

func main() {
	configFile := pflag.StringP("config", "f", "", "YAML config file path")
	listAddr := pflag.StringP("listenaddr", "l", ":8080", "http listen address")
	tlsListAddr := pflag.StringP("tlsaddr", "t", ":8443", "https listen address")
	tlsKey := pflag.StringP("tlskey", "k", "", "TLS private key file path")
	tlsCert := pflag.StringP("tlscert", "c", "", "TLS certificate file path")
	tlsOnly := pflag.BoolP("tlsonly", "s", false, "Only serve TLS")
	backend := pflag.StringP("backend", "b", "memory", "cache store backend (memory or duckdb)")
	snapshotFile := pflag.String("snapshot", "", "snapshot file for the memory backend")
	dbPath := pflag.String("db", "", "duckdb database file path")
	cleanupInterval := pflag.Duration("cleanup-interval", 0, "interval between eviction sweeps (0 disables)")
	sizeCap := pflag.Int("size-cap", 0, "max entries kept by the sweep (0 uses the default)")
	verbose := pflag.BoolP("verbose", "v", false, "Verbose output")
	pflag.Parse()

	c := &server.Config{}
	if *configFile != "" {
		loaded, err := server.LoadFile(*configFile)
		if err != nil {
			log.Fatal(err)
		}
		c = loaded
	}

	// flags set on the command line win over config file values
	flagSet := pflag.CommandLine
	if flagSet.Changed("listenaddr") || c.ListenAddr == "" {
		c.ListenAddr = *listAddr
	}
	if flagSet.Changed("tlsaddr") || c.TLSListenAddr == "" {
		c.TLSListenAddr = *tlsListAddr
	}
	if flagSet.Changed("tlsonly") {
		c.TLSOnly = *tlsOnly
	}
	if *tlsKey != "" || *tlsCert != "" {
		c.TLS = &server.TLSConfig{
			KeyFile:  *tlsKey,
			CertFile: *tlsCert,
		}
	}
	if flagSet.Changed("backend") || c.Backend == "" {
		c.Backend = *backend
	}
	if flagSet.Changed("snapshot") {
		c.SnapshotFile = *snapshotFile
	}
	if flagSet.Changed("db") {
		c.DatabasePath = *dbPath
	}
	if flagSet.Changed("cleanup-interval") {
		c.CleanupInterval = server.Duration(*cleanupInterval)
	}
	if flagSet.Changed("size-cap") {
		c.SizeCap = *sizeCap
	}
	if flagSet.Changed("verbose") {
		c.Verbose = *verbose
	}

	if c.Verbose {
		log.SetLevel(log.DebugLevel)
	}

	s, err := server.New(c)
	if err != nil {
		log.Fatal(err)
	}

	s.ListenAndServe()
}
