// Command readapi serves the read-only HTTP surface over the store,
// adapted from cmd/explorer/main.go's godotenv+viper startup sequence.
package main

import (
	"net/http"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"lamden-indexer/internal/config"
	"lamden-indexer/internal/readapi"
	"lamden-indexer/internal/store"
)

func main() {
	_ = godotenv.Load(".env")
	viper.AutomaticEnv()

	log := logrus.New()
	root := log.WithField("service", "readapi")

	env := viper.GetString("INDEXER_ENV")
	cfg, err := config.Load(env)
	if err != nil {
		root.WithError(err).Fatal("load config")
	}

	db, err := store.Open(cfg.Store.DSN, root)
	if err != nil {
		root.WithError(err).Fatal("open store")
	}
	defer db.Close()

	addr := cfg.ReadAPI.ListenAddr
	if addr == "" {
		addr = ":8090"
	}

	srv := readapi.New(db, root)
	root.WithField("addr", addr).Info("read-api listening")
	if err := http.ListenAndServe(addr, srv); err != nil {
		root.WithError(err).Fatal("read-api server stopped")
	}
}
