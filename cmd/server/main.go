package main

import (
	"net/http"

	"github.com/evently/collab/internal/config"
	"github.com/evently/collab/internal/database"
	"github.com/evently/collab/internal/hub"
	"github.com/evently/collab/internal/logger"
	"github.com/evently/collab/internal/routes"
)

func main() {
	cfg := config.Load()
	log := logger.New("server")

	db, err := database.Open(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}
	defer db.Close()

	h := hub.New(logger.New("hub"))
	go h.Run()

	router := routes.Register(cfg, db, h)

	log.Info("Server is running", "port", cfg.Port, "env", cfg.Env)
	if err := http.ListenAndServe(":"+cfg.Port, router); err != nil {
		log.Fatal("Server stopped", "error", err)
	}
}
