package main

import (
	"earshot/internal/config"
	"earshot/internal/database"
	"earshot/internal/experiment"
	logger "earshot/internal/logging"
	"earshot/internal/router"
	"earshot/internal/seal"
	"earshot/internal/utils"

	"go.uber.org/zap"
)

func main() {
	// Bootstrap logger so config loading can report problems; replaced by
	// the configured logger below.
	log, err := zap.NewDevelopment()
	if err != nil {
		panic("failed to initialize bootstrap logger: " + err.Error())
	}

	cfg, err := config.Load(".", log)
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	log, err = logger.Init(cfg.Current().Logging)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	conf := cfg.Current()

	// Session and seal secrets must be stable across restarts in
	// production; an ephemeral fallback keeps development friction-free.
	if conf.Server.SessionSecret == "" {
		secret, err := utils.GenerateSecureToken(32)
		if err != nil {
			log.Fatal("Failed to generate session secret", zap.Error(err))
		}
		conf.Server.SessionSecret = secret
		log.Warn("No session secret configured; using an ephemeral one. Sessions will not survive a restart.")
	}
	if conf.Server.SealSecret == "" {
		secret, err := utils.GenerateSecureToken(32)
		if err != nil {
			log.Fatal("Failed to generate seal secret", zap.Error(err))
		}
		conf.Server.SealSecret = secret
		log.Warn("No seal secret configured; using an ephemeral one. Outstanding tokens will not survive a restart.")
	}

	database.Init(log, conf.Database)

	// Load the experiment definition (tests, surveys, inclusion criteria)
	// at startup.
	def, err := experiment.LoadDefinition(conf.Server.ExperimentFile)
	if err != nil {
		log.Fatal("Failed to load experiment definition", zap.Error(err))
	}

	sealer := seal.New(conf.Server.SealSecret)

	r := router.Setup(log, cfg, def, sealer)

	port := ":" + conf.Server.Port
	log.Info("Server listening on http://localhost" + port)
	if err := r.Run(port); err != nil {
		log.Fatal("Failed to run Gin server", zap.Error(err))
	}
}
