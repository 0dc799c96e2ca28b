package main

import (
	"evalhub/internal/config"
	"evalhub/internal/database"
	logger "evalhub/internal/logging"
	"evalhub/internal/models"
	"evalhub/internal/repository"
	"evalhub/internal/router"
	"evalhub/internal/services"

	"go.uber.org/zap"
)

func main() {
	// Initialize Logger
	log, err := logger.Init(".")
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	// Initialize Configuration
	if err := config.Init(".", log); err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Initialize Database
	database.Init(log)

	// Load the assignable test catalog at startup
	catalog, err := models.LoadTestCatalog("config/tests.yaml")
	if err != nil {
		log.Fatal("Failed to load test catalog", zap.Error(err))
	}

	// Audit side channel: the pipeline emits, the consumer persists.
	auditChannel := services.NewAuditChannel(log, repository.AppendAuditEntry, 256)
	defer auditChannel.Close()

	mailer := services.NewMailer(log)
	issuer := services.NewCredentialIssuer(log, repository.GormCredentialStore{}, config.Conf.Orchestrator.CredentialTTL)

	orch := services.NewOrchestrator(log,
		repository.GormDirectory{},
		repository.GormSessionStore{},
		issuer,
		mailer,
		auditChannel,
		services.OrchestratorOptions{
			BaseURL:         config.Conf.Server.BaseURL,
			Parallelism:     config.Conf.Orchestrator.Parallelism,
			DispatchTimeout: config.Conf.Orchestrator.DispatchTimeout,
		},
	)

	reminder := services.NewReminderService(log,
		repository.GormSessionStore{},
		repository.GormCredentialStore{},
		mailer,
		catalog,
		auditChannel,
		services.ReminderOptions{
			Enabled:      config.Conf.Reminder.Enabled,
			Interval:     config.Conf.Reminder.Interval,
			After:        config.Conf.Reminder.After,
			MaxReminders: config.Conf.Reminder.MaxReminders,
			BaseURL:      config.Conf.Server.BaseURL,
		},
	)
	reminder.Start()
	defer reminder.Stop()

	// Setup router and start the Gin server
	r := router.Setup(log, orch, catalog)

	port := ":" + config.Conf.Server.Port
	log.Info("Server listening on http://localhost" + port)
	if err := r.Run(port); err != nil {
		log.Fatal("Failed to run Gin server", zap.Error(err))
	}
}
