// Command xmplsyncd hosts the XMPL recipient sync over a small JSON API: the
// registration hook fired by the host application, plus the admin operations
// (connection test, log listing, log-system self test, schema ensure and log
// truncation).
package main

import (
	"context"
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/millbrook-digital/xmplsync/store"
	"github.com/millbrook-digital/xmplsync/sync"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	var logger *zap.Logger
	var err error
	if getEnv("XMPLSYNC_ENV", "development") == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := store.Open(getEnv("DATABASE_URL", "postgres://localhost:5432/xmplsync?sslmode=disable"))
	if err != nil {
		return err
	}

	logs := store.NewLogStore(db, logger)
	if err := logs.Ensure(context.Background()); err != nil {
		return err
	}
	users := store.NewUserStore(db, logger)

	configs := sync.FileConfigSource{Path: getEnv("XMPLSYNC_CONFIG", "xmplsync.yaml")}
	syncer := sync.NewSyncer(configs, users, sync.NewRecorder(logs, logger), sync.Client{}, logger)

	srv := server{syncer: syncer, logs: logs, users: users, logger: logger}

	app := fiber.New(fiber.Config{AppName: "xmplsyncd"})
	app.Post("/hooks/user-registered", srv.userRegistered)
	app.Post("/admin/test-connection", srv.testConnection)
	app.Get("/admin/logs", srv.listLogs)
	app.Post("/admin/logs/self-test", srv.selfTestLogs)
	app.Post("/admin/logs/ensure", srv.ensureLogs)
	app.Delete("/admin/logs", srv.truncateLogs)

	return app.Listen(":" + getEnv("PORT", "8080"))
}

type server struct {
	syncer *sync.Syncer
	logs   *store.LogStore
	users  *store.UserStore
	logger *zap.Logger
}

// userRegistered is the inbound registration trigger. The sync runs to
// completion within the request but its outcome is deliberately not
// reported: failures must never surface to the account-creation flow.
func (s *server) userRegistered(c *fiber.Ctx) error {
	body := c.Body()

	// raw registration payloads carrying login+email form data get a
	// diagnostic entry, mirroring registration debugging in the host app
	if gjson.GetBytes(body, "user_login").Exists() && gjson.GetBytes(body, "user_email").Exists() {
		s.syncer.Audit.Record(c.Context(), 0, sync.ActionRegistrationDebug, string(body), nil, sync.StatusInfo, "")
	}

	userID := gjson.GetBytes(body, "user_id").Int()
	if userID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id is required"})
	}

	s.syncer.OnUserRegistered(c.Context(), userID)
	return c.SendStatus(fiber.StatusAccepted)
}

func (s *server) testConnection(c *fiber.Ctx) error {
	userID := gjson.GetBytes(c.Body(), "user_id").Int()
	if userID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id is required"})
	}

	current, err := s.users.User(c.Context(), userID)
	if err != nil {
		if err == sync.ErrNoSuchUser {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no such user"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	result := s.syncer.TestConnection(c.Context(), current)
	status := fiber.StatusOK
	if !result.Success {
		status = fiber.StatusBadGateway
	}
	return c.Status(status).JSON(result)
}

func (s *server) listLogs(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	entries, total, err := s.logs.List(c.Context(), page, store.DefaultLogsPerPage)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"page":     page,
		"per_page": store.DefaultLogsPerPage,
		"total":    total,
		"entries":  entries,
	})
}

func (s *server) selfTestLogs(c *fiber.Ctx) error {
	report := s.logs.SelfTest(c.Context())
	status := fiber.StatusOK
	if !report.Passed {
		status = fiber.StatusInternalServerError
	}
	return c.Status(status).JSON(report)
}

func (s *server) ensureLogs(c *fiber.Ctx) error {
	if err := s.logs.Ensure(c.Context()); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"message": "logs table ensured"})
}

func (s *server) truncateLogs(c *fiber.Ctx) error {
	if err := s.logs.Truncate(c.Context()); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
