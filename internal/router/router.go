package router

import (
	"net/http"
	"time"

	"evalhub/internal/config"
	"evalhub/internal/handlers"
	"evalhub/internal/models"
	"evalhub/internal/services"

	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/unrolled/secure"
	"go.uber.org/zap"
)

func keyFunc(c *gin.Context) string {
	return c.ClientIP()
}

func errorHandler(c *gin.Context, info ratelimit.Info) {
	c.String(http.StatusTooManyRequests, "Too many requests. Try again later.")
}

func Setup(log *zap.Logger, orch *services.Orchestrator, catalog *models.TestCatalog) *gin.Engine {
	// Set up a new Gin router, add recovery middleware and request logging.
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(log))

	store := cookie.NewStore([]byte(config.Conf.Server.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		HttpOnly: true,
		Secure:   false, // Set to true in production
		SameSite: http.SameSiteLaxMode,
		MaxAge:   86400 * 7,
	})
	router.Use(sessions.Sessions("evalhub_session", store))

	// --- Now that sessions are initialized, other middleware can use them ---
	router.Use(CSRFProtection())
	router.Use(UserLoaderMiddleware())

	secureMiddleware := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
	})
	router.Use(func(c *gin.Context) {
		err := secureMiddleware.Process(c.Writer, c.Request)
		if err != nil {
			c.Abort()
			return
		}
	})

	// Handlers and routes
	authHandler := handlers.NewAuthHandler(log)
	assignmentHandler := handlers.NewAssignmentHandler(log, orch, catalog)
	userHandler := handlers.NewUserHandler(log)

	rateLimitStore := ratelimit.InMemoryStore(&ratelimit.InMemoryOptions{
		Rate:  time.Minute,
		Limit: 5,
	})
	limiter := ratelimit.RateLimiter(rateLimitStore, &ratelimit.Options{
		ErrorHandler: errorHandler,
		KeyFunc:      keyFunc,
	})

	router.POST("/login", limiter, authHandler.Login)
	router.POST("/logout", authHandler.Logout)

	api := router.Group("/api")
	api.Use(AuthRequired())
	{
		api.GET("/tests", assignmentHandler.ListTests)
		api.POST("/assignments", assignmentHandler.Create)
		api.GET("/assignments/:batch/manual", assignmentHandler.NextManual)
		api.POST("/assignments/:batch/manual/:handle/confirm", assignmentHandler.ConfirmManual)

		api.POST("/users", userHandler.CreateUser)
		api.POST("/profile/update-info", userHandler.UpdateInfo)
		api.POST("/profile/update-password", userHandler.UpdatePassword)
		api.POST("/profile/delete", userHandler.DeleteUser)
	}

	return router
}
