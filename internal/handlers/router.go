package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sapedu/testing-service/internal/config"
	"github.com/sapedu/testing-service/internal/models"
	"github.com/sapedu/testing-service/internal/repositories"
	"github.com/sapedu/testing-service/internal/services"
	"github.com/sapedu/testing-service/internal/utils"
	"github.com/sapedu/testing-service/internal/validator"
)

// HandlerManager wires handlers and auth middleware onto the router.
type HandlerManager struct {
	testHandler    *TestHandler
	attemptHandler *AttemptHandler
	authMiddleware *CasdoorAuthMiddleware
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	validator *validator.Validator,
	logger utils.Logger,
	casdoorConfig config.CasdoorConfig,
	userRepo repositories.UserRepository,
) *HandlerManager {
	return &HandlerManager{
		testHandler:    NewTestHandler(serviceManager.Test(), validator, logger),
		attemptHandler: NewAttemptHandler(serviceManager.Attempt(), validator, logger),
		authMiddleware: NewCasdoorAuthMiddleware(casdoorConfig, userRepo),
	}
}

func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "testing-service",
		})
	})

	v1 := router.Group("/api/v1")
	v1.Use(hm.authMiddleware.AuthMiddleware())

	teacherOnly := hm.authMiddleware.RequireRoleMiddleware(models.RoleTeacher, models.RoleAdmin)

	tests := v1.Group("/tests")
	{
		tests.POST("", teacherOnly, hm.testHandler.CreateTest)
		tests.GET("", hm.testHandler.ListTests)
		tests.GET("/available", hm.testHandler.GetAvailableTests)
		tests.GET("/:id", hm.testHandler.GetTest)
		tests.GET("/:id/questions", hm.testHandler.GetTestWithQuestions)
		tests.PUT("/:id", teacherOnly, hm.testHandler.UpdateTest)
		tests.DELETE("/:id", teacherOnly, hm.testHandler.DeleteTest)
		tests.POST("/:id/import", teacherOnly, hm.testHandler.ImportQuestions)
		tests.GET("/:id/attempts", teacherOnly, hm.attemptHandler.GetAttemptsByTest)
	}

	courses := v1.Group("/courses")
	{
		courses.GET("/:courseId/tests", hm.testHandler.GetTestsByCourse)
	}

	attempts := v1.Group("/attempts")
	{
		attempts.POST("", hm.attemptHandler.StartAttempt)
		attempts.GET("/mine", hm.attemptHandler.GetMyAttempts)
		attempts.GET("/:id", hm.attemptHandler.GetAttempt)
		attempts.GET("/:id/details", hm.attemptHandler.GetAttemptWithDetails)
		attempts.PUT("/:id/answers", hm.attemptHandler.SaveAnswer)
		attempts.POST("/:id/submit", hm.attemptHandler.SubmitAttempt)
		attempts.POST("/:id/publish", teacherOnly, hm.attemptHandler.PublishResult)
	}
}
