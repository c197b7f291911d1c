// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianScholar/services/scholar/handlers"
)

func SetupRoutes(router *gin.Engine, deps *handlers.Deps) {
	router.Use(handlers.Metrics())

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/documents", handlers.IngestDocument(deps))
		v1.GET("/documents", handlers.ListDocuments(deps))
		v1.GET("/documents/:documentId", handlers.GetDocument(deps))
		v1.GET("/documents/:documentId/download", handlers.DownloadDocument(deps))
		v1.DELETE("/documents/:documentId", handlers.DeleteDocument(deps))

		v1.POST("/search", handlers.Search(deps))
		v1.POST("/ask", handlers.Ask(deps))
		v1.POST("/verify", handlers.Verify(deps))

		tasksGroup := v1.Group("/tasks")
		{
			tasksGroup.GET("", handlers.ListTasks(deps))
			tasksGroup.GET("/:taskId", handlers.GetTask(deps))
		}

		collections := v1.Group("/collections")
		{
			collections.POST("", handlers.CreateCollection(deps))
			collections.DELETE("/:collection", handlers.DeleteCollection(deps))
			collections.PUT("/:collection/expansion", handlers.SetExpansion(deps))
			collections.GET("/:collection/expansion", handlers.GetExpansion(deps))
		}
	}
}
