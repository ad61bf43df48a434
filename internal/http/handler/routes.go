package handler

import (
	mw "github.com/edirooss/zmux-relay/internal/http/middleware"
	"github.com/gin-gonic/gin"
)

// Routes registers the control API under api (normally "/api").
func Routes(api *gin.RouterGroup, streams *StreamsHandler, tasks *TasksHandler, status gin.HandlerFunc) {
	api.GET("/status", status)
	api.POST("/url/parse", ParseURL)

	// --- Streams ---
	api.GET("/streams", streams.List)
	api.POST("/streams", streams.Create)
	{
		one := api.Group("/streams/:id", mw.RequireValidStreamID())
		one.GET("", streams.Get)
		one.GET("/config", streams.GetConfig)
		one.PATCH("", streams.Modify)
		one.DELETE("", streams.Delete)
		one.POST("/start", streams.Start)
		one.POST("/stop", streams.Stop)
		one.POST("/reconnect", streams.Reconnect)
		one.GET("/logs", streams.Logs)
	}

	// --- Tasks ---
	api.GET("/tasks", tasks.List)
	api.POST("/tasks", tasks.Create)
	{
		one := api.Group("/tasks/:id", mw.RequireValidTaskID())
		one.GET("", tasks.Get)
		one.PATCH("", tasks.Modify)
		one.DELETE("", tasks.Delete)
		one.POST("/start", tasks.Start)
		one.POST("/stop", tasks.Stop)
	}
}
