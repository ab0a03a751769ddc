package webserver

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/promptfm/radiocore/src/config"
	"github.com/promptfm/radiocore/src/engine"
	"github.com/promptfm/radiocore/src/moderation"
	"github.com/promptfm/radiocore/src/scoring"
)

// Deps carries everything the handlers need.
type Deps struct {
	Config  config.Config
	DB      *gorm.DB
	Redis   *redis.Client
	Engine  *engine.Engine
	Scorer  *scoring.Scorer
	Auditor moderation.Auditor
}

func New(deps Deps) *gin.Engine {
	g := gin.New()
	g.Use(gin.Logger(), gin.Recovery())
	attachRoutes(g, deps)
	return g
}

func attachRoutes(r *gin.Engine, deps Deps) {
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000", "https://prompt.fm"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	reqH := NewRequests(deps.DB, deps.Engine, deps.Scorer)
	voteH := NewVotes(deps.Engine)
	modH := NewModeration(deps.DB, deps.Engine, deps.Auditor)
	bcH := NewBroadcast(deps.DB, deps.Engine)

	secret := []byte(deps.Config.JWTSecret)

	v1 := r.Group("/v1")
	{
		v1.POST("/requests", reqH.Submit)
		v1.GET("/requests/:id", reqH.Status)
		v1.DELETE("/requests/:id", reqH.Cancel)
		v1.GET("/channels/:id/queue", reqH.Queue)
		v1.GET("/channels/:id/now-playing", bcH.NowPlaying)
		v1.POST("/votes", voteH.Cast)

		internal := v1.Group("/internal")
		internal.Use(JWTMiddleware(secret))
		{
			internal.POST("/broadcast/finished", bcH.Finished)
		}

		mod := v1.Group("/moderation")
		mod.Use(JWTMiddleware(secret))
		{
			mod.GET("/review", modH.ReviewQueue)
			mod.POST("/review/:id", modH.Resolve)
			mod.GET("/audit/:id", modH.Audit)
		}
	}
}
