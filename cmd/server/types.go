package main

import (
	"codeberg.org/lessonforge/server/internal/config"
	"codeberg.org/lessonforge/server/internal/generation"
	"codeberg.org/lessonforge/server/internal/images"
	"codeberg.org/lessonforge/server/internal/kv"
	"codeberg.org/lessonforge/server/internal/llm"
	"codeberg.org/lessonforge/server/internal/quota"
	"codeberg.org/lessonforge/server/internal/sessions"
	ws "codeberg.org/lessonforge/server/internal/websocket"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// holds all dependencies and state for the API server
type Server struct {
	config     *config.Config
	store      kv.Store
	redis      *redis.Client // nil when usage lives in memory
	ledger     *quota.Ledger
	sessionMgr *sessions.Manager
	services   *Services
	hub        *ws.Hub
	router     *gin.Engine
}

// holds all external service clients (LLM, image search, orchestrator)
type Services struct {
	Generator    *llm.CompositeGenerator
	Images       *images.Pipeline
	Orchestrator *generation.Orchestrator
}
