package ingress

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"clientflow.io/flow/internal/broker"
	"clientflow.io/flow/internal/config"
	"clientflow.io/flow/internal/pkg/logger"
)

// JWTConfig gates the push endpoints with bearer-token auth. Ambient
// security carried from the teacher's own admin-API middleware, even
// though the pipeline's own Non-goals are silent on authN/Z.
type JWTConfig struct {
	VerificationKeys [][]byte
	Issuer           string
	Leeway           time.Duration
}

func (cfg JWTConfig) keyfunc() jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		switch len(cfg.VerificationKeys) {
		case 0:
			return nil, errors.New("no jwt verification keys configured")
		case 1:
			return cfg.VerificationKeys[0], nil
		default:
			keys := make([]jwt.VerificationKey, len(cfg.VerificationKeys))
			for i, k := range cfg.VerificationKeys {
				keys[i] = k
			}
			return jwt.VerificationKeySet{Keys: keys}, nil
		}
	}
}

func (cfg JWTConfig) parserOptions() []jwt.ParserOption {
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = 30 * time.Second
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(leeway),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return opts
}

// jwtAuth returns a Gin middleware gating every registered push endpoint
// behind a valid Bearer token.
func jwtAuth(cfg JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code": "UNAUTHORIZED", "message": "missing or malformed authorization header",
			})
			return
		}

		_, err := jwt.Parse(parts[1], cfg.keyfunc(), cfg.parserOptions()...)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code": "UNAUTHORIZED", "message": "invalid token",
			})
			return
		}
		c.Next()
	}
}

// PushServer is the HTTP receiver ingress adapter: one POST route per
// registered EventProcessor, each decoding its body, running the
// processor, and publishing every resulting event.
type PushServer struct {
	engine *gin.Engine
}

// NewPushServer builds the Gin engine with CORS and JWT auth wired from
// cfg, matching the teacher's router composition.
func NewPushServer(cfg *config.Config, jwtCfg JWTConfig) *PushServer {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(buildCORSConfig(cfg)))
	engine.Use(jwtAuth(jwtCfg))

	return &PushServer{engine: engine}
}

// RegisterEndpoint mounts a POST handler at path: decode JSON body →
// processor.ProcessEvent → publish each event to queue via brokerClient,
// keyed by the event's own Composite-ID as broker session.
func (s *PushServer) RegisterEndpoint(path, queue string, processor EventProcessor, brokerClient *broker.Client) {
	pub := newPublisher(brokerClient, queue)

	s.engine.POST(path, func(c *gin.Context) {
		var raw any
		if err := c.ShouldBindJSON(&raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "message": err.Error()})
			return
		}

		events, err := processor.ProcessEvent(c.Request.Context(), raw)
		if err != nil {
			logger.Warn("ingress: push validation failed", zap.String("path", path), zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"code": "VALIDATION_ERROR", "message": err.Error()})
			return
		}

		for _, event := range events {
			if err := pub.publish(c.Request.Context(), event); err != nil {
				logger.Error("ingress: publish failed", zap.String("path", path), zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"code": "PUBLISH_FAILED", "message": err.Error()})
				return
			}
		}

		c.JSON(http.StatusAccepted, gin.H{"published": len(events)})
	})
}

// Handler returns the underlying http.Handler for use with http.Server.
func (s *PushServer) Handler() http.Handler { return s.engine }

func buildCORSConfig(cfg *config.Config) cors.Config {
	corsCfg := cors.Config{
		AllowMethods:     []string{"POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		AllowCredentials: cfg.Server.AllowCredentials,
		MaxAge:           12 * time.Hour,
	}

	if cfg.Server.UnsafeAllowAllOrigins {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
		return corsCfg
	}

	origins := sanitizeAllowedOrigins(cfg.Server.AllowedOrigins)
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	corsCfg.AllowOrigins = origins
	return corsCfg
}

func sanitizeAllowedOrigins(origins []string) []string {
	cleaned := make([]string, 0, len(origins))
	seen := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "" || origin == "*" {
			continue
		}
		if _, ok := seen[origin]; ok {
			continue
		}
		seen[origin] = struct{}{}
		cleaned = append(cleaned, origin)
	}
	return cleaned
}
