package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"clientflow.io/flow/internal/config"
	"clientflow.io/flow/internal/domain"
	"clientflow.io/flow/internal/ingress"
)

// Application holds the composed application: config, infrastructure,
// the rule engine/integration pipeline, and the two ingress adapters
// (push, pull) that feed it.
type Application struct {
	Config   *config.Config
	Infra    *Infrastructure
	Pipeline *Pipeline
	Push     *ingress.PushServer
	Pull     *ingress.PullScheduler
	Router   http.Handler
}

// Bootstrap initializes infrastructure, wires the rule engine and
// integration rules onto the broker router, then mounts the push
// endpoints and builds the pull scheduler.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	infra, err := NewInfrastructure(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init infrastructure: %w", err)
	}

	pipeline, err := buildPipeline(infra)
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	jwtCfg := ingress.JWTConfig{
		VerificationKeys: verificationKeyBytes(cfg.Security.JWTVerificationKeys),
		Issuer:           "clientflow",
		Leeway:           5 * time.Second,
	}
	push := ingress.NewPushServer(cfg, jwtCfg)
	push.RegisterEndpoint("/v1/events/maestra", IngressMaestraQueue, domain.MaestraPushEventProcessor(), infra.Broker)
	push.RegisterEndpoint("/v1/events/contacto", IngressContactoQueue, domain.ContactoPushEventProcessor(), infra.Broker)
	push.RegisterEndpoint("/v1/events/auditoria", IngressAuditoriaQueue, domain.AuditoriaPushEventProcessor(), infra.Broker)

	pull := ingress.NewPullScheduler(
		infra.Pools.Engine,
		infra.Broker,
		IngressContactoQueue,
		cfg.Pull.Interval,
		domain.NewHTTPContactoPullProcessor(cfg.Pull.ContactoSourceURL),
		domain.ContactoPullEventProcessor(),
	)

	return &Application{
		Config:   cfg,
		Infra:    infra,
		Pipeline: pipeline,
		Push:     push,
		Pull:     pull,
		Router:   push.Handler(),
	}, nil
}

func verificationKeyBytes(keys []string) [][]byte {
	out := make([][]byte, len(keys))
	for i, k := range keys {
		out[i] = []byte(k)
	}
	return out
}
