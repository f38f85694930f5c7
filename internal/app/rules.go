package app

import (
	"context"

	"clientflow.io/flow/internal/compositeid"
	"clientflow.io/flow/internal/domain"
	"clientflow.io/flow/internal/integration"
	"clientflow.io/flow/internal/ruleengine"
	"clientflow.io/flow/internal/unified"
)

// Pipeline holds the fully wired rule engine and integration rules for
// the one unified-record type (domain.ClienteUnificado) this deployment
// serves.
type Pipeline struct {
	Schema        *unified.Schema
	Selector      *ruleengine.RuleSelector
	RuleProcessor *ruleengine.RuleProcessor
	MaestraRule   *integration.Rule
	ContactoRule  *integration.Rule
}

// buildPipeline registers the unified schema, the rule engine's rules,
// the integration rules, and their River queue routes on infra.Router.
// Call before infra.RiverClient.Start — the router must be fully wired
// before jobs are consumed.
func buildPipeline(infra *Infrastructure) (*Pipeline, error) {
	schema := unified.Register[domain.ClienteUnificado]()
	idCodec := compositeid.Register[domain.ClienteID]("-")

	selector := ruleengine.NewRuleSelector(schema)
	if err := selector.RegisterRule(ruleengine.NewRule[domain.MaestraEvent](domain.MaestraProcessor(), TopicMaestra)); err != nil {
		return nil, err
	}
	if err := selector.RegisterRule(ruleengine.NewRule[domain.ContactoEvent](domain.ContactoProcessor(), TopicContacto)); err != nil {
		return nil, err
	}
	if err := selector.RegisterRule(ruleengine.NewRule[domain.AuditoriaEvent](domain.AuditoriaProcessor(), unified.RootTag)); err != nil {
		return nil, err
	}

	ruleProcessor := ruleengine.NewRuleProcessor(
		schema, idCodec, selector,
		infra.UnifiedDocs, infra.AuditLogger, infra.Broker,
		infra.Config.Fanout.IncludeRoot,
	)

	restCfg := integration.RESTConfig{
		ClientID:            infra.Config.Integration.ClientID,
		ClientSecret:        infra.Config.Integration.ClientSecret,
		Username:            infra.Config.Integration.Username,
		Password:            infra.Config.Integration.Password,
		TokenResource:       infra.Config.Integration.TokenResource,
		APIURL:              infra.Config.Integration.APIURL,
		UseURLParamsForAuth: infra.Config.Integration.UseURLParamsForAuth,
	}

	maestraRule := integration.NewRule("cliente_maestra_crm", schema, idCodec,
		domain.NewClienteRESTIntegrator(restCfg), infra.AuditLogger)
	maestraRule.MaxRetries = infra.Config.Integration.MaxRetries
	maestraRule.BaseDelay = infra.Config.Integration.BaseDelay

	contactoRule := integration.NewRule("cliente_contacto_crm", schema, idCodec,
		domain.NewClienteRESTIntegrator(restCfg), infra.AuditLogger)
	contactoRule.MaxRetries = infra.Config.Integration.MaxRetries
	contactoRule.BaseDelay = infra.Config.Integration.BaseDelay

	infra.Router.Register(IngressMaestraQueue, func(ctx context.Context, _ string, body []byte) error {
		return ruleProcessor.Handle(ctx, body)
	})
	infra.Router.Register(IngressContactoQueue, func(ctx context.Context, _ string, body []byte) error {
		return ruleProcessor.Handle(ctx, body)
	})
	infra.Router.Register(IngressAuditoriaQueue, func(ctx context.Context, _ string, body []byte) error {
		return ruleProcessor.Handle(ctx, body)
	})
	infra.Router.Register(TopicMaestra, func(ctx context.Context, _ string, body []byte) error {
		return maestraRule.Run(ctx, body)
	})
	infra.Router.Register(TopicContacto, func(ctx context.Context, _ string, body []byte) error {
		return contactoRule.Run(ctx, body)
	})

	return &Pipeline{
		Schema:        schema,
		Selector:      selector,
		RuleProcessor: ruleProcessor,
		MaestraRule:   maestraRule,
		ContactoRule:  contactoRule,
	}, nil
}
