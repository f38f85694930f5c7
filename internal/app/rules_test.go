package app

import (
	"testing"

	"github.com/stretchr/testify/require"

	"clientflow.io/flow/internal/broker"
	"clientflow.io/flow/internal/config"
)

func TestBuildPipeline_RegistersEveryQueueRoute(t *testing.T) {
	infra := &Infrastructure{
		Config: &config.Config{},
		Router: broker.NewRouter(),
	}

	pipeline, err := buildPipeline(infra)
	require.NoError(t, err)
	require.NotNil(t, pipeline.RuleProcessor)
	require.NotNil(t, pipeline.MaestraRule)
	require.NotNil(t, pipeline.ContactoRule)

	for _, queue := range []string{
		IngressMaestraQueue, IngressContactoQueue, IngressAuditoriaQueue,
		TopicMaestra, TopicContacto,
	} {
		require.True(t, infra.Router.Registered(queue), "expected a registered handler for queue %s", queue)
	}
}
