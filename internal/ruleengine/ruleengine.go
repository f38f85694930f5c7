// Package ruleengine implements the Rule Engine & Merge/Diff Processor:
// RuleSelector (C7/4.5.1), UpdateProcessor (4.5.2), RuleProcessor (4.5.3),
// the structured diff algorithm (4.5.4), and the per-message state machine
// (4.5.5).
//
// Import Path: clientflow.io/flow/internal/ruleengine
package ruleengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"clientflow.io/flow/internal/audit"
	"clientflow.io/flow/internal/broker"
	"clientflow.io/flow/internal/compositeid"
	"clientflow.io/flow/internal/docstore"
	"clientflow.io/flow/internal/pkg/apperrors"
	"clientflow.io/flow/internal/pkg/logger"
	"clientflow.io/flow/internal/unified"
)

// UpdateProcessor is the user extension point: merge an inbound event into
// the current unified record (or create one from scratch when current is
// nil), returning a fully valid unified record. Must be pure with respect
// to its inputs — the engine deep-copies event and current before the call
// so the processor cannot observe or mutate engine-held state.
type UpdateProcessor interface {
	ProcessMessage(ctx context.Context, event any, current any) (updated any, err error)
}

// UpdateProcessorFunc adapts a plain function to UpdateProcessor.
type UpdateProcessorFunc func(ctx context.Context, event any, current any) (any, error)

// ProcessMessage implements UpdateProcessor.
func (f UpdateProcessorFunc) ProcessMessage(ctx context.Context, event any, current any) (any, error) {
	return f(ctx, event, current)
}

// Rule binds one inbound event shape to its processor and the topics it
// may fan out to. Name derives from the model's type name, mirroring the
// original `Rule.model`-derived naming.
type Rule struct {
	Name      string
	Model     reflect.Type
	Processor UpdateProcessor
	Topics    map[string]struct{}
}

// NewRule builds a Rule for event model type M, deriving Name from M's
// type name.
func NewRule[M any](processor UpdateProcessor, topics ...string) Rule {
	var zero M
	typ := reflect.TypeOf(zero)
	topicSet := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		topicSet[t] = struct{}{}
	}
	return Rule{Name: typ.Name(), Model: typ, Processor: processor, Topics: topicSet}
}

// RuleSelector holds the ordered list of registered rules and dispatches
// inbound payloads to the first one whose model decodes successfully.
type RuleSelector struct {
	schema *unified.Schema
	rules  []Rule
}

// NewRuleSelector binds a selector to the unified-record schema its rules'
// topics are validated against.
func NewRuleSelector(schema *unified.Schema) *RuleSelector {
	return &RuleSelector{schema: schema}
}

// RegisterRule validates rule.Topics ⊆ {"root"} ∪ subschema-names(schema)
// and appends it to the ordered rule list. Registration must happen before
// message processing begins; afterwards the selector is read-only
// (spec.md §5(iv)).
func (s *RuleSelector) RegisterRule(rule Rule) error {
	for t := range rule.Topics {
		if !s.schema.HasSubschema(t) {
			return apperrors.Wrap(apperrors.ErrTopicNotInSchema, "TOPIC_NOT_IN_SCHEMA",
				fmt.Sprintf("rule %s: topic %q is not a subschema of %s", rule.Name, t, s.schema.Type()))
		}
	}
	s.rules = append(s.rules, rule)
	return nil
}

// SelectRule iterates registered rules in insertion order, attempting to
// decode raw as each rule's model; returns on the first successful decode.
// A field in raw that the model does not declare fails the decode for that
// model. If no rule matches, raises NoMatchingRule.
func (s *RuleSelector) SelectRule(raw []byte) (any, *Rule, error) {
	for i := range s.rules {
		rule := &s.rules[i]
		candidate := reflect.New(rule.Model).Interface()
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(candidate); err != nil {
			continue
		}
		return candidate, rule, nil
	}
	return nil, nil, apperrors.Wrap(apperrors.ErrNoMatchingRule, "NO_MATCHING_RULE",
		fmt.Sprintf("no registered rule model decodes %s", string(raw)))
}

// GetTopicsByChanges returns the deduplicated set of topics to fan out to:
// a topic is included iff some change's Subesquema equals it and is in
// ruleTopics; entries tagged "root" are included only when includeRoot is
// true.
func GetTopicsByChanges(ruleTopics map[string]struct{}, changes []audit.ChangeEntry, includeRoot bool) []string {
	seen := make(map[string]struct{})
	var topics []string
	for _, c := range changes {
		if _, inRule := ruleTopics[c.Subesquema]; !inRule {
			continue
		}
		if c.Subesquema == unified.RootTag && !includeRoot {
			continue
		}
		if _, already := seen[c.Subesquema]; already {
			continue
		}
		seen[c.Subesquema] = struct{}{}
		topics = append(topics, c.Subesquema)
	}
	return topics
}

// RuleProcessor orchestrates the per-message handling loop: select, merge,
// diff, persist, audit, fan-out.
type RuleProcessor struct {
	schema       *unified.Schema
	idCodec      *compositeid.Codec
	selector     *RuleSelector
	unifiedDocs  *docstore.Container
	auditLogger  *audit.Logger
	brokerClient *broker.Client
	includeRoot  bool
}

// NewRuleProcessor wires a RuleProcessor to its collaborators.
func NewRuleProcessor(
	schema *unified.Schema,
	idCodec *compositeid.Codec,
	selector *RuleSelector,
	unifiedDocs *docstore.Container,
	auditLogger *audit.Logger,
	brokerClient *broker.Client,
	includeRoot bool,
) *RuleProcessor {
	return &RuleProcessor{
		schema:       schema,
		idCodec:      idCodec,
		selector:     selector,
		unifiedDocs:  unifiedDocs,
		auditLogger:  auditLogger,
		brokerClient: brokerClient,
		includeRoot:  includeRoot,
	}
}

// Handle processes one inbound broker message. On any error, the caller
// must not ack the underlying broker job so it redelivers per the
// session-ordered policy — selection failure (NoMatchingRule) is fatal for
// this message and must not corrupt unified state, which holds here
// because neither the unified upsert nor the audit write has happened yet.
func (p *RuleProcessor) Handle(ctx context.Context, raw []byte) error {
	event, rule, err := p.selector.SelectRule(raw)
	if err != nil {
		logger.Error("ruleengine: no matching rule", zap.Error(err), zap.ByteString("payload", raw))
		return err
	}

	eventID, err := idOf(event)
	if err != nil {
		return apperrors.Wrap(err, "CONTRACT_VIOLATION", "event has no id field")
	}
	renderedID, err := p.idCodec.Render(eventID)
	if err != nil {
		return err
	}

	current := reflect.New(p.schema.Type()).Interface()
	found, err := p.unifiedDocs.Get(ctx, renderedID, current)
	if err != nil {
		return fmt.Errorf("fetch current unified record %s: %w", renderedID, err)
	}
	if !found {
		current = nil
	}

	eventCopy, err := deepCopy(event)
	if err != nil {
		return err
	}
	var currentCopy any
	if current != nil {
		currentCopy, err = deepCopy(current)
		if err != nil {
			return err
		}
	}

	updated, err := rule.Processor.ProcessMessage(ctx, eventCopy, currentCopy)
	if err != nil {
		return fmt.Errorf("process message with rule %s: %w", rule.Name, err)
	}

	changes := Diff(p.schema, current, updated, renderedID)

	if len(changes) == 1 && changes[0].Subesquema == audit.NoChangesSubschema {
		if err := p.auditLogger.LogChanges(ctx, changes); err != nil {
			return err
		}
		logger.Debug("ruleengine: no changes, skipping persist and fan-out", zap.String("id", renderedID))
		return nil
	}

	if err := p.unifiedDocs.Upsert(ctx, renderedID, updated); err != nil {
		return fmt.Errorf("upsert unified record %s: %w", renderedID, err)
	}
	if err := p.auditLogger.LogChanges(ctx, changes); err != nil {
		return err
	}

	topics := GetTopicsByChanges(rule.Topics, changes, p.includeRoot)
	for _, topic := range topics {
		if err := p.brokerClient.TopicSend(ctx, topic, updated); err != nil {
			return fmt.Errorf("fan out to topic %s: %w", topic, err)
		}
	}

	return nil
}

func idOf(event any) (any, error) {
	v := reflect.ValueOf(event)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct || v.NumField() == 0 {
		return nil, fmt.Errorf("event has no fields")
	}
	return v.Field(0).Interface(), nil
}

func deepCopy(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("deep-copy encode: %w", err)
	}
	out := reflect.New(reflect.TypeOf(v).Elem()).Interface()
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("deep-copy decode: %w", err)
	}
	return out, nil
}
