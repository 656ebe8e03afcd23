package binder

import (
	"context"
	"fmt"

	"github.com/cloudloom/loom/pkg/capability"
)

// ComponentTypeFunction and friends are the component type tags the built-in
// strategies bind between.
const (
	ComponentTypeFunction = "function"
	ComponentTypeQueue    = "queue"
	ComponentTypeTopic    = "topic"
	ComponentTypeIoTThing = "iot-thing"
)

// Builtins returns the built-in strategies in their intended registration
// order. Registration order matters: the registry resolves first-match-wins.
func Builtins() []Strategy {
	return []Strategy{
		&functionInvokeStrategy{},
		&queueStrategy{},
		&topicPublishStrategy{},
		&iotDeviceStrategy{},
	}
}

// resolveTargetARN finds the target's resolvable identifier: the referenced
// capability's "arn" attribute, then an "arn" construct handle, then a
// synthesized identifier from the binding context.
func resolveTargetARN(tc *TriggerContext) string {
	if d, ok := tc.Target.Capabilities().Get(tc.Directive.Target.Capability); ok {
		if arn, ok := d.Data["arn"].(string); ok && arn != "" {
			return arn
		}
	}
	if construct, ok := tc.Target.Construct("arn"); ok {
		if arn, ok := construct.(string); ok && arn != "" {
			return arn
		}
	}
	return fmt.Sprintf("arn:cloud:%s:%s:%s:%s",
		tc.Target.Type(), tc.Binding.Region, tc.Binding.AccountID, tc.Target.NodeID())
}

// boolOption reads a boolean directive option, treating absence as false.
func boolOption(d *Directive, key string) bool {
	if d.Options == nil {
		return false
	}
	v, ok := d.Options[key].(bool)
	return ok && v
}

// functionInvokeStrategy wires direct function-to-function invocation.
type functionInvokeStrategy struct{}

func (s *functionInvokeStrategy) Name() string { return "function-invoke" }

func (s *functionInvokeStrategy) Compatibility() []CompatibilityEntry {
	return []CompatibilityEntry{
		{SourceType: ComponentTypeFunction, TargetType: ComponentTypeFunction, EventType: "invoke"},
	}
}

func (s *functionInvokeStrategy) Execute(_ context.Context, tc *TriggerContext) (*TriggerResult, error) {
	arn := resolveTargetARN(tc)

	tc.Source.SetEnv("TARGET_FUNCTION_ARN", arn)
	tc.Source.AddPolicyStatement(capability.PolicyStatement{
		Effect:    "allow",
		Actions:   []string{"lambda:InvokeFunction"},
		Resources: []string{arn},
	})

	return &TriggerResult{
		StrategyName: s.Name(),
		TriggerConfiguration: &TriggerConfiguration{
			TargetARN: arn,
		},
	}, nil
}

// queueStrategy wires functions to queues for publishing and subscribing.
type queueStrategy struct{}

func (s *queueStrategy) Name() string { return "queue" }

func (s *queueStrategy) Compatibility() []CompatibilityEntry {
	return []CompatibilityEntry{
		{SourceType: ComponentTypeFunction, TargetType: ComponentTypeQueue, EventType: "publish"},
		{SourceType: ComponentTypeFunction, TargetType: ComponentTypeQueue, EventType: "subscribe"},
	}
}

func (s *queueStrategy) Execute(_ context.Context, tc *TriggerContext) (*TriggerResult, error) {
	arn := resolveTargetARN(tc)

	var actions []string
	switch tc.Directive.Access {
	case AccessPublish:
		actions = []string{"sqs:SendMessage", "sqs:GetQueueUrl"}
	case AccessSubscribe:
		actions = []string{"sqs:ReceiveMessage", "sqs:DeleteMessage", "sqs:GetQueueAttributes"}
	default:
		return nil, fmt.Errorf("queue bindings support publish or subscribe, got %q", tc.Directive.Access)
	}

	tc.Source.SetEnv("TARGET_QUEUE_ARN", arn)
	tc.Source.AddPolicyStatement(capability.PolicyStatement{
		Effect:    "allow",
		Actions:   actions,
		Resources: []string{arn},
	})

	cfg := &TriggerConfiguration{TargetARN: arn}
	if tc.Directive.Filter != nil {
		cfg.Properties = map[string]interface{}{"filter": tc.Directive.Filter}
	}

	return &TriggerResult{StrategyName: s.Name(), TriggerConfiguration: cfg}, nil
}

// topicPublishStrategy wires functions to topics for publishing.
type topicPublishStrategy struct{}

func (s *topicPublishStrategy) Name() string { return "topic-publish" }

func (s *topicPublishStrategy) Compatibility() []CompatibilityEntry {
	return []CompatibilityEntry{
		{SourceType: ComponentTypeFunction, TargetType: ComponentTypeTopic, EventType: "publish"},
	}
}

func (s *topicPublishStrategy) Execute(_ context.Context, tc *TriggerContext) (*TriggerResult, error) {
	arn := resolveTargetARN(tc)

	tc.Source.SetEnv("TARGET_TOPIC_ARN", arn)
	tc.Source.AddPolicyStatement(capability.PolicyStatement{
		Effect:    "allow",
		Actions:   []string{"sns:Publish"},
		Resources: []string{arn},
	})

	return &TriggerResult{
		StrategyName: s.Name(),
		TriggerConfiguration: &TriggerConfiguration{
			TargetARN: arn,
		},
	}, nil
}

// iotDeviceStrategy wires functions to IoT things. With the
// requireSecureAccess option the source is marked for authenticated device
// access and granted the matching device permissions.
type iotDeviceStrategy struct{}

func (s *iotDeviceStrategy) Name() string { return "iot-device" }

func (s *iotDeviceStrategy) Compatibility() []CompatibilityEntry {
	return []CompatibilityEntry{
		{SourceType: ComponentTypeFunction, TargetType: ComponentTypeIoTThing, EventType: "invoke"},
	}
}

func (s *iotDeviceStrategy) Execute(_ context.Context, tc *TriggerContext) (*TriggerResult, error) {
	arn := resolveTargetARN(tc)

	tc.Source.SetEnv("IOT_THING_ARN", arn)
	tc.Source.AddPolicyStatement(capability.PolicyStatement{
		Effect:    "allow",
		Actions:   []string{"iot:DescribeThing"},
		Resources: []string{arn},
	})

	if boolOption(tc.Directive, "requireSecureAccess") {
		tc.Source.SetEnv("IOT_DEVICE_AUTHENTICATION_ENABLED", "true")
		tc.Source.AddPolicyStatement(capability.PolicyStatement{
			Effect:    "allow",
			Actions:   []string{"iot:Connect", "iot:Receive"},
			Resources: []string{arn},
		})
	}

	return &TriggerResult{
		StrategyName: s.Name(),
		TriggerConfiguration: &TriggerConfiguration{
			TargetARN: arn,
			Properties: map[string]interface{}{
				"secure_access": boolOption(tc.Directive, "requireSecureAccess"),
			},
		},
	}, nil
}
