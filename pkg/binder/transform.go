package binder

import (
	"context"
	"fmt"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// TransformEvaluator runs directive transform expressions. A transform is a
// Starlark script evaluated with the trigger configuration properties, the
// event type and the directive options predeclared; every non-underscore
// global it defines is merged back into the trigger configuration.
type TransformEvaluator struct {
	timeout time.Duration
}

// NewTransformEvaluator creates a transform evaluator with the given timeout.
func NewTransformEvaluator(timeout time.Duration) *TransformEvaluator {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &TransformEvaluator{timeout: timeout}
}

// Apply evaluates the directive's transform against the trigger
// configuration, in place. A directive without a transform is a no-op.
func (te *TransformEvaluator) Apply(ctx context.Context, directive *Directive, cfg *TriggerConfiguration) error {
	if directive == nil || directive.Transform == "" {
		return nil
	}

	input := map[string]interface{}{
		"event_type": directive.EventType,
		"target_arn": cfg.TargetARN,
	}
	if directive.Options != nil {
		input["options"] = directive.Options
	} else {
		input["options"] = map[string]interface{}{}
	}
	if cfg.Properties != nil {
		input["properties"] = cfg.Properties
	} else {
		input["properties"] = map[string]interface{}{}
	}

	output, err := te.evaluate(ctx, directive.Transform, input)
	if err != nil {
		return fmt.Errorf("transform evaluation failed: %w", err)
	}

	if cfg.Properties == nil {
		cfg.Properties = make(map[string]interface{}, len(output))
	}
	for k, v := range output {
		cfg.Properties[k] = v
	}
	return nil
}

// evaluate executes the script under the evaluator's timeout.
func (te *TransformEvaluator) evaluate(ctx context.Context, script string, input map[string]interface{}) (map[string]interface{}, error) {
	evalCtx, cancel := context.WithTimeout(ctx, te.timeout)
	defer cancel()

	type evalOutcome struct {
		output map[string]interface{}
		err    error
	}
	outcomeCh := make(chan evalOutcome, 1)

	go func() {
		output, err := te.evaluateSync(script, input)
		outcomeCh <- evalOutcome{output: output, err: err}
	}()

	select {
	case <-evalCtx.Done():
		return nil, fmt.Errorf("transform timeout after %v", te.timeout)
	case outcome := <-outcomeCh:
		return outcome.output, outcome.err
	}
}

func (te *TransformEvaluator) evaluateSync(script string, input map[string]interface{}) (map[string]interface{}, error) {
	thread := &starlark.Thread{
		Name: "loom-transform",
		Print: func(_ *starlark.Thread, _ string) {
			// Prints are suppressed; transforms have no output channel.
		},
	}

	predeclared := starlark.StringDict{
		"struct": starlarkstruct.Default,
	}
	for key, val := range input {
		starlarkVal, err := toStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert input %s: %w", key, err)
		}
		predeclared[key] = starlarkVal
	}

	globals, err := starlark.ExecFile(thread, "transform.star", script, predeclared)
	if err != nil {
		return nil, err
	}

	output := make(map[string]interface{})
	for name, val := range globals {
		if len(name) > 0 && name[0] == '_' {
			continue
		}
		goVal, err := fromStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert output %s: %w", name, err)
		}
		output[name] = goVal
	}
	return output, nil
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			starlarkVal, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
