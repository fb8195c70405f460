package toolbridge

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Builtins returns the default registry: a small set of local tools
// useful without any external tool host.
func Builtins() *FuncRegistry {
	registry := NewFuncRegistry()
	for _, def := range []Definition{
		currentTimeTool(),
		calculateTool(),
		randomNumberTool(),
	} {
		// Definitions are static, so registration cannot fail.
		_ = registry.Register(def)
	}
	return registry
}

func currentTimeTool() Definition {
	return Definition{
		Name:        "current_time",
		Description: "Get the current date and time, optionally in a named IANA timezone.",
		Parameters: []Parameter{
			{Name: "timezone", Type: "string", Description: "IANA timezone name, defaults to UTC", Required: false},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			loc := time.UTC
			if name, ok := args["timezone"].(string); ok && name != "" {
				parsed, err := time.LoadLocation(name)
				if err != nil {
					return nil, fmt.Errorf("unknown timezone %q", name)
				}
				loc = parsed
			}
			now := time.Now().In(loc)
			return map[string]interface{}{
				"iso":      now.Format(time.RFC3339),
				"unix":     now.Unix(),
				"timezone": loc.String(),
			}, nil
		},
	}
}

func calculateTool() Definition {
	return Definition{
		Name:        "calculate",
		Description: "Apply a basic arithmetic operation to two numbers.",
		Parameters: []Parameter{
			{Name: "a", Type: "number", Description: "Left operand", Required: true},
			{Name: "b", Type: "number", Description: "Right operand", Required: true},
			{Name: "op", Type: "string", Description: "One of add, subtract, multiply, divide", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			a, _ := args["a"].(float64)
			b, _ := args["b"].(float64)
			op, _ := args["op"].(string)

			var value float64
			switch op {
			case "add":
				value = a + b
			case "subtract":
				value = a - b
			case "multiply":
				value = a * b
			case "divide":
				if b == 0 {
					return nil, fmt.Errorf("division by zero")
				}
				value = a / b
			default:
				return nil, fmt.Errorf("unsupported operation %q", op)
			}
			return map[string]interface{}{"value": value}, nil
		},
	}
}

func randomNumberTool() Definition {
	return Definition{
		Name:        "random_number",
		Description: "Generate a random integer within an inclusive range.",
		Parameters: []Parameter{
			{Name: "min", Type: "integer", Description: "Lower bound, defaults to 0", Required: false, Default: 0},
			{Name: "max", Type: "integer", Description: "Upper bound, defaults to 100", Required: false, Default: 100},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			min, max := 0, 100
			if raw, ok := args["min"].(float64); ok {
				min = int(raw)
			}
			if raw, ok := args["max"].(float64); ok {
				max = int(raw)
			}
			if min > max {
				return nil, fmt.Errorf("min %d exceeds max %d", min, max)
			}
			return map[string]interface{}{"value": min + rand.Intn(max-min+1)}, nil
		},
	}
}
