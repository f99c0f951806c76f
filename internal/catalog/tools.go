// Package catalog defines the fixed educational capability set served by
// abacusd: calculator tools, constant and guide resources, and prompt
// templates. Definitions are plain values; the engine factory snapshots
// them once at startup and the set never changes afterwards.
package catalog

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/abacusd/abacusd/internal/engine"
	"github.com/abacusd/abacusd/internal/fault"
	"github.com/abacusd/abacusd/internal/mcp"
)

// Instructions is the guidance string the initialize result advertises.
const Instructions = "abacusd is a stateless educational calculator. " +
	"Call the arithmetic tools with numeric arguments, read calc:// resources " +
	"for constants and usage notes, and use the prompts to generate teaching " +
	"material. Nothing is remembered between requests."

type binaryArgs struct {
	A float64 `json:"a" jsonschema:"description=Left operand"`
	B float64 `json:"b" jsonschema:"description=Right operand"`
}

type factorialArgs struct {
	N int64 `json:"n" jsonschema:"description=Non-negative integer no greater than 20"`
}

type powerArgs struct {
	Base     float64 `json:"base" jsonschema:"description=The base"`
	Exponent float64 `json:"exponent" jsonschema:"description=The exponent"`
}

// factorialMax bounds n so the result stays within int64.
const factorialMax = 20

// Tools returns the calculator tool set. The power tool participates only
// when enabled at startup.
func Tools(enablePower bool) []engine.StaticTool {
	tools := []engine.StaticTool{
		engine.NewTool[binaryArgs]("add", addTool,
			engine.WithToolDescription("Add two numbers")),
		engine.NewTool[binaryArgs]("subtract", subtractTool,
			engine.WithToolDescription("Subtract the second number from the first")),
		engine.NewTool[binaryArgs]("multiply", multiplyTool,
			engine.WithToolDescription("Multiply two numbers")),
		engine.NewTool[binaryArgs]("divide", divideTool,
			engine.WithToolDescription("Divide the first number by the second")),
		engine.NewTool[factorialArgs]("factorial", factorialTool,
			engine.WithToolDescription("Compute n! for a non-negative integer, reporting progress per multiplication step")),
	}
	if enablePower {
		tools = append(tools, engine.NewTool[powerArgs]("power", powerTool,
			engine.WithToolDescription("Raise a base to an exponent")))
	}
	return tools
}

func addTool(ctx context.Context, args binaryArgs) (*mcp.CallToolResult, error) {
	return finiteResult(args.A + args.B)
}

func subtractTool(ctx context.Context, args binaryArgs) (*mcp.CallToolResult, error) {
	return finiteResult(args.A - args.B)
}

func multiplyTool(ctx context.Context, args binaryArgs) (*mcp.CallToolResult, error) {
	return finiteResult(args.A * args.B)
}

func divideTool(ctx context.Context, args binaryArgs) (*mcp.CallToolResult, error) {
	if args.B == 0 {
		return nil, fault.Invalidf("division by zero is undefined")
	}
	return finiteResult(args.A / args.B)
}

func powerTool(ctx context.Context, args powerArgs) (*mcp.CallToolResult, error) {
	return finiteResult(math.Pow(args.Base, args.Exponent))
}

func factorialTool(ctx context.Context, args factorialArgs) (*mcp.CallToolResult, error) {
	if args.N < 0 {
		return nil, fault.Invalidf("n must be non-negative")
	}
	if args.N > factorialMax {
		return nil, fault.Invalidf("n must be no greater than %d", factorialMax)
	}

	rep, hasReporter := engine.ReporterFrom(ctx)

	result := int64(1)
	for i := int64(1); i <= args.N; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result *= i
		if hasReporter {
			_ = rep.Report(ctx, float64(i)/float64(args.N),
				fmt.Sprintf("multiplied %d of %d factors", i, args.N))
		}
	}

	return engine.StructuredResult(strconv.FormatInt(result, 10), map[string]any{"value": result}), nil
}

// finiteResult renders a numeric result as text plus structured content.
// Overflow into infinities and NaN is a client input fault: the operands
// were representable, their combination is not.
func finiteResult(v float64) (*mcp.CallToolResult, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fault.Invalidf("result is not a finite number")
	}
	return engine.StructuredResult(formatNumber(v), map[string]any{"value": v}), nil
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
