package server

import (
	"context"
	"fmt"
	"time"

	"connectrpc.com/connect"
	"github.com/chazu/aurora/jit"
	"github.com/chazu/aurora/native"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Procedure paths of the JIT service.
const (
	JITServiceName        = "aurora.v1.JITService"
	ProcedureListCompiled = "/" + JITServiceName + "/ListCompiled"
	ProcedureGetCompiled  = "/" + JITServiceName + "/GetCompiled"
	ProcedureNativeStats  = "/" + JITServiceName + "/NativeStats"
	ProcedureClearCache   = "/" + JITServiceName + "/ClearCache"
)

// JITService implements the JITService handlers.
type JITService struct {
	jit  *jit.Manager
	exec *native.Executor
}

// NewJITService creates a JITService. exec may be nil when native
// execution is off.
func NewJITService(m *jit.Manager, exec *native.Executor) *JITService {
	return &JITService{jit: m, exec: exec}
}

// ListCompiled returns a summary of every cached function, sorted by name.
func (s *JITService) ListCompiled(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	var functions []any
	for _, cf := range s.jit.All() {
		functions = append(functions, map[string]any{
			"name":            cf.Name,
			"id":              cf.ID.String(),
			"timestamp":       cf.Timestamp.UTC().Format(time.RFC3339Nano),
			"compile_time_us": cf.CompileTime.Microseconds(),
			"native":          s.exec != nil && s.exec.HasNative(cf.Name),
		})
	}
	st := s.jit.Stats()
	out, err := structpb.NewStruct(map[string]any{
		"functions":          functions,
		"compiled":           st.Compiled,
		"failures":           st.Failures,
		"total_compile_time": st.TotalCompileTime.String(),
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(out), nil
}

// GetCompiled returns the LLVM IR text and optimized IR of one function.
func (s *JITService) GetCompiled(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
) (*connect.Response[structpb.Struct], error) {
	name := req.Msg.GetValue()
	if name == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("function name is required"))
	}
	cf, ok := s.jit.GetCompiled(name)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("function %q is not compiled", name))
	}

	fields := map[string]any{
		"name":            cf.Name,
		"id":              cf.ID.String(),
		"timestamp":       cf.Timestamp.UTC().Format(time.RFC3339Nano),
		"compile_time_us": cf.CompileTime.Microseconds(),
		"llvm_ir":         cf.IRText,
		"ir":              cf.Module.String(),
	}
	if r := cf.OptimizerReport; r != nil {
		fields["optimizer"] = r.String()
		var tail []any
		for _, name := range r.TailRecursive {
			tail = append(tail, name)
		}
		fields["tail_recursive"] = tail
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(out), nil
}

// NativeStats returns the execution statistics of every native entry point.
func (s *JITService) NativeStats(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	functions := map[string]any{}
	enabled := false
	if s.exec != nil {
		enabled = s.exec.Enabled()
		for name, st := range s.exec.AllStats() {
			functions[name] = map[string]any{
				"compile_time_us":         st.CompileTime.Microseconds(),
				"execution_count":         st.ExecutionCount,
				"total_execution_time_us": st.TotalExecutionTimeUs,
				"avg_execution_time_us":   st.AvgExecutionTimeUs,
				"stubbed":                 st.Stubbed,
			}
		}
	}
	out, err := structpb.NewStruct(map[string]any{
		"enabled":   enabled,
		"functions": functions,
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(out), nil
}

// ClearCache drops every cached function and native entry point.
func (s *JITService) ClearCache(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[emptypb.Empty], error) {
	s.jit.ClearCache()
	if s.exec != nil {
		s.exec.ClearCache()
	}
	log.Info("JIT cache cleared")
	return connect.NewResponse(&emptypb.Empty{}), nil
}
