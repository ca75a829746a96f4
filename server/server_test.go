package server

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"connectrpc.com/connect"
	"github.com/chazu/aurora/compiler"
	"github.com/chazu/aurora/jit"
	"github.com/chazu/aurora/native"
	"github.com/chazu/aurora/value"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func bg() context.Context {
	return context.Background()
}

// newTestServer compiles fib and runs it once so every procedure has
// something to report.
func newTestServer(t *testing.T) (*httptest.Server, *jit.Manager, *native.Executor) {
	t.Helper()
	prog, err := compiler.Parse(`fn fib(n) { if n < 2 { return n } return fib(n - 1) + fib(n - 2) }`)
	if err != nil {
		t.Fatal(err)
	}
	exec, err := native.NewExecutor()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(exec.Close)
	m := jit.New(nil)
	if err := m.RegisterDecl(exec, prog.Functions()[0]); err != nil {
		t.Fatal(err)
	}
	if _, err := exec.Execute("fib", []value.Value{value.Int(10)}); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(New(m, exec).Handler())
	t.Cleanup(srv.Close)
	return srv, m, exec
}

func field(s *structpb.Struct, name string) *structpb.Value {
	return s.GetFields()[name]
}

func TestConnectListCompiled(t *testing.T) {
	srv, _, _ := newTestServer(t)
	client := connect.NewClient[emptypb.Empty, structpb.Struct](srv.Client(), srv.URL+ProcedureListCompiled)
	resp, err := client.CallUnary(bg(), connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		t.Fatalf("ListCompiled returned error: %v", err)
	}
	fns := field(resp.Msg, "functions").GetListValue().GetValues()
	if len(fns) != 1 {
		t.Fatalf("functions = %d, want 1", len(fns))
	}
	fib := fns[0].GetStructValue()
	if field(fib, "name").GetStringValue() != "fib" {
		t.Errorf("name = %q", field(fib, "name").GetStringValue())
	}
	if !field(fib, "native").GetBoolValue() {
		t.Error("fib not reported as native")
	}
	if field(resp.Msg, "compiled").GetNumberValue() != 1 {
		t.Errorf("compiled = %v", field(resp.Msg, "compiled"))
	}
}

func TestConnectGetCompiledErrors(t *testing.T) {
	srv, _, _ := newTestServer(t)
	client := connect.NewClient[wrapperspb.StringValue, structpb.Struct](srv.Client(), srv.URL+ProcedureGetCompiled)

	_, err := client.CallUnary(bg(), connect.NewRequest(wrapperspb.String("")))
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("empty name: %v", err)
	}
	_, err = client.CallUnary(bg(), connect.NewRequest(wrapperspb.String("nope")))
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Errorf("unknown name: %v", err)
	}
}

func TestGRPCClient(t *testing.T) {
	srv, m, exec := newTestServer(t)
	c, err := Dial(srv.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	got, err := c.GetCompiled(bg(), "fib")
	if err != nil {
		t.Fatalf("GetCompiled returned error: %v", err)
	}
	if !strings.Contains(field(got, "llvm_ir").GetStringValue(), "define i64 @fib(i64 %n)") {
		t.Errorf("llvm_ir = %q", field(got, "llvm_ir").GetStringValue())
	}
	if !strings.Contains(field(got, "ir").GetStringValue(), "@fib") {
		t.Errorf("ir = %q", field(got, "ir").GetStringValue())
	}
	tail := field(got, "tail_recursive").GetListValue().GetValues()
	if len(tail) != 0 {
		t.Errorf("fib reported tail recursive: %v", tail)
	}

	if _, err := c.GetCompiled(bg(), "nope"); status.Code(err) != codes.NotFound {
		t.Errorf("unknown name: %v", err)
	}

	stats, err := c.NativeStats(bg())
	if err != nil {
		t.Fatal(err)
	}
	if !field(stats, "enabled").GetBoolValue() {
		t.Error("executor reported disabled")
	}
	fib := field(stats, "functions").GetStructValue()
	if n := field(fib.GetFields()["fib"].GetStructValue(), "execution_count").GetNumberValue(); n != 1 {
		t.Errorf("execution_count = %v", n)
	}

	list, err := c.ListCompiled(bg())
	if err != nil {
		t.Fatal(err)
	}
	if n := len(field(list, "functions").GetListValue().GetValues()); n != 1 {
		t.Errorf("listed %d functions", n)
	}

	if err := c.ClearCache(bg()); err != nil {
		t.Fatal(err)
	}
	if m.Cache().Len() != 0 || exec.HasNative("fib") {
		t.Error("cache not cleared")
	}
	list, err = c.ListCompiled(bg())
	if err != nil {
		t.Fatal(err)
	}
	if n := len(field(list, "functions").GetListValue().GetValues()); n != 0 {
		t.Errorf("listed %d functions after clear", n)
	}
}

func TestServiceWithoutExecutor(t *testing.T) {
	svc := NewJITService(jit.New(nil), nil)
	resp, err := svc.NativeStats(bg(), connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		t.Fatal(err)
	}
	if field(resp.Msg, "enabled").GetBoolValue() {
		t.Error("enabled without executor")
	}
	if _, err := svc.ClearCache(bg(), connect.NewRequest(&emptypb.Empty{})); err != nil {
		t.Fatal(err)
	}
}

func TestListenAndServeStops(t *testing.T) {
	ctx, cancel := context.WithCancel(bg())
	done := make(chan error, 1)
	go func() { done <- New(jit.New(nil), nil).ListenAndServe(ctx, "127.0.0.1:0") }()
	cancel()
	if err := <-done; err != nil {
		t.Errorf("ListenAndServe: %v", err)
	}
}
