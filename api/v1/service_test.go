package v1_test

import (
	"context"
	"errors"
	"os"
	"regexp"
	"testing"

	"github.com/google/go-cmp/cmp"
	api "github.com/nixpig/subprocd/api/v1"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type rpcSignature struct {
	Request  string
	Response string
}

// recordingConn records the message types the client sends and receives.
type recordingConn struct {
	calls map[string]rpcSignature
}

func (c *recordingConn) Invoke(
	ctx context.Context,
	method string,
	args any,
	reply any,
	opts ...grpc.CallOption,
) error {
	c.calls[method] = rpcSignature{
		Request:  string(proto.MessageName(args.(proto.Message))),
		Response: string(proto.MessageName(reply.(proto.Message))),
	}

	return nil
}

func (c *recordingConn) NewStream(
	ctx context.Context,
	desc *grpc.StreamDesc,
	method string,
	opts ...grpc.CallOption,
) (grpc.ClientStream, error) {
	return nil, errors.New("streams not supported")
}

var rpcPattern = regexp.MustCompile(
	`rpc\s+(\w+)\s*\(\s*([\w.]+)\s*\)\s*returns\s*\(\s*([\w.]+)\s*\)`,
)

func TestServiceMatchesSchema(t *testing.T) {
	t.Parallel()

	schema, err := os.ReadFile("subprocess.proto")
	if err != nil {
		t.Fatalf("failed to read schema: '%v'", err)
	}

	want := map[string]rpcSignature{}

	for _, m := range rpcPattern.FindAllStringSubmatch(string(schema), -1) {
		want["/"+api.SubprocessService_ServiceName+"/"+m[1]] = rpcSignature{
			Request:  m[2],
			Response: m[3],
		}
	}

	conn := &recordingConn{calls: map[string]rpcSignature{}}
	client := api.NewSubprocessServiceClient(conn)
	ctx := t.Context()

	tag := wrapperspb.UInt32(1)

	client.Exec(ctx, &structpb.Struct{})
	client.Wait(ctx, tag)
	client.CancelExec(ctx, tag)
	client.InFlight(ctx, &emptypb.Empty{})
	client.Inspect(ctx, tag)
	client.SynchronousExec(ctx, &structpb.Struct{})

	if diff := cmp.Diff(want, conn.calls); diff != "" {
		t.Errorf("client doesn't match schema (-want +got):\n%s", diff)
	}

	if len(api.SubprocessService_ServiceDesc.Methods) != len(want) {
		t.Errorf(
			"expected service methods: got '%d', want '%d'",
			len(api.SubprocessService_ServiceDesc.Methods),
			len(want),
		)
	}
}
