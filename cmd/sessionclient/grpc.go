package sessionclient

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UnaryClientInterceptor attaches the access credential to outgoing gRPC
// metadata and, on codes.Unauthenticated, renews once and retries once.
func (c *Coordinator) UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		tok, err := c.AccessToken(ctx)
		if err != nil {
			return err
		}

		err = invoker(withAuthMetadata(ctx, tok), method, req, reply, cc, opts...)
		if status.Code(err) != codes.Unauthenticated {
			return err
		}

		fresh, rerr := c.Renew(ctx, tok)
		if rerr != nil || fresh == tok {
			return err
		}
		return invoker(withAuthMetadata(ctx, fresh), method, req, reply, cc, opts...)
	}
}

func withAuthMetadata(ctx context.Context, tok string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	md.Set("authorization", "Bearer "+tok)
	return metadata.NewOutgoingContext(ctx, md)
}
