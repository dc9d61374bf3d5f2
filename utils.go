package feddfg

import (
	"context"

	"google.golang.org/grpc/metadata"
)

// Role identifies which side of the protocol a process plays.
type Role string

const (
	// RoleKeyholder generates the key pair, aggregates and decrypts.
	RoleKeyholder Role = "keyholder"
	// RoleContributor encrypts under the keyholder's public key and never
	// holds the secret key.
	RoleContributor Role = "contributor"
)

const roleMetadataKey = "feddfg-role"

// RoleToOutgoingContext attaches the caller's role to an outgoing gRPC context.
func RoleToOutgoingContext(ctx context.Context, r Role) context.Context {
	return metadata.AppendToOutgoingContext(ctx, roleMetadataKey, string(r))
}

// RoleFromIncomingContext reads the peer's announced role from an incoming
// gRPC context.
func RoleFromIncomingContext(ctx context.Context) (Role, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}
	vals := md.Get(roleMetadataKey)
	if len(vals) == 0 {
		return "", false
	}
	return Role(vals[0]), true
}
