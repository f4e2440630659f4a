// Package auth authorises gRPC requests from the identity carried by a
// verified mTLS client certificate. The certificate's first Organizational
// Unit names the client's Role.
package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"

	api "github.com/nixpig/subprocd/api/v1"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNotAuthorised    = errors.New("not authorised")
)

type Permission string

const (
	PermissionExecStart  Permission = "exec:start"
	PermissionExecCancel Permission = "exec:cancel"
	PermissionExecWait   Permission = "exec:wait"
	PermissionExecQuery  Permission = "exec:query"
)

type Role string

const (
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

var RolePermissions = map[Role][]Permission{
	RoleOperator: {
		PermissionExecStart,
		PermissionExecCancel,
		PermissionExecWait,
		PermissionExecQuery,
	},
	RoleViewer: {PermissionExecWait, PermissionExecQuery},
}

var MethodPermissions = map[string]Permission{
	api.SubprocessService_Exec_FullMethodName:            PermissionExecStart,
	api.SubprocessService_SynchronousExec_FullMethodName: PermissionExecStart,
	api.SubprocessService_CancelExec_FullMethodName:      PermissionExecCancel,
	api.SubprocessService_Wait_FullMethodName:            PermissionExecWait,
	api.SubprocessService_Inspect_FullMethodName:         PermissionExecQuery,
	api.SubprocessService_InFlight_FullMethodName:        PermissionExecQuery,
}

// Identity is the authenticated client behind a request.
type Identity struct {
	CommonName string
	Role       Role
}

func GetClientIdentity(ctx context.Context) (string, string, error) {
	p, ok := peer.FromContext(ctx)
	if !ok {
		return "", "", fmt.Errorf("failed to get peer info from context")
	}

	tlsInfo, ok := p.AuthInfo.(credentials.TLSInfo)
	if !ok {
		return "", "", fmt.Errorf("failed to get TLS info from peer auth info")
	}

	if len(tlsInfo.State.VerifiedChains) == 0 ||
		len(tlsInfo.State.VerifiedChains[0]) == 0 {
		return "", "", fmt.Errorf("no verified chains in TLS info")
	}

	cert := tlsInfo.State.VerifiedChains[0][0]

	cn := cert.Subject.CommonName

	var ou string
	if len(cert.Subject.OrganizationalUnit) > 0 {
		ou = cert.Subject.OrganizationalUnit[0]
	}

	return cn, ou, nil
}

func IsAuthorised(clientRole Role, method string) error {
	requiredPermission, exists := MethodPermissions[method]
	if !exists {
		return fmt.Errorf("specified method not in method permissions")
	}

	permissions, ok := RolePermissions[clientRole]
	if !ok {
		return fmt.Errorf("specified role not in role permissions")
	}

	if !slices.Contains(permissions, requiredPermission) {
		return fmt.Errorf("required permission not in permissions for role")
	}

	return nil
}

// Authorise identifies the client behind ctx and checks it may call method.
// Errors wrap ErrNotAuthenticated or ErrNotAuthorised. The Identity is
// returned whenever the client could be identified.
func Authorise(ctx context.Context, method string) (*Identity, error) {
	cn, ou, err := GetClientIdentity(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotAuthenticated, err)
	}

	identity := &Identity{CommonName: cn, Role: Role(ou)}

	if err := IsAuthorised(identity.Role, method); err != nil {
		return identity, fmt.Errorf("%w: %w", ErrNotAuthorised, err)
	}

	return identity, nil
}
