//go:build !e2e

package auth_test

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"testing"

	api "github.com/nixpig/subprocd/api/v1"
	"github.com/nixpig/subprocd/internal/auth"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"
)

func peerContext(t *testing.T, cn, ou string) context.Context {
	t.Helper()

	cert := &x509.Certificate{
		Subject: pkix.Name{
			CommonName:         cn,
			OrganizationalUnit: []string{ou},
		},
	}

	authInfo := credentials.TLSInfo{
		State: tls.ConnectionState{
			VerifiedChains: [][]*x509.Certificate{{cert}},
		},
	}

	return peer.NewContext(t.Context(), &peer.Peer{AuthInfo: authInfo})
}

func TestIsAuthorised(t *testing.T) {
	t.Parallel()

	scenarios := map[string]struct {
		role         auth.Role
		method       string
		isAuthorised bool
	}{
		"Test operator can exec": {
			role:         auth.RoleOperator,
			method:       api.SubprocessService_Exec_FullMethodName,
			isAuthorised: true,
		},
		"Test operator can cancel exec": {
			role:         auth.RoleOperator,
			method:       api.SubprocessService_CancelExec_FullMethodName,
			isAuthorised: true,
		},
		"Test operator can run synchronously": {
			role:         auth.RoleOperator,
			method:       api.SubprocessService_SynchronousExec_FullMethodName,
			isAuthorised: true,
		},
		"Test operator can wait": {
			role:         auth.RoleOperator,
			method:       api.SubprocessService_Wait_FullMethodName,
			isAuthorised: true,
		},

		"Test viewer cannot exec": {
			role:         auth.RoleViewer,
			method:       api.SubprocessService_Exec_FullMethodName,
			isAuthorised: false,
		},
		"Test viewer cannot cancel exec": {
			role:         auth.RoleViewer,
			method:       api.SubprocessService_CancelExec_FullMethodName,
			isAuthorised: false,
		},
		"Test viewer cannot run synchronously": {
			role:         auth.RoleViewer,
			method:       api.SubprocessService_SynchronousExec_FullMethodName,
			isAuthorised: false,
		},
		"Test viewer can wait": {
			role:         auth.RoleViewer,
			method:       api.SubprocessService_Wait_FullMethodName,
			isAuthorised: true,
		},
		"Test viewer can inspect": {
			role:         auth.RoleViewer,
			method:       api.SubprocessService_Inspect_FullMethodName,
			isAuthorised: true,
		},
		"Test viewer can query in flight": {
			role:         auth.RoleViewer,
			method:       api.SubprocessService_InFlight_FullMethodName,
			isAuthorised: true,
		},

		"Test unknown method returns error": {
			role:         auth.RoleOperator,
			method:       "/subprocd.v1.SubprocessService/Unknown",
			isAuthorised: false,
		},
		"Test unknown role returns error": {
			role:         auth.Role("Unknown"),
			method:       api.SubprocessService_Inspect_FullMethodName,
			isAuthorised: false,
		},
	}

	for scenario, config := range scenarios {
		t.Run(scenario, func(t *testing.T) {
			t.Parallel()

			err := auth.IsAuthorised(config.role, config.method)

			if config.isAuthorised && err != nil {
				t.Errorf(
					"expected authorised not to return error: got '%v'",
					err,
				)
			}

			if !config.isAuthorised && err == nil {
				t.Errorf("expected not authorised to return error")
			}
		})
	}
}

func TestMethodsHavePermissions(t *testing.T) {
	t.Parallel()

	t.Run("Test all methods have permissions assigned", func(t *testing.T) {
		for _, m := range api.SubprocessService_ServiceDesc.Methods {
			fullMethodName := fmt.Sprintf(
				"/%s/%s",
				api.SubprocessService_ServiceDesc.ServiceName,
				m.MethodName,
			)
			if _, exists := auth.MethodPermissions[fullMethodName]; !exists {
				t.Errorf(
					"gRPC method doesn't have permission assigned: '%v'",
					fullMethodName,
				)
			}
		}
	})
}

func TestGetClientIdentity(t *testing.T) {
	t.Parallel()

	t.Run("Test peer with valid TLS info", func(t *testing.T) {
		cn, ou, err := auth.GetClientIdentity(peerContext(t, "alice", "operator"))
		if err != nil {
			t.Errorf("expected not to receive error: got '%v'", err)
		}

		if cn != "alice" {
			t.Errorf("expected CN: got '%s', want 'alice'", cn)
		}

		if ou != "operator" {
			t.Errorf("expected OU: got '%s', want 'operator'", ou)
		}
	})

	t.Run("Test peer with no TLS info", func(t *testing.T) {
		ctx := peer.NewContext(t.Context(), &peer.Peer{AuthInfo: nil})

		cn, ou, err := auth.GetClientIdentity(ctx)
		if err == nil {
			t.Errorf("expected to receive error")
		}

		if cn != "" || ou != "" {
			t.Errorf("expected empty identity: got '%s', '%s'", cn, ou)
		}
	})

	t.Run("Test no peer in context", func(t *testing.T) {
		cn, ou, err := auth.GetClientIdentity(t.Context())
		if err == nil {
			t.Errorf("expected to receive error")
		}

		if cn != "" || ou != "" {
			t.Errorf("expected empty identity: got '%s', '%s'", cn, ou)
		}
	})
}

func TestAuthorise(t *testing.T) {
	t.Parallel()

	t.Run("Test operator can exec", func(t *testing.T) {
		identity, err := auth.Authorise(
			peerContext(t, "alice", "operator"),
			api.SubprocessService_Exec_FullMethodName,
		)
		if err != nil {
			t.Errorf("expected not to receive error: got '%v'", err)
		}

		if identity.CommonName != "alice" || identity.Role != auth.RoleOperator {
			t.Errorf("expected operator alice: got '%+v'", identity)
		}
	})

	t.Run("Test viewer cannot exec", func(t *testing.T) {
		identity, err := auth.Authorise(
			peerContext(t, "bob", "viewer"),
			api.SubprocessService_Exec_FullMethodName,
		)
		if !errors.Is(err, auth.ErrNotAuthorised) {
			t.Errorf("expected ErrNotAuthorised: got '%v'", err)
		}

		if identity == nil || identity.CommonName != "bob" {
			t.Errorf("expected identity of rejected client: got '%+v'", identity)
		}
	})

	t.Run("Test viewer can wait", func(t *testing.T) {
		if _, err := auth.Authorise(
			peerContext(t, "bob", "viewer"),
			api.SubprocessService_Wait_FullMethodName,
		); err != nil {
			t.Errorf("expected not to receive error: got '%v'", err)
		}
	})

	t.Run("Test unknown role", func(t *testing.T) {
		if _, err := auth.Authorise(
			peerContext(t, "charlie", "admin"),
			api.SubprocessService_Inspect_FullMethodName,
		); !errors.Is(err, auth.ErrNotAuthorised) {
			t.Errorf("expected ErrNotAuthorised: got '%v'", err)
		}
	})

	t.Run("Test invalid context", func(t *testing.T) {
		if _, err := auth.Authorise(
			t.Context(),
			api.SubprocessService_Inspect_FullMethodName,
		); !errors.Is(err, auth.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated: got '%v'", err)
		}
	})
}
