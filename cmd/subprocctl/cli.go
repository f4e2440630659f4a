package main

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"text/tabwriter"

	api "github.com/nixpig/subprocd/api/v1"
	"github.com/nixpig/subprocd/internal/subprocess"
	"github.com/nixpig/subprocd/internal/tlsconfig"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// TODO: Inject version at build time.
const version = "0.0.1"

type config struct {
	serverHostname string
	serverPort     string
	caCertPath     string
	certPath       string
	keyPath        string
}

// spawnOptions are the flags shared by commands that spawn a process.
type spawnOptions struct {
	searchPath bool
	stdoutNull bool
	stderrNull bool
}

func (o *spawnOptions) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(
		&o.searchPath,
		"search-path",
		false,
		"Look up the program in the server's PATH",
	)

	cmd.Flags().BoolVar(
		&o.stdoutNull,
		"stdout-null",
		false,
		"Discard the program's stdout",
	)

	cmd.Flags().BoolVar(
		&o.stderrNull,
		"stderr-null",
		false,
		"Discard the program's stderr",
	)

	// Stop parsing args after first position so that flags passed to the
	// program to run are not interpreted by subprocctl and are passed as-is,
	// e.g. `-c` is an argument to `sh` _not_ to `subprocctl exec`:
	//	`subprocctl exec sh -c 'exit 3'`
	cmd.Flags().SetInterspersed(false)
}

func (o *spawnOptions) flags() subprocess.SpawnFlags {
	flags := subprocess.SpawnDefault

	if o.searchPath {
		flags |= subprocess.SpawnSearchPath
	}

	if o.stdoutNull {
		flags |= subprocess.SpawnStdoutToDevNull
	}

	if o.stderrNull {
		flags |= subprocess.SpawnStderrToDevNull
	}

	return flags
}

type cli struct {
	client api.SubprocessServiceClient
	conn   *grpc.ClientConn
}

func newCLI() *cli {
	return &cli{}
}

func (c *cli) rootCmd() *cobra.Command {
	cfg := &config{}

	command := &cobra.Command{
		Use:          "subprocctl",
		Short:        "CLI for running processes on a subprocd server",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			tlsConfig, err := tlsconfig.SetupTLS(&tlsconfig.Config{
				CertPath:   cfg.certPath,
				KeyPath:    cfg.keyPath,
				CACertPath: cfg.caCertPath,
				ServerName: cfg.serverHostname,
			})
			if err != nil {
				return err
			}

			c.conn, err = grpc.NewClient(
				net.JoinHostPort(
					cfg.serverHostname,
					cfg.serverPort,
				),
				grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)),
			)
			if err != nil {
				return err
			}

			c.client = api.NewSubprocessServiceClient(c.conn)

			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.conn == nil {
				return nil
			}

			// Connection needs to remain open for duration of any child commands.
			return c.conn.Close()
		},
	}

	command.AddCommand(
		c.execCmd(),
		c.waitCmd(),
		c.cancelCmd(),
		c.inFlightCmd(),
		c.inspectCmd(),
		c.runCmd(),
	)

	command.CompletionOptions.HiddenDefaultCmd = true

	command.PersistentFlags().StringVar(
		&cfg.serverHostname,
		"server-hostname",
		"localhost",
		"Server hostname",
	)

	command.PersistentFlags().StringVar(
		&cfg.serverPort,
		"server-port",
		"8443",
		"Server port",
	)

	command.PersistentFlags().StringVar(
		&cfg.certPath,
		"cert-path",
		"certs/client-operator.crt",
		"Path to client TLS certificate",
	)

	command.PersistentFlags().StringVar(
		&cfg.keyPath,
		"key-path",
		"certs/client-operator.key",
		"Path to client TLS private key",
	)

	command.PersistentFlags().StringVar(
		&cfg.caCertPath,
		"ca-cert-path",
		"certs/ca.crt",
		"Path to CA certificate for mTLS",
	)

	return command
}

func (c *cli) execCmd() *cobra.Command {
	var opts spawnOptions
	var wait bool

	command := &cobra.Command{
		Use:   "exec [flags] PROGRAM [ARGS]",
		Short: "Start a process and print its tag",
		Example: "  subprocctl exec /bin/sleep 30\n" +
			"  subprocctl exec --wait --search-path sh -c 'exit 3'",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &api.ExecRequest{Argv: args, Flags: uint32(opts.flags())}

			tag, err := c.client.Exec(cmd.Context(), req.Struct())
			if err != nil {
				return mapError(err)
			}

			if !wait {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\n", tag.GetValue())
				return nil
			}

			resp, err := c.client.Wait(cmd.Context(), tag)
			if err != nil {
				return mapError(err)
			}

			fmt.Fprintf(
				cmd.OutOrStdout(),
				"%d\t%s\n",
				tag.GetValue(),
				subprocess.DescribeExitCode(int(resp.GetValue())),
			)

			return nil
		},
	}

	opts.register(command)

	command.Flags().BoolVar(
		&wait,
		"wait",
		false,
		"Wait for the process to terminate and print how it ended",
	)

	return command
}

func (c *cli) waitCmd() *cobra.Command {
	command := &cobra.Command{
		Use:     "wait [flags] TAG",
		Short:   "Wait for a process to terminate and print its return code",
		Example: "  subprocctl wait 42",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tag, err := parseTag(args[0])
			if err != nil {
				return err
			}

			resp, err := c.client.Wait(cmd.Context(), tag)
			if err != nil {
				return mapError(err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d\n", resp.GetValue())

			return nil
		},
	}

	return command
}

func (c *cli) cancelCmd() *cobra.Command {
	command := &cobra.Command{
		Use:     "cancel [flags] TAG",
		Short:   "Stop tracking completion of a process; it keeps running",
		Example: "  subprocctl cancel 42",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tag, err := parseTag(args[0])
			if err != nil {
				return err
			}

			if _, err := c.client.CancelExec(cmd.Context(), tag); err != nil {
				return mapError(err)
			}

			return nil
		},
	}

	return command
}

func (c *cli) inFlightCmd() *cobra.Command {
	command := &cobra.Command{
		Use:     "inflight",
		Short:   "Report whether any process completion is pending",
		Example: "  subprocctl inflight",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := c.client.InFlight(cmd.Context(), &emptypb.Empty{})
			if err != nil {
				return mapError(err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%t\n", resp.GetValue())

			return nil
		},
	}

	return command
}

func (c *cli) inspectCmd() *cobra.Command {
	command := &cobra.Command{
		Use:     "inspect [flags] TAG",
		Short:   "Describe a tracked process",
		Example: "  subprocctl inspect 42",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tag, err := parseTag(args[0])
			if err != nil {
				return err
			}

			resp, err := c.client.Inspect(cmd.Context(), tag)
			if err != nil {
				return mapError(err)
			}

			info, err := api.ParseInspectResponse(resp)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)

			fmt.Fprintf(w, "TAG\tPID\tSTATE\tARMED\tCOMMAND\t\n")
			fmt.Fprintf(
				w,
				"%d\t%s\t%s\t%t\t%s\t\n",
				info.Tag,
				formatPID(info.PID),
				info.State,
				info.Armed,
				strings.Join(info.Argv, " "),
			)

			return w.Flush()
		},
	}

	return command
}

func (c *cli) runCmd() *cobra.Command {
	var opts spawnOptions

	command := &cobra.Command{
		Use:     "run [flags] PROGRAM [ARGS]",
		Short:   "Run a process to completion and print how it ended",
		Example: "  subprocctl run --search-path make test",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &api.ExecRequest{Argv: args, Flags: uint32(opts.flags())}

			resp, err := c.client.SynchronousExec(cmd.Context(), req.Struct())
			if err != nil {
				return mapError(err)
			}

			result, err := api.ParseSynchronousExecResponse(resp)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", result.Description)

			return nil
		},
	}

	opts.register(command)

	return command
}

func parseTag(s string) (*wrapperspb.UInt32Value, error) {
	tag, err := strconv.ParseUint(s, 10, 32)
	if err != nil || tag == 0 {
		return nil, fmt.Errorf("invalid tag '%s'", s)
	}

	return wrapperspb.UInt32(uint32(tag)), nil
}

func formatPID(pid int64) string {
	if pid == 0 {
		return "-"
	}

	return strconv.FormatInt(pid, 10)
}

// mapError translates gRPC errors to human-readable messages.
func mapError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	switch st.Code() {
	case codes.NotFound:
		return errors.New("not found")
	case codes.PermissionDenied:
		return errors.New("permission denied")
	case codes.Unauthenticated:
		return errors.New("not authenticated")
	case codes.Aborted:
		return errors.New("cancelled")
	case codes.ResourceExhausted:
		return errors.New("rate limited, try again later")
	case codes.InvalidArgument, codes.FailedPrecondition:
		return fmt.Errorf("%s", st.Message())
	case codes.Unavailable:
		return errors.New("server unavailable")
	default:
		return fmt.Errorf("%s", st.Message())
	}
}
