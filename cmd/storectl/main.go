// Command storectl administers an app store: it builds and verifies packages, mints admin
// tokens and drives the admin gRPC API.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	grpcserver "github.com/and161185/appstore/internal/server/grpc"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// TokenEnv supplies the bearer token when --token is not given.
const TokenEnv = "APPSTORE_TOKEN"

var errUsage = errors.New("usage")

type globals struct {
	addr      string
	caPath    string
	insecure  bool
	plaintext bool
	token     string
	timeout   time.Duration
}

func usage(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintf(w, `storectl - app store administration

Usage:
  storectl [global flags] <command> [flags] [args]

Commands:
  version
  keygen    --out <file> [--scheme Ed25519] [--passphrase-env VAR]   generate a signing seed
  token     --key <jwt key> [--sub <uuid>] [--perm p]... [--ttl 24h]
  pack      --out <file.appkg> <dir>                 build a package from a directory
  verify    --pubkey <b64> [--device <id>] <file>    check a store signature
  submit    [--update-of <id>] [--vendor v] [--category n] [--top] [--description d] <file>
  rm        <id>
  category  add <name> | up <id> | down <id> | ls
  reap                                              remove expired downloads now

Global flags:
%s`, fs.FlagUsages())
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fail(err)
		}
		os.Exit(2)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	var g globals
	fs := pflag.NewFlagSet("storectl", pflag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.SetOutput(stderr)
	fs.StringVar(&g.addr, "addr", "localhost:8443", "admin gRPC address")
	fs.StringVar(&g.caPath, "cacert", "", "CA certificate (PEM)")
	fs.BoolVar(&g.insecure, "insecure", false, "skip certificate verification (dev)")
	fs.BoolVar(&g.plaintext, "plaintext", false, "connect without TLS")
	fs.StringVar(&g.token, "token", os.Getenv(TokenEnv), "bearer token (default $"+TokenEnv+")")
	fs.DurationVar(&g.timeout, "timeout", 2*time.Minute, "overall command timeout")
	fs.Usage = func() { usage(stderr, fs) }
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return errUsage
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return errUsage
	}
	cmd, rest := fs.Arg(0), fs.Args()[1:]

	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	switch cmd {
	case "version":
		fmt.Fprintf(stdout, "storectl %s (%s)\n", version, buildDate)
		return nil
	case "keygen":
		return cmdKeygen(rest, stdout)
	case "token":
		return cmdToken(rest, stdout)
	case "pack":
		return cmdPack(rest, stdout)
	case "verify":
		return cmdVerify(rest, stdout)
	case "submit":
		return withAdmin(g, func(c *grpcserver.AdminClient) error { return cmdSubmit(ctx, c, rest, stdout) })
	case "rm":
		return withAdmin(g, func(c *grpcserver.AdminClient) error { return cmdRemove(ctx, c, rest, stdout) })
	case "category":
		return withAdmin(g, func(c *grpcserver.AdminClient) error { return cmdCategory(ctx, c, rest, stdout) })
	case "reap":
		return withAdmin(g, func(c *grpcserver.AdminClient) error { return cmdReap(ctx, c, stdout) })
	default:
		fs.Usage()
		return errUsage
	}
}

// ---- grpc dial ----

type bearerCreds struct {
	token  string
	secure bool
}

func (b bearerCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}
func (b bearerCreds) RequireTransportSecurity() bool { return b.secure }

func loadTLS(caPath string, skipVerify bool) (credentials.TransportCredentials, error) {
	if skipVerify {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

// dial is replaced in tests.
var dial = func(g globals) (*grpc.ClientConn, error) {
	creds := insecure.NewCredentials()
	if !g.plaintext {
		var err error
		if creds, err = loadTLS(g.caPath, g.insecure); err != nil {
			return nil, err
		}
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if g.token != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(bearerCreds{token: g.token, secure: !g.plaintext}))
	}
	return grpc.NewClient(g.addr, opts...)
}

func withAdmin(g globals, fn func(*grpcserver.AdminClient) error) error {
	cc, err := dial(g)
	if err != nil {
		return err
	}
	defer cc.Close()
	return fn(grpcserver.NewAdminClient(cc))
}

// ---- utils ----

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fail(err error) {
	if s, ok := status.FromError(err); ok {
		fmt.Fprintf(os.Stderr, "rpc error: code=%s msg=%s\n", s.Code(), s.Message())
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
