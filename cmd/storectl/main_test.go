package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"

	"github.com/and161185/appstore/internal/appkg"
	"github.com/and161185/appstore/internal/appkg/appkgtest"
	"github.com/and161185/appstore/internal/auth"
	grpcserver "github.com/and161185/appstore/internal/server/grpc"
	"github.com/and161185/appstore/internal/signer"
)

func runOK(t *testing.T, args ...string) string {
	t.Helper()
	var out, errOut bytes.Buffer
	if err := run(args, &out, &errOut); err != nil {
		t.Fatalf("storectl %v: %v (stderr=%s)", args, err, errOut.String())
	}
	return out.String()
}

func Test_version(t *testing.T) {
	if got := runOK(t, "version"); !strings.HasPrefix(got, "storectl dev") {
		t.Fatalf("version output: %q", got)
	}
}

func Test_usage(t *testing.T) {
	var out, errOut bytes.Buffer
	if err := run(nil, &out, &errOut); err != errUsage {
		t.Fatalf("want errUsage, got %v", err)
	}
	if err := run([]string{"bogus"}, &out, &errOut); err != errUsage {
		t.Fatalf("want errUsage, got %v", err)
	}
	if !strings.Contains(errOut.String(), "category  add <name>") {
		t.Fatalf("usage not printed: %s", errOut.String())
	}
}

func Test_token(t *testing.T) {
	sub := "6f1c1d4e-2b7a-4a43-9d49-0e1d2f3a4b5c"
	tok := strings.TrimSpace(runOK(t, "token", "--key", "k", "--sub", sub, "--perm", auth.PermReap))
	p, err := auth.NewVerifier([]byte("k")).Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.UserID.String() != sub || !p.Has(auth.PermReap) || p.Has(auth.PermSubmit) {
		t.Fatalf("unexpected principal: %+v", p)
	}

	var out, errOut bytes.Buffer
	t.Setenv("APPSTORE_JWT_KEY", "")
	if err := run([]string{"token"}, &out, &errOut); err == nil {
		t.Fatalf("want error without key")
	}
}

func Test_keygen_pack_verify(t *testing.T) {
	dir := t.TempDir()
	seedFile := filepath.Join(dir, "store.key")

	var kg struct{ Scheme, PublicKey string }
	if err := json.Unmarshal([]byte(runOK(t, "keygen", "--out", seedFile)), &kg); err != nil {
		t.Fatalf("keygen output: %v", err)
	}
	if kg.Scheme != signer.DefaultScheme || kg.PublicKey == "" {
		t.Fatalf("keygen: %+v", kg)
	}
	var out, errOut bytes.Buffer
	if err := run([]string{"keygen", "--out", seedFile}, &out, &errOut); err == nil {
		t.Fatalf("keygen must not overwrite an existing seed")
	}

	src := filepath.Join(dir, "src")
	if err := os.MkdirAll(src, 0o755); err != nil {
		t.Fatal(err)
	}
	manifest := "id: com.acme.app\nname: Acme\nversion: \"1.0\"\narchitecture: arm64\nicon: icon.png\n"
	if err := os.WriteFile(filepath.Join(src, appkg.ManifestName), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "icon.png"), appkgtest.PNG(t), 0o644); err != nil {
		t.Fatal(err)
	}
	pkgFile := filepath.Join(dir, "app.appkg")
	runOK(t, "pack", "--out", pkgFile, src)

	key, err := signer.LoadKey(signer.DefaultScheme, seedFile, nil)
	if err != nil {
		t.Fatalf("load key: %v", err)
	}
	raw, err := os.ReadFile(pkgFile)
	if err != nil {
		t.Fatal(err)
	}
	pkg, err := appkg.Parse(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	digest := pkg.Metadata().ContentDigest
	signed := filepath.Join(dir, "signed.appkg")
	if err := signer.New(key).Sign(pkgFile, signed, digest[:], "dev-1"); err != nil {
		t.Fatalf("sign: %v", err)
	}

	if got := runOK(t, "verify", "--pubkey", kg.PublicKey, "--device", "dev-1", signed); !strings.Contains(got, "signature ok") {
		t.Fatalf("verify output: %q", got)
	}
	if err := run([]string{"verify", "--pubkey", kg.PublicKey, "--device", "dev-2", signed}, &out, &errOut); err == nil {
		t.Fatalf("verify must fail for another device")
	}
	if err := run([]string{"verify", "--pubkey", kg.PublicKey, pkgFile}, &out, &errOut); err == nil {
		t.Fatalf("verify must fail for an unsigned package")
	}
}

// fakeAdmin records calls and checks that the bearer token arrives.
type fakeAdmin struct {
	t         *testing.T
	submitted *grpcserver.SubmitPackageRequest
	moved     *grpcserver.MoveCategoryRequest
	removed   string
}

func (f *fakeAdmin) checkToken(ctx context.Context) {
	md, _ := metadata.FromIncomingContext(ctx)
	if got := md.Get("authorization"); len(got) != 1 || got[0] != "Bearer tkn" {
		f.t.Errorf("authorization metadata: %v", got)
	}
}

func (f *fakeAdmin) SubmitPackage(ctx context.Context, r *grpcserver.SubmitPackageRequest) (*grpcserver.AppReply, error) {
	f.checkToken(ctx)
	f.submitted = r
	return &grpcserver.AppReply{ID: "id-1", AppID: "com.acme.app"}, nil
}

func (f *fakeAdmin) RemoveApp(ctx context.Context, r *grpcserver.RemoveAppRequest) (*grpcserver.Empty, error) {
	f.checkToken(ctx)
	f.removed = r.ID
	return &grpcserver.Empty{}, nil
}

func (f *fakeAdmin) CreateCategory(_ context.Context, r *grpcserver.CreateCategoryRequest) (*grpcserver.CategoryReply, error) {
	return &grpcserver.CategoryReply{ID: 1, Name: r.Name}, nil
}

func (f *fakeAdmin) MoveCategory(_ context.Context, r *grpcserver.MoveCategoryRequest) (*grpcserver.MoveCategoryReply, error) {
	f.moved = r
	return &grpcserver.MoveCategoryReply{Moved: true}, nil
}

func (f *fakeAdmin) ListCategories(context.Context, *grpcserver.Empty) (*grpcserver.ListCategoriesReply, error) {
	return &grpcserver.ListCategoriesReply{Categories: []grpcserver.CategoryReply{{ID: 1, Name: "Games"}}}, nil
}

func (f *fakeAdmin) ReapExpired(context.Context, *grpcserver.Empty) (*grpcserver.ReapExpiredReply, error) {
	return &grpcserver.ReapExpiredReply{Removed: 2}, nil
}

func withFakeServer(t *testing.T) *fakeAdmin {
	t.Helper()
	fa := &fakeAdmin{t: t}
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	grpcserver.RegisterAdminServer(gs, fa)
	go func() { _ = gs.Serve(lis) }()

	orig := dial
	dial = func(g globals) (*grpc.ClientConn, error) {
		return grpc.NewClient("passthrough:///bufnet",
			grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithPerRPCCredentials(bearerCreds{token: g.token}))
	}
	t.Cleanup(func() { dial = orig; gs.Stop(); _ = lis.Close() })
	return fa
}

func Test_remoteCommands(t *testing.T) {
	fa := withFakeServer(t)
	pkg := filepath.Join(t.TempDir(), "app.appkg")
	if err := os.WriteFile(pkg, []byte("package"), 0o644); err != nil {
		t.Fatal(err)
	}
	base := []string{"--token", "tkn", "--timeout", (10 * time.Second).String()}

	out := runOK(t, append(base, "submit", "--vendor", "Acme", "--category", "3", "--top", pkg)...)
	if !strings.Contains(out, `"app_id": "com.acme.app"`) {
		t.Fatalf("submit output: %s", out)
	}
	if string(fa.submitted.Package) != "package" || fa.submitted.CategoryID != 3 || !fa.submitted.IsTopApp {
		t.Fatalf("submit request: %+v", fa.submitted)
	}

	runOK(t, append(base, "rm", "id-1")...)
	if fa.removed != "id-1" {
		t.Fatalf("rm: %q", fa.removed)
	}

	runOK(t, append(base, "category", "down", "7")...)
	if fa.moved.ID != 7 || fa.moved.Direction != "down" {
		t.Fatalf("move request: %+v", fa.moved)
	}
	if out := runOK(t, append(base, "category", "ls")...); !strings.Contains(out, "Games") {
		t.Fatalf("ls output: %s", out)
	}
	if out := runOK(t, append(base, "reap")...); !strings.Contains(out, `"removed": 2`) {
		t.Fatalf("reap output: %s", out)
	}

	var o, e bytes.Buffer
	if err := run(append(base, "category", "up", "x"), &o, &e); err == nil {
		t.Fatalf("want error for bad id")
	}
}

func Test_keygen_sealed(t *testing.T) {
	seedFile := filepath.Join(t.TempDir(), "sealed.key")
	t.Setenv("STORE_PASS", "hunter2")
	out := runOK(t, "keygen", "--out", seedFile, "--passphrase-env", "STORE_PASS")
	if !strings.Contains(out, `"sealed": true`) {
		t.Fatalf("keygen output: %s", out)
	}
	if _, err := signer.LoadKey(signer.DefaultScheme, seedFile, nil); err == nil {
		t.Fatalf("sealed seed must not load without passphrase")
	}
	if _, err := signer.LoadKey(signer.DefaultScheme, seedFile, []byte("hunter2")); err != nil {
		t.Fatalf("load sealed: %v", err)
	}

	var o, e bytes.Buffer
	t.Setenv("EMPTY_PASS", "")
	if err := run([]string{"keygen", "--out", seedFile + "2", "--passphrase-env", "EMPTY_PASS"}, &o, &e); err == nil {
		t.Fatalf("want error for empty passphrase variable")
	}
}
