package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/spf13/pflag"

	"github.com/and161185/appstore/internal/appkg"
	"github.com/and161185/appstore/internal/auth"
	grpcserver "github.com/and161185/appstore/internal/server/grpc"
	"github.com/and161185/appstore/internal/signer"
)

func newFlags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func needArgs(fs *pflag.FlagSet, n int, what string) error {
	if fs.NArg() != n {
		return fmt.Errorf("%s: expected %s", fs.Name(), what)
	}
	return nil
}

func cmdKeygen(args []string, stdout io.Writer) error {
	fs := newFlags("keygen")
	out := fs.String("out", "", "seed file to create")
	scheme := fs.String("scheme", signer.DefaultScheme, "signature scheme")
	passEnv := fs.String("passphrase-env", "", "seal the seed with the passphrase held in this variable")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" {
		return errors.New("keygen: --out is required")
	}
	var passphrase []byte
	if *passEnv != "" {
		if passphrase = []byte(os.Getenv(*passEnv)); len(passphrase) == 0 {
			return fmt.Errorf("keygen: $%s is empty", *passEnv)
		}
	}
	seed, err := signer.GenerateSeed(*scheme)
	if err != nil {
		return err
	}
	key, err := signer.NewKey(*scheme, seed)
	if err != nil {
		return err
	}
	pub, err := key.PublicKeyBase64()
	if err != nil {
		return err
	}
	encoded := signer.EncodeSeed(seed)
	if passphrase != nil {
		if encoded, err = signer.EncodeSealedSeed(seed, passphrase); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(*out, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(encoded); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	printJSON(stdout, map[string]any{"scheme": key.Algorithm(), "publicKey": pub, "seedFile": *out, "sealed": passphrase != nil})
	return nil
}

func cmdToken(args []string, stdout io.Writer) error {
	fs := newFlags("token")
	key := fs.String("key", os.Getenv("APPSTORE_JWT_KEY"), "HS256 key (default $APPSTORE_JWT_KEY)")
	sub := fs.String("sub", "", "subject uuid (random when empty)")
	perms := fs.StringSlice("perm", []string{auth.PermSubmit, auth.PermCategoryChange, auth.PermReap}, "granted permission")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *key == "" {
		return errors.New("token: --key is required")
	}
	id := uuid.Must(uuid.NewV4())
	if *sub != "" {
		var err error
		if id, err = uuid.FromString(*sub); err != nil {
			return fmt.Errorf("token: bad --sub: %w", err)
		}
	}
	tok, err := auth.Issue([]byte(*key), id, *perms, *ttl, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, tok)
	return nil
}

func cmdPack(args []string, stdout io.Writer) error {
	fs := newFlags("pack")
	out := fs.String("out", "", "package file to write")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := needArgs(fs, 1, "<dir>"); err != nil {
		return err
	}
	if *out == "" {
		return errors.New("pack: --out is required")
	}
	var buf bytes.Buffer
	digest, err := appkg.PackDir(&buf, fs.Arg(0))
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, buf.Bytes(), 0o644); err != nil {
		return err
	}
	printJSON(stdout, map[string]any{"file": *out, "digest": digest.String(), "size": buf.Len()})
	return nil
}

func cmdVerify(args []string, stdout io.Writer) error {
	fs := newFlags("verify")
	pubB64 := fs.String("pubkey", "", "store public key (base64)")
	scheme := fs.String("scheme", signer.DefaultScheme, "signature scheme")
	device := fs.String("device", "", "device id the copy was issued for")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := needArgs(fs, 1, "<file>"); err != nil {
		return err
	}
	pub, err := signer.ParsePublicKey(*scheme, *pubB64)
	if err != nil {
		return err
	}
	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	if err := signer.VerifyPackage(f, st.Size(), pub, *device); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "signature ok")
	return nil
}

func cmdSubmit(ctx context.Context, c *grpcserver.AdminClient, args []string, stdout io.Writer) error {
	fs := newFlags("submit")
	req := &grpcserver.SubmitPackageRequest{}
	fs.StringVar(&req.UpdateOf, "update-of", "", "id of the entry to update")
	fs.StringVar(&req.Vendor, "vendor", "", "vendor name")
	fs.Int64Var(&req.CategoryID, "category", 0, "category id")
	fs.BoolVar(&req.IsTopApp, "top", false, "list among top apps")
	fs.StringVar(&req.Description, "description", "", "description text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := needArgs(fs, 1, "<file>"); err != nil {
		return err
	}
	var err error
	if req.Package, err = os.ReadFile(fs.Arg(0)); err != nil {
		return err
	}
	out, err := c.SubmitPackage(ctx, req)
	if err != nil {
		return err
	}
	printJSON(stdout, out)
	return nil
}

func cmdRemove(ctx context.Context, c *grpcserver.AdminClient, args []string, stdout io.Writer) error {
	fs := newFlags("rm")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := needArgs(fs, 1, "<id>"); err != nil {
		return err
	}
	if _, err := c.RemoveApp(ctx, &grpcserver.RemoveAppRequest{ID: fs.Arg(0)}); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "removed", fs.Arg(0))
	return nil
}

func cmdCategory(ctx context.Context, c *grpcserver.AdminClient, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errors.New("category: expected add|up|down|ls")
	}
	switch sub, rest := args[0], args[1:]; sub {
	case "ls":
		out, err := c.ListCategories(ctx)
		if err != nil {
			return err
		}
		printJSON(stdout, out.Categories)
	case "add":
		if len(rest) != 1 {
			return errors.New("category add: expected <name>")
		}
		out, err := c.CreateCategory(ctx, &grpcserver.CreateCategoryRequest{Name: rest[0]})
		if err != nil {
			return err
		}
		printJSON(stdout, out)
	case "up", "down":
		if len(rest) != 1 {
			return fmt.Errorf("category %s: expected <id>", sub)
		}
		id, err := strconv.ParseInt(rest[0], 10, 64)
		if err != nil {
			return fmt.Errorf("category %s: bad id: %w", sub, err)
		}
		out, err := c.MoveCategory(ctx, &grpcserver.MoveCategoryRequest{ID: id, Direction: sub})
		if err != nil {
			return err
		}
		printJSON(stdout, out)
	default:
		return fmt.Errorf("category: unknown subcommand %q", sub)
	}
	return nil
}

func cmdReap(ctx context.Context, c *grpcserver.AdminClient, stdout io.Writer) error {
	out, err := c.ReapExpired(ctx)
	if err != nil {
		return err
	}
	printJSON(stdout, out)
	return nil
}
