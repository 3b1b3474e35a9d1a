package grpcserver

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/appstore/internal/auth"
	"github.com/and161185/appstore/internal/limiter"
)

// AuthUnary verifies the bearer token of every admin call and stores the principal in the context.
// Health checks pass unauthenticated. With a non-nil lim, peers that keep presenting bad tokens
// are refused with ResourceExhausted until their block ends; limiter errors fail open.
func AuthUnary(v *auth.Verifier, lim limiter.Limiter, log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, "/grpc.health.") {
			return next(ctx, req)
		}
		key := limiter.HashPeer(remoteAddr(ctx))
		if lim != nil {
			ok, wait, err := lim.Allow(ctx, key)
			if err != nil {
				log.Warn("auth limiter", zap.Error(err))
			} else if !ok {
				return nil, status.Errorf(codes.ResourceExhausted, "too many failed attempts, retry in %s", wait.Round(time.Second))
			}
		}

		p, err := verify(ctx, v)
		if err != nil {
			if lim != nil {
				blocked, _, lerr := lim.Failure(ctx, key)
				switch {
				case lerr != nil:
					log.Warn("auth limiter", zap.Error(lerr))
				case blocked:
					log.Warn("peer blocked after failed authentication", zap.String("peer", remoteAddr(ctx)))
				}
			}
			return nil, err
		}
		if lim != nil {
			if err := lim.Success(ctx, key); err != nil {
				log.Warn("auth limiter", zap.Error(err))
			}
		}
		return next(auth.WithPrincipal(ctx, p), req)
	}
}

func verify(ctx context.Context, v *auth.Verifier) (auth.Principal, error) {
	tok, err := bearerTokenFromMD(ctx)
	if err != nil {
		return auth.Principal{}, status.Error(codes.Unauthenticated, "no auth")
	}
	p, err := v.Verify(tok)
	if err != nil {
		return auth.Principal{}, status.Error(codes.Unauthenticated, "invalid token")
	}
	return p, nil
}

func remoteAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}

func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("no metadata")
	}
	for _, v := range md.Get("authorization") {
		if t, ok := auth.BearerToken(v); ok {
			return t, nil
		}
	}
	return "", errors.New("no bearer token")
}
