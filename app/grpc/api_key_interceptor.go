package grpc

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/vibast-solutions/ms-go-stats-gateway/app/dto"
	"github.com/vibast-solutions/ms-go-stats-gateway/app/entity"
	"github.com/vibast-solutions/ms-go-stats-gateway/app/metrics"
	"github.com/vibast-solutions/ms-go-stats-gateway/app/service"
)

const (
	metadataAPIKey     = "x-api-key"
	metadataRetryAfter = "retry-after"
	metadataDegraded   = "x-ratelimit-degraded"
	metadataWindow     = "x-ratelimit-window"
	metadataLimit      = "x-ratelimit-limit"
	metadataCount      = "x-ratelimit-count"
	metadataRequestID  = "x-request-id"
	usageMethod        = "GRPC"
	healthServicePath  = "/grpc.health.v1.Health/"
)

type identityKey struct{}

func IdentityFromContext(ctx context.Context) (*dto.Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*dto.Identity)
	return identity, ok && identity != nil
}

// Guard applies credential resolution and admission to gRPC calls and
// records one usage entry per call. The standard health service is exempt.
type Guard struct {
	resolver service.IdentityResolver
	limiter  service.RateLimiter
	recorder service.UsageRecorder
	now      func() time.Time
}

// NewGuard builds the interceptors. recorder may be nil.
func NewGuard(resolver service.IdentityResolver, limiter service.RateLimiter, recorder service.UsageRecorder) *Guard {
	return &Guard{resolver: resolver, limiter: limiter, recorder: recorder, now: time.Now}
}

// admission is what the guard learned about a call before the handler ran.
type admission struct {
	identity    *dto.Identity
	decision    *service.Decision
	authFailure string
	trailer     metadata.MD
}

func (g *Guard) UnaryInterceptor() gogrpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *gogrpc.UnaryServerInfo, handler gogrpc.UnaryHandler) (any, error) {
		if isExempt(info.FullMethod) {
			return handler(ctx, req)
		}

		start := g.now()
		adm, err := g.admit(ctx, info.FullMethod)
		if adm.trailer != nil {
			_ = gogrpc.SetTrailer(ctx, adm.trailer)
		}

		var resp any
		if err == nil {
			resp, err = handler(context.WithValue(ctx, identityKey{}, adm.identity), req)
		}
		g.record(ctx, info.FullMethod, start, adm, err)
		return resp, err
	}
}

func (g *Guard) StreamInterceptor() gogrpc.StreamServerInterceptor {
	return func(srv any, ss gogrpc.ServerStream, info *gogrpc.StreamServerInfo, handler gogrpc.StreamHandler) error {
		if isExempt(info.FullMethod) {
			return handler(srv, ss)
		}

		start := g.now()
		adm, err := g.admit(ss.Context(), info.FullMethod)
		if adm.trailer != nil {
			ss.SetTrailer(adm.trailer)
		}

		if err == nil {
			ctx := context.WithValue(ss.Context(), identityKey{}, adm.identity)
			err = handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
		}
		g.record(ss.Context(), info.FullMethod, start, adm, err)
		return err
	}
}

// admit never returns a nil admission.
func (g *Guard) admit(ctx context.Context, method string) (*admission, error) {
	adm := &admission{}

	candidate := incomingAPIKeyFromMetadata(ctx)
	if candidate == "" {
		adm.authFailure = service.AuthFailureReason(service.ErrInvalidFormat)
		return adm, unauthenticated(method, service.ErrInvalidFormat)
	}

	identity, err := g.resolver.Resolve(ctx, candidate)
	if err != nil {
		adm.authFailure = service.AuthFailureReason(err)
		if service.IsAuthError(err) {
			return adm, unauthenticated(method, err)
		}
		logrus.WithError(err).WithField("method", method).Error("API key resolution failed (grpc)")
		return adm, status.Error(codes.Internal, "internal server error")
	}
	adm.identity = identity

	decision := g.limiter.CheckAndAdmit(ctx, identity, g.now())
	adm.decision = &decision
	switch decision.Outcome {
	case service.OutcomeQuotaExceeded:
		adm.trailer = metadata.Pairs(
			metadataRetryAfter, strconv.FormatInt(decision.RetryAfter, 10),
			metadataWindow, decision.Window,
			metadataLimit, strconv.FormatInt(decision.Limit, 10),
			metadataCount, strconv.FormatInt(decision.Count, 10),
		)
		return adm, status.Errorf(codes.ResourceExhausted, "rate limit exceeded for %s window: %d of %d, retry after %ds",
			decision.Window, decision.Count, decision.Limit, decision.RetryAfter)
	case service.OutcomeUnavailable:
		return adm, status.Error(codes.Unavailable, "rate limit service unavailable")
	}

	if decision.Degraded {
		adm.trailer = metadata.Pairs(metadataDegraded, "true")
	}
	return adm, nil
}

// record stores the gRPC status code in the status column and "GRPC" as the
// method.
func (g *Guard) record(ctx context.Context, method string, start time.Time, adm *admission, err error) {
	if g.recorder == nil {
		return
	}

	rec := entity.UsageRecord{
		Endpoint:     method,
		HTTPMethod:   usageMethod,
		StatusCode:   int(status.Code(err)),
		ResponseTime: g.now().Sub(start),
		UserAgent:    firstMetadataValue(ctx, "user-agent"),
		RequestID:    firstMetadataValue(ctx, metadataRequestID),
		CreatedAt:    start,
	}
	if rec.RequestID == "" {
		rec.RequestID = uuid.NewString()
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		rec.IPAddress = p.Addr.String()
	}
	if adm.identity != nil {
		rec.UserID = sql.NullInt64{Int64: int64(adm.identity.PrincipalID), Valid: true}
		rec.APIKeyID = sql.NullInt64{Int64: int64(adm.identity.CredentialID), Valid: true}
		rec.RateLimitPlan = sql.NullString{String: adm.identity.PlanName(), Valid: true}
	}
	if adm.decision != nil {
		rec.RateLimited = adm.decision.Outcome == service.OutcomeQuotaExceeded
		rec.Degraded = adm.decision.Degraded
	}
	if adm.authFailure != "" {
		rec.AuthFailure = sql.NullString{String: adm.authFailure, Valid: true}
	}

	g.recorder.Record(rec)
}

func unauthenticated(method string, err error) error {
	reason := service.AuthFailureReason(err)
	metrics.AuthFailuresTotal.WithLabelValues(reason).Inc()

	entry := logrus.WithFields(logrus.Fields{"reason": reason, "method": method})
	if errors.Is(err, service.ErrNoEntitlement) {
		entry.Error("Authenticated principal has no usable entitlement (grpc)")
	} else {
		entry.Debug("API key rejected (grpc)")
	}
	return status.Error(codes.Unauthenticated, "unauthorized")
}

func isExempt(fullMethod string) bool {
	return strings.HasPrefix(fullMethod, healthServicePath)
}

func incomingAPIKeyFromMetadata(ctx context.Context) string {
	return strings.TrimSpace(firstMetadataValue(ctx, metadataAPIKey))
}

func firstMetadataValue(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

type wrappedServerStream struct {
	gogrpc.ServerStream
	ctx context.Context
}

func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
