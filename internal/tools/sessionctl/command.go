package sessionctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/idp-session-core/internal/config"
	"github.com/sandeepkv93/idp-session-core/internal/di"
	"github.com/sandeepkv93/idp-session-core/internal/domain"
	"github.com/sandeepkv93/idp-session-core/internal/observability"
	"github.com/sandeepkv93/idp-session-core/internal/repository"
	"github.com/sandeepkv93/idp-session-core/internal/service"
	"github.com/sandeepkv93/idp-session-core/internal/tools/common"
	"github.com/sandeepkv93/idp-session-core/internal/tools/loadgen"
	"github.com/sandeepkv93/idp-session-core/internal/tools/ui"
)

type options struct {
	envFile string
	ci      bool
	timeout time.Duration
}

var exitFunc = os.Exit

// operatorFactory is swapped in tests to avoid a real database.
var operatorFactory = func(opts *options) (*di.Operator, func(), error) {
	if err := common.LoadEnvFile(opts.envFile); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return di.InitializeOperator(cfg)
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{Use: "sessionctl", Short: "Inspect and revoke user sessions", SilenceUsage: true}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "optional KEY=VALUE file loaded before config")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", time.Minute, "operation timeout")
	cmd.AddCommand(
		newListCommand(opts),
		newRevokeChainCommand(opts),
		newRevokeAllCommand(opts),
		newAuditCommand(opts),
		newClassifyCommand(opts),
		newLoadgenCommand(opts),
	)
	return cmd
}

func newListCommand(opts *options) *cobra.Command {
	var user string
	var local bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's sessions with client and expiry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "sessionctl list", func(ctx context.Context, op *di.Operator) ([]string, error) {
				if local {
					return listLocalChains(ctx, op, user)
				}
				views, err := op.Sessions.ListSessions(ctx, user)
				if err != nil {
					return nil, err
				}
				details := []string{fmt.Sprintf("user=%s sessions=%d", user, len(views))}
				for _, v := range views {
					details = append(details, formatSessionView(v))
				}
				return details, nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "subject identifier")
	cmd.Flags().BoolVar(&local, "local", false, "show refresh chain state from the session table instead of the authorization store")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func listLocalChains(ctx context.Context, op *di.Operator, user string) ([]string, error) {
	if op.UserSessions == nil {
		return nil, errors.New("session repository is not configured")
	}
	chains, err := op.UserSessions.ListByUserID(ctx, user)
	if err != nil {
		return nil, err
	}
	details := []string{fmt.Sprintf("user=%s chains=%d", user, len(chains))}
	for _, c := range chains {
		details = append(details, formatChain(c))
	}
	return details, nil
}

func newRevokeChainCommand(opts *options) *cobra.Command {
	var user, authorizationID, reason string
	cmd := &cobra.Command{
		Use:   "revoke-chain",
		Short: "Tombstone a session chain and revoke its authorization and tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "sessionctl revoke-chain", func(ctx context.Context, op *di.Operator) ([]string, error) {
				res, err := op.Chains.RevokeChain(ctx, user, authorizationID, reason)
				if err != nil {
					return nil, err
				}
				if res == nil {
					return nil, fmt.Errorf("no session for user=%s authorization=%s", user, authorizationID)
				}
				return []string{fmt.Sprintf("authorization=%s tokens_revoked=%d already_revoked=%t",
					res.AuthorizationID, res.TokensRevoked, res.AlreadyRevoked)}, nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "subject identifier")
	cmd.Flags().StringVar(&authorizationID, "authorization", "", "authorization identifier")
	cmd.Flags().StringVar(&reason, "reason", service.DefaultChainRevocationReason, "revocation reason recorded on the session")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("authorization")
	return cmd
}

func newRevokeAllCommand(opts *options) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "revoke-all",
		Short: "Revoke every authorization a user holds",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "sessionctl revoke-all", func(ctx context.Context, op *di.Operator) ([]string, error) {
				n, err := op.Sessions.RevokeAllSessions(ctx, user)
				if err != nil {
					return nil, err
				}
				return []string{fmt.Sprintf("user=%s revoked=%d", user, n)}, nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "subject identifier")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newAuditCommand(opts *options) *cobra.Command {
	var query repository.AuditLogQuery
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Page through persisted audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "sessionctl audit", func(ctx context.Context, op *di.Operator) ([]string, error) {
				page, err := op.Audit.ListPaged(ctx, query)
				if err != nil {
					return nil, err
				}
				details := []string{fmt.Sprintf("page=%d/%d total=%d", page.Page, page.TotalPages, page.Total)}
				for _, e := range page.Items {
					details = append(details, formatAuditLog(e))
				}
				return details, nil
			})
		},
	}
	cmd.Flags().StringVar(&query.UserID, "user", "", "filter by subject")
	cmd.Flags().StringVar(&query.EventType, "event", "", "filter by event type")
	cmd.Flags().IntVar(&query.Page, "page", repository.DefaultPage, "page number")
	cmd.Flags().IntVar(&query.PageSize, "page-size", repository.DefaultPageSize, "page size")
	return cmd
}

func newClassifyCommand(opts *options) *cobra.Command {
	var requested, available, granted string
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Preview how a consent decision classifies requested scopes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts, "sessionctl classify", func(ctx context.Context) ([]string, error) {
				summaries, err := parseAvailable(available)
				if err != nil {
					return nil, err
				}
				res := service.ClassifyScopes(service.SplitScopes(requested), summaries, service.SplitScopes(granted))
				observability.RecordScopeClassification(ctx, res.IsPartialGrant)
				return []string{
					"allowed=" + strings.Join(res.Allowed, " "),
					"required=" + strings.Join(res.Required, " "),
					"rejected=" + strings.Join(res.Rejected, " "),
					fmt.Sprintf("partial=%t", res.IsPartialGrant),
				}, nil
			})
		},
	}
	cmd.Flags().StringVar(&requested, "scope", "", "space-delimited requested scopes")
	cmd.Flags().StringVar(&available, "available", "", "comma-separated client scopes; suffix :required for mandatory ones")
	cmd.Flags().StringVar(&granted, "granted", "", "space-delimited scopes the user consented to")
	return cmd
}

func newLoadgenCommand(opts *options) *cobra.Command {
	cfg := loadgen.Config{}
	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Drive refresh and listing traffic against a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts, "sessionctl loadgen", func(ctx context.Context) ([]string, error) {
				res, err := loadgen.Run(ctx, cfg)
				if err != nil {
					return nil, err
				}
				details := []string{fmt.Sprintf("total=%d failures=%d", res.TotalRequests, res.Failures)}
				for _, class := range []string{"2xx", "3xx", "4xx", "5xx", "other"} {
					if n := res.StatusClasses[class]; n > 0 {
						details = append(details, fmt.Sprintf("%s=%d", class, n))
					}
				}
				return details, nil
			})
		},
	}
	cmd.Flags().StringVar(&cfg.BaseURL, "base-url", "http://localhost:8080", "API base URL")
	cmd.Flags().StringVar(&cfg.Profile, "profile", "mixed", "traffic profile: refresh, sessions or mixed")
	cmd.Flags().DurationVar(&cfg.Duration, "duration", 10*time.Second, "how long to send traffic")
	cmd.Flags().IntVar(&cfg.RPS, "rps", 20, "requests per second")
	cmd.Flags().IntVar(&cfg.Concurrency, "concurrency", 4, "worker count")
	cmd.Flags().Int64Var(&cfg.Seed, "seed", 42, "route selection seed")
	cmd.Flags().StringVar(&cfg.Subject, "subject", "loadgen-user", "subject sent in the trusted header")
	cmd.Flags().StringVar(&cfg.AuthorizationID, "authorization", "", "authorization id for refresh traffic")
	cmd.Flags().StringVar(&cfg.RefreshToken, "refresh-token", "", "refresh token replayed by refresh traffic")
	return cmd
}

func execute(opts *options, title string, fn func(context.Context, *di.Operator) ([]string, error)) error {
	op, cleanup, err := operatorFactory(opts)
	if err != nil {
		return finish(opts, title, nil, fmt.Errorf("initialize: %w", err))
	}
	defer cleanup()
	defer op.Close()
	return run(opts, title, func(ctx context.Context) ([]string, error) {
		return fn(ctx, op)
	})
}

func run(opts *options, title string, fn func(context.Context) ([]string, error)) error {
	var (
		details []string
		err     error
	)
	if opts.ci {
		ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
		defer cancel()
		details, err = fn(ctx)
	} else {
		details, err = ui.Run(title, func(ctx context.Context) ([]string, error) {
			ctx, cancel := context.WithTimeout(ctx, opts.timeout)
			defer cancel()
			return fn(ctx)
		})
	}
	return finish(opts, title, details, err)
}

func finish(opts *options, title string, details []string, err error) error {
	if opts.ci {
		common.PrintCIResult(err == nil, title, details, err)
		if err != nil {
			exitFunc(4)
		}
		return nil
	}
	return err
}

func parseAvailable(raw string) ([]domain.ScopeSummary, error) {
	var out []domain.ScopeSummary
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, flag, hasFlag := strings.Cut(item, ":")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, errors.New("scope name must not be empty")
		}
		if hasFlag && strings.TrimSpace(flag) != "required" {
			return nil, fmt.Errorf("unknown scope flag %q for %s", flag, name)
		}
		out = append(out, domain.ScopeSummary{Name: name, IsRequired: hasFlag})
	}
	return out, nil
}

func formatSessionView(v service.SessionView) string {
	client := "-"
	if v.ClientID != nil {
		client = *v.ClientID
	}
	expires := "-"
	if v.ExpiresAt != nil {
		expires = v.ExpiresAt.Format(time.RFC3339)
	}
	return fmt.Sprintf("%s client=%s status=%s expires=%s", v.AuthorizationID, client, v.Status, expires)
}

func formatChain(s domain.UserSession) string {
	state := "live"
	if s.RevokedUTC != nil {
		reason := "-"
		if s.RevokedReason != nil {
			reason = *s.RevokedReason
		}
		state = fmt.Sprintf("revoked=%s reason=%s", s.RevokedUTC.Format(time.RFC3339), reason)
	}
	line := fmt.Sprintf("%s %s sliding=%s absolute=%s extensions=%d",
		s.AuthorizationID, state, s.SlidingExpiresUTC.Format(time.RFC3339), s.AbsoluteExpiresUTC.Format(time.RFC3339), s.SlidingExtensionCount)
	if s.ReuseDetectedUTC != nil {
		line += " reuse_detected=" + s.ReuseDetectedUTC.Format(time.RFC3339)
	}
	return line
}

func formatAuditLog(e domain.AuditLog) string {
	user := "-"
	if e.UserID != nil {
		user = *e.UserID
	}
	return fmt.Sprintf("%s %s user=%s", e.CreatedAt.Format(time.RFC3339), e.EventType, user)
}
